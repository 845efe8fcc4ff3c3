package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pos-sync-service/internal/cache"
)

const verificationCodeDigits = 6

// VerificationService issues and checks short-lived phone verification codes
type VerificationService struct {
	store       cache.CodeStore
	ttl         time.Duration
	maxAttempts int
	logger      *logrus.Entry
}

// NewVerificationService creates a new verification service
func NewVerificationService(store cache.CodeStore, ttl time.Duration, maxAttempts int, logger *logrus.Logger) *VerificationService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &VerificationService{
		store:       store,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		logger:      logger.WithField("component", "verification"),
	}
}

// Issue generates a new code for phone, replacing any previous one
func (s *VerificationService) Issue(ctx context.Context, phone string) (string, error) {
	phone = normalizePhone(phone)
	if phone == "" {
		return "", fmt.Errorf("phone is required")
	}

	code, err := generateCode(verificationCodeDigits)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	if err := s.store.Set(ctx, codeKey(phone), code, s.ttl); err != nil {
		return "", fmt.Errorf("failed to store code: %w", err)
	}
	if err := s.store.Delete(ctx, attemptsKey(phone)); err != nil {
		return "", fmt.Errorf("failed to reset attempts: %w", err)
	}

	s.logger.WithField("phone_suffix", phoneSuffix(phone)).Info("Verification code issued")
	return code, nil
}

// Verify checks a code. A matching code is consumed; once the attempt limit
// is reached the code is discarded.
func (s *VerificationService) Verify(ctx context.Context, phone, code string) error {
	phone = normalizePhone(phone)

	stored, err := s.store.Get(ctx, codeKey(phone))
	if errors.Is(err, cache.ErrMiss) {
		return ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("failed to read code: %w", err)
	}

	attempts, err := s.store.Incr(ctx, attemptsKey(phone), s.ttl)
	if err != nil {
		return fmt.Errorf("failed to count attempts: %w", err)
	}
	if attempts > int64(s.maxAttempts) {
		_ = s.store.Delete(ctx, codeKey(phone))
		return ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(code))) != 1 {
		return ErrInvalidCode
	}

	_ = s.store.Delete(ctx, codeKey(phone))
	_ = s.store.Delete(ctx, attemptsKey(phone))
	return nil
}

func codeKey(phone string) string     { return "code:" + phone }
func attemptsKey(phone string) string { return "attempts:" + phone }

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || (r == '+' && b.Len() == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func phoneSuffix(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return phone[len(phone)-4:]
}

func generateCode(digits int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
