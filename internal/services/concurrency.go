package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"pos-sync-service/internal/models"
)

// RunGuard serializes sync runs that write the same tables
type RunGuard interface {
	// TryAcquire takes the guard for key without blocking. ok is false when
	// another run holds it. release must be called once the run ends.
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

const (
	guardKeyCatalog   = "catalog"
	guardKeyInventory = "inventory"
)

// GuardKeyFor groups sync kinds by the tables they write
func GuardKeyFor(kind models.SyncKind) string {
	switch kind {
	case models.SyncKindInventory, models.SyncKindQuickInventory:
		return guardKeyInventory
	default:
		return guardKeyCatalog
	}
}

// LocalRunGuard is an in-process guard for single-instance deployments
type LocalRunGuard struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalRunGuard creates a new in-process guard
func NewLocalRunGuard() *LocalRunGuard {
	return &LocalRunGuard{slots: make(map[string]chan struct{})}
}

func (g *LocalRunGuard) slot(key string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sem, exists := g.slots[key]; exists {
		return sem
	}
	sem := make(chan struct{}, 1)
	g.slots[key] = sem
	return sem
}

// TryAcquire attempts to take the slot for key without blocking
func (g *LocalRunGuard) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	sem := g.slot(key)
	select {
	case sem <- struct{}{}:
	default:
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-sem })
	}, true, nil
}

// Active returns the keys currently held
func (g *LocalRunGuard) Active() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var keys []string
	for key, sem := range g.slots {
		if len(sem) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// RedisRunGuard coordinates runs across instances with a Redis lock. The lock
// is refreshed while held so long syncs do not lose it.
type RedisRunGuard struct {
	locker *redislock.Client
	ttl    time.Duration
	prefix string
	logger *logrus.Entry
}

// NewRedisRunGuard creates a guard backed by redislock
func NewRedisRunGuard(locker *redislock.Client, ttl time.Duration, logger *logrus.Logger) *RedisRunGuard {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisRunGuard{
		locker: locker,
		ttl:    ttl,
		prefix: "pos-sync:lock:",
		logger: logger.WithField("component", "run_guard"),
	}
}

// TryAcquire obtains the lock for key without retrying
func (g *RedisRunGuard) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	lock, err := g.locker.Obtain(ctx, g.prefix+key, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to obtain sync lock %s: %w", key, err)
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(g.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lock.Refresh(context.Background(), g.ttl, nil); err != nil {
					g.logger.WithError(err).WithField("key", key).Warn("Failed to refresh sync lock")
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				g.logger.WithError(err).WithField("key", key).Warn("Failed to release sync lock")
			}
		})
	}, true, nil
}
