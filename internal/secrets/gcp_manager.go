package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// POSSecret is the POS access secret. The stored payload is either this
// JSON document or the bare token.
type POSSecret struct {
	Token        string `json:"token"`
	BaseURL      string `json:"base_url,omitempty"`
	ImageBaseURL string `json:"image_base_url,omitempty"`
}

// cacheEntry represents a cached secret with expiration
type cacheEntry struct {
	secret    *POSSecret
	expiresAt time.Time
}

type accessFunc func(ctx context.Context, name string) ([]byte, error)

// GCPSecretManager reads POS secrets from Google Cloud Secret Manager
type GCPSecretManager struct {
	client    *secretmanager.Client
	access    accessFunc
	projectID string
	cache     map[string]*cacheEntry
	cacheMu   sync.RWMutex
	cacheTTL  time.Duration
	now       func() time.Time
}

// NewGCPSecretManager creates a new GCP Secret Manager client
func NewGCPSecretManager(ctx context.Context, projectID string) (*GCPSecretManager, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	sm := newManager(projectID, func(ctx context.Context, name string) ([]byte, error) {
		result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		if err != nil {
			return nil, err
		}
		return result.Payload.Data, nil
	})
	sm.client = client
	return sm, nil
}

func newManager(projectID string, access accessFunc) *GCPSecretManager {
	return &GCPSecretManager{
		access:    access,
		projectID: projectID,
		cache:     make(map[string]*cacheEntry),
		cacheTTL:  5 * time.Minute,
		now:       time.Now,
	}
}

// Close closes the Secret Manager client
func (sm *GCPSecretManager) Close() error {
	if sm.client != nil {
		return sm.client.Close()
	}
	return nil
}

// BuildSecretName constructs the full resource name of a secret id.
// Names that are already fully qualified are returned unchanged.
func (sm *GCPSecretManager) BuildSecretName(secretID string) string {
	if strings.HasPrefix(secretID, "projects/") {
		return secretID
	}
	return fmt.Sprintf("projects/%s/secrets/%s", sm.projectID, sanitizeSecretID(secretID))
}

// GetPOSSecret retrieves the latest version of a POS secret
func (sm *GCPSecretManager) GetPOSSecret(ctx context.Context, secretID string) (*POSSecret, error) {
	name := sm.BuildSecretName(secretID)

	sm.cacheMu.RLock()
	if entry, ok := sm.cache[name]; ok && sm.now().Before(entry.expiresAt) {
		sm.cacheMu.RUnlock()
		return entry.secret, nil
	}
	sm.cacheMu.RUnlock()

	data, err := sm.access(ctx, name+"/versions/latest")
	if err != nil {
		return nil, fmt.Errorf("failed to access secret: %w", err)
	}

	secret, err := parsePOSSecret(data)
	if err != nil {
		return nil, err
	}

	sm.cacheMu.Lock()
	sm.cache[name] = &cacheEntry{
		secret:    secret,
		expiresAt: sm.now().Add(sm.cacheTTL),
	}
	sm.cacheMu.Unlock()

	return secret, nil
}

// InvalidateCache removes a secret from the cache
func (sm *GCPSecretManager) InvalidateCache(secretID string) {
	sm.cacheMu.Lock()
	delete(sm.cache, sm.BuildSecretName(secretID))
	sm.cacheMu.Unlock()
}

func parsePOSSecret(data []byte) (*POSSecret, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("secret payload is empty")
	}

	if strings.HasPrefix(trimmed, "{") {
		var secret POSSecret
		if err := json.Unmarshal([]byte(trimmed), &secret); err != nil {
			return nil, fmt.Errorf("failed to unmarshal secret: %w", err)
		}
		if secret.Token == "" {
			return nil, fmt.Errorf("secret has no token")
		}
		return &secret, nil
	}
	return &POSSecret{Token: trimmed}, nil
}

// sanitizeSecretID replaces characters not allowed in GCP secret IDs.
// Secret IDs can only contain alphanumeric characters, hyphens, and underscores
func sanitizeSecretID(input string) string {
	var result strings.Builder
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('-')
		}
	}
	return result.String()
}
