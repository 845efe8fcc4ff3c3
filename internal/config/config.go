package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tesseract-Nexus/go-shared/secrets"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the POS sync service
type Config struct {
	// Server
	Port               string
	Environment        string
	LogLevel           string
	CORSAllowedOrigins []string
	OperatorToken      string

	// Database
	DatabaseURL string

	// Redis (optional; in-process fallbacks are used when empty)
	RedisURL string

	// GCP
	GCPProjectID  string
	POSSecretName string

	// POS API
	POSBaseURL      string
	POSAPIToken     string
	POSImageBaseURL string
	POSTimeout      time.Duration
	POSRateLimit    int // requests per second
	POSMaxRetries   int

	// Sync Settings
	SyncWorkers    int
	SyncStuckAfter time.Duration
	SyncLockTTL    time.Duration
	SyncTimeout    time.Duration

	// Orders
	DispatchTimeout time.Duration
	DeliveryFee     decimal.Decimal

	// Verification codes
	VerificationCodeTTL     time.Duration
	VerificationMaxAttempts int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Build DATABASE_URL from components using GCP Secret Manager for password
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		dbHost := getEnv("DB_HOST", "localhost")
		dbPort := getEnv("DB_PORT", "5432")
		dbUser := getEnv("DB_USER", "postgres")
		dbPassword := secrets.GetDBPassword()
		dbName := getEnv("DB_NAME", "storefront")
		dbSSLMode := getEnv("DB_SSLMODE", "disable")

		databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbUser, dbPassword, dbHost, dbPort, dbName, dbSSLMode)
	}

	config := &Config{
		Port:               getEnv("PORT", "8080"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		OperatorToken:      secrets.GetSecretOrEnv("OPERATOR_TOKEN_SECRET_NAME", "OPERATOR_TOKEN", ""),
		DatabaseURL:        databaseURL,
		RedisURL:           getEnv("REDIS_URL", ""),

		// GCP
		GCPProjectID:  getEnv("GCP_PROJECT_ID", ""),
		POSSecretName: getEnv("POS_SECRET_NAME", ""),

		// POS API
		POSBaseURL:      getEnv("POS_API_BASE_URL", "https://joinposter.com/api"),
		POSAPIToken:     secrets.GetSecretOrEnv("POS_API_TOKEN_SECRET_NAME", "POS_API_TOKEN", ""),
		POSImageBaseURL: getEnv("POS_IMAGE_BASE_URL", "https://joinposter.com"),
		POSTimeout:      getEnvAsDuration("POS_TIMEOUT", 10*time.Second),
		POSRateLimit:    getEnvAsInt("POS_RATE_LIMIT", 5),
		POSMaxRetries:   getEnvAsInt("POS_MAX_RETRIES", 3),

		// Sync Settings
		SyncWorkers:    getEnvAsInt("SYNC_WORKERS", 4),
		SyncStuckAfter: getEnvAsDuration("SYNC_STUCK_AFTER", 30*time.Minute),
		SyncLockTTL:    getEnvAsDuration("SYNC_LOCK_TTL", 15*time.Minute),
		SyncTimeout:    getEnvAsDuration("SYNC_TIMEOUT", 20*time.Minute),

		DispatchTimeout: getEnvAsDuration("DISPATCH_TIMEOUT", 10*time.Second),
		DeliveryFee:     getEnvAsDecimal("DELIVERY_FEE", decimal.Zero),

		VerificationCodeTTL:     getEnvAsDuration("VERIFICATION_CODE_TTL", 5*time.Minute),
		VerificationMaxAttempts: getEnvAsInt("VERIFICATION_MAX_ATTEMPTS", 5),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks that the configuration can run the service
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SyncWorkers < 1 || c.SyncWorkers > 16 {
		return fmt.Errorf("SYNC_WORKERS must be between 1 and 16, got %d", c.SyncWorkers)
	}
	if c.POSRateLimit < 1 {
		return fmt.Errorf("POS_RATE_LIMIT must be positive, got %d", c.POSRateLimit)
	}
	if c.DeliveryFee.IsNegative() {
		return fmt.Errorf("DELIVERY_FEE must not be negative")
	}
	if c.IsProduction() && c.OperatorToken == "" {
		return fmt.Errorf("OPERATOR_TOKEN is required in production")
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getEnvAsDecimal gets an environment variable as a decimal with a default value
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvAsList splits a comma separated variable
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
