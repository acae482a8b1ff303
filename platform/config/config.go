// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// RedisConfig provides the shared redis connection used by locks and dedup.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the asynq retry coordinator.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetRetryMaxAttempts() int
	GetRetryBaseDelay() time.Duration
}

// ConductorConfig provides the orchestration limits of the lead conductor.
type ConductorConfig interface {
	GetLockBackend() string
	GetLockWaitTimeout() time.Duration
	GetOptOutLockWaitTimeout() time.Duration
	GetLockLeaseTTL() time.Duration
	GetDedupWindow() time.Duration
	GetMaxConversationTurns() int
	GetTenantCacheTTL() time.Duration
}

// ComplianceConfig provides tunables for the compliance gatekeeper.
type ComplianceConfig interface {
	GetColdOutreachLimit() int
	GetDefaultTimezone() string
	GetHolidayCalendarPath() string
}

// SMSConfig provides settings for the outbound SMS transport.
type SMSConfig interface {
	GetTwilioAccountSID() string
	GetTwilioAuthToken() string
	GetTwilioBaseURL() string
	GetSMSRatePerSecond() float64
	IsSMSEnabled() bool
}

// AIConfig provides settings for AI-backed responders.
type AIConfig interface {
	GetMoonshotAPIKey() string
	GetAIModel() string
	IsAIEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                   string
	DatabaseURL           string
	MigrationsEnabled     bool
	RedisURL              string
	RedisTLSInsecure      bool
	AsynqQueueName        string
	AsynqConcurrency      int
	RetryMaxAttempts      int
	RetryBaseDelay        time.Duration
	LockBackend           string
	LockWaitTimeout       time.Duration
	OptOutLockWaitTimeout time.Duration
	LockLeaseTTL          time.Duration
	DedupWindow           time.Duration
	MaxConversationTurns  int
	TenantCacheTTL        time.Duration
	ColdOutreachLimit     int
	DefaultTimezone       string
	HolidayCalendarPath   string
	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioBaseURL         string
	SMSRatePerSecond      float64
	MoonshotAPIKey        string
	AIModel               string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// RedisConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }

// SchedulerConfig implementation
func (c *Config) GetAsynqQueueName() string        { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int         { return c.AsynqConcurrency }
func (c *Config) GetRetryMaxAttempts() int         { return c.RetryMaxAttempts }
func (c *Config) GetRetryBaseDelay() time.Duration { return c.RetryBaseDelay }

// ConductorConfig implementation
func (c *Config) GetLockBackend() string                  { return c.LockBackend }
func (c *Config) GetLockWaitTimeout() time.Duration       { return c.LockWaitTimeout }
func (c *Config) GetOptOutLockWaitTimeout() time.Duration { return c.OptOutLockWaitTimeout }
func (c *Config) GetLockLeaseTTL() time.Duration          { return c.LockLeaseTTL }
func (c *Config) GetDedupWindow() time.Duration           { return c.DedupWindow }
func (c *Config) GetMaxConversationTurns() int            { return c.MaxConversationTurns }
func (c *Config) GetTenantCacheTTL() time.Duration        { return c.TenantCacheTTL }

// ComplianceConfig implementation
func (c *Config) GetColdOutreachLimit() int      { return c.ColdOutreachLimit }
func (c *Config) GetDefaultTimezone() string     { return c.DefaultTimezone }
func (c *Config) GetHolidayCalendarPath() string { return c.HolidayCalendarPath }

// SMSConfig implementation
func (c *Config) GetTwilioAccountSID() string  { return c.TwilioAccountSID }
func (c *Config) GetTwilioAuthToken() string   { return c.TwilioAuthToken }
func (c *Config) GetTwilioBaseURL() string     { return c.TwilioBaseURL }
func (c *Config) GetSMSRatePerSecond() float64 { return c.SMSRatePerSecond }
func (c *Config) IsSMSEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

// AIConfig implementation
func (c *Config) GetMoonshotAPIKey() string { return c.MoonshotAPIKey }
func (c *Config) GetAIModel() string        { return c.AIModel }
func (c *Config) IsAIEnabled() bool         { return c.MoonshotAPIKey != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		MigrationsEnabled:     strings.EqualFold(getEnv("MIGRATIONS_ENABLED", "true"), "true"),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "conductor"),
		AsynqConcurrency:      mustInt(getEnv("ASYNQ_CONCURRENCY", "20")),
		RetryMaxAttempts:      mustInt(getEnv("RETRY_MAX_ATTEMPTS", "5")),
		RetryBaseDelay:        mustDuration(getEnv("RETRY_BASE_DELAY", "10s")),
		LockBackend:           strings.ToLower(getEnv("LOCK_BACKEND", "redis")),
		LockWaitTimeout:       mustDuration(getEnv("LOCK_WAIT_TIMEOUT", "5s")),
		OptOutLockWaitTimeout: mustDuration(getEnv("OPT_OUT_LOCK_WAIT_TIMEOUT", "15s")),
		LockLeaseTTL:          mustDuration(getEnv("LOCK_LEASE_TTL", "60s")),
		DedupWindow:           mustDuration(getEnv("DEDUP_WINDOW", "10m")),
		MaxConversationTurns:  mustInt(getEnv("MAX_CONVERSATION_TURNS", "20")),
		TenantCacheTTL:        mustDuration(getEnv("TENANT_CACHE_TTL", "60s")),
		ColdOutreachLimit:     mustInt(getEnv("COLD_OUTREACH_LIMIT", "3")),
		DefaultTimezone:       getEnv("DEFAULT_TIMEZONE", "America/New_York"),
		HolidayCalendarPath:   getEnv("HOLIDAY_CALENDAR_PATH", ""),
		TwilioAccountSID:      getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:       getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioBaseURL:         getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
		SMSRatePerSecond:      mustFloat(getEnv("SMS_RATE_PER_SECOND", "10")),
		MoonshotAPIKey:        getEnv("MOONSHOT_API_KEY", ""),
		AIModel:               getEnv("AI_MODEL", "kimi-k2-turbo-preview"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.LockBackend != "redis" && cfg.LockBackend != "local" {
		return nil, fmt.Errorf("LOCK_BACKEND must be redis or local, got %q", cfg.LockBackend)
	}
	if cfg.LockWaitTimeout <= 0 || cfg.OptOutLockWaitTimeout <= 0 {
		return nil, fmt.Errorf("LOCK_WAIT_TIMEOUT and OPT_OUT_LOCK_WAIT_TIMEOUT must be positive")
	}
	if cfg.LockLeaseTTL <= cfg.LockWaitTimeout {
		return nil, fmt.Errorf("LOCK_LEASE_TTL must exceed LOCK_WAIT_TIMEOUT")
	}
	if cfg.ColdOutreachLimit < 0 {
		return nil, fmt.Errorf("COLD_OUTREACH_LIMIT cannot be negative")
	}
	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("DEFAULT_TIMEZONE %q: %w", cfg.DefaultTimezone, err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}
