// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// EmailConfig provides settings for the SMTP email sender.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// SchedulerConfig provides settings for the asynq task queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// AutomationConfig provides tunables for the lead automation engines.
// The thresholds and magnitudes here are business decisions, so they are
// named overridable values rather than constants.
type AutomationConfig interface {
	GetTickInterval() time.Duration
	GetSLAThreshold() time.Duration
	GetAgingThreshold() time.Duration
	GetSweepBatchSize() int
	GetProcessingTimeout() time.Duration
	GetDuplicateSimilarityThreshold() float64
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env             string
	HTTPAddr        string
	DatabaseURL     string
	JWTAccessSecret string
	CORSAllowAll    bool
	CORSOrigins     []string
	CORSAllowCreds  bool

	EmailEnabled     bool
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	EmailFromName    string
	EmailFromAddress string

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	TickInterval                 time.Duration
	SLAThreshold                 time.Duration
	AgingThreshold               time.Duration
	SweepBatchSize               int
	ProcessingTimeout            time.Duration
	DuplicateSimilarityThreshold float64
}

// Load reads configuration from the environment, loading a .env file first
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:             getEnv("APP_ENV", "development"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTAccessSecret: os.Getenv("JWT_ACCESS_SECRET"),
		CORSAllowAll:    getBoolEnv("CORS_ALLOW_ALL", false),
		CORSOrigins:     getListEnv("CORS_ORIGINS"),
		CORSAllowCreds:  getBoolEnv("CORS_ALLOW_CREDENTIALS", true),

		EmailEnabled:     getBoolEnv("EMAIL_ENABLED", false),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         getIntEnv("SMTP_PORT", 587),
		SMTPUsername:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "CRM Suite"),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@example.com"),

		RedisURL:         os.Getenv("REDIS_URL"),
		RedisTLSInsecure: getBoolEnv("REDIS_TLS_INSECURE", false),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency: getIntEnv("ASYNQ_CONCURRENCY", 10),

		TickInterval:                 getDurationEnv("AUTOMATION_TICK_INTERVAL", 5*time.Minute),
		SLAThreshold:                 getDurationEnv("AUTOMATION_SLA_THRESHOLD", 7*24*time.Hour),
		AgingThreshold:               getDurationEnv("AUTOMATION_AGING_THRESHOLD", 90*24*time.Hour),
		SweepBatchSize:               getIntEnv("AUTOMATION_SWEEP_BATCH_SIZE", 200),
		ProcessingTimeout:            getDurationEnv("AUTOMATION_PROCESSING_TIMEOUT", 15*time.Minute),
		DuplicateSimilarityThreshold: getFloatEnv("AUTOMATION_DUP_SIMILARITY_THRESHOLD", 0.85),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// AutomationConfig implementation
func (c *Config) GetTickInterval() time.Duration      { return c.TickInterval }
func (c *Config) GetSLAThreshold() time.Duration      { return c.SLAThreshold }
func (c *Config) GetAgingThreshold() time.Duration    { return c.AgingThreshold }
func (c *Config) GetSweepBatchSize() int              { return c.SweepBatchSize }
func (c *Config) GetProcessingTimeout() time.Duration { return c.ProcessingTimeout }
func (c *Config) GetDuplicateSimilarityThreshold() float64 {
	return c.DuplicateSimilarityThreshold
}

// =============================================================================
// Env Helpers
// =============================================================================

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getIntEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getFloatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 || parsed > 1 {
		return fallback
	}
	return parsed
}

func getListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
