package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	FrontendURL        string
	AllowedOrigins     []string

	// Job store
	JobStore           string // memory | redis
	RedisURL           string
	JobRetention       time.Duration
	ReaperInterval     time.Duration
	StreamPollInterval time.Duration

	// Pipeline
	BatchSize             int
	MaxConcurrentBatches  int
	BatchDelay            time.Duration
	EmailLookback         time.Duration
	JobWorkers            int
	GmailFetchConcurrency int
	ClassifierRulesFile   string
}

const (
	JobStoreMemory = "memory"
	JobStoreRedis  = "redis"
)

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8000"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 60),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8000/auth/callback"),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:8000/static/index.html"),
		AllowedOrigins:     getEnvSlice("ALLOWED_ORIGINS", nil),

		JobStore:           strings.ToLower(getEnv("JOB_STORE", JobStoreMemory)),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JobRetention:       time.Duration(getEnvInt("JOB_RETENTION_HOURS", 24)) * time.Hour,
		ReaperInterval:     time.Duration(getEnvInt("REAPER_INTERVAL_MIN", 30)) * time.Minute,
		StreamPollInterval: time.Duration(getEnvInt("STREAM_POLL_INTERVAL_MS", 1000)) * time.Millisecond,

		BatchSize:             getEnvInt("BATCH_SIZE", 5),
		MaxConcurrentBatches:  getEnvInt("MAX_CONCURRENT_BATCHES", 3),
		BatchDelay:            time.Duration(getEnvInt("BATCH_DELAY_MS", 100)) * time.Millisecond,
		EmailLookback:         time.Duration(getEnvInt("EMAIL_LOOKBACK_DAYS", 180)) * 24 * time.Hour,
		JobWorkers:            getEnvInt("JOB_WORKERS", 4),
		GmailFetchConcurrency: getEnvInt("GMAIL_FETCH_CONCURRENCY", 10),
		ClassifierRulesFile:   getEnv("CLASSIFIER_RULES_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	case c.MaxConcurrentBatches <= 0:
		return fmt.Errorf("MAX_CONCURRENT_BATCHES must be positive, got %d", c.MaxConcurrentBatches)
	case c.JobWorkers <= 0:
		return fmt.Errorf("JOB_WORKERS must be positive, got %d", c.JobWorkers)
	case c.GmailFetchConcurrency <= 0:
		return fmt.Errorf("GMAIL_FETCH_CONCURRENCY must be positive, got %d", c.GmailFetchConcurrency)
	case c.StreamPollInterval <= 0:
		return fmt.Errorf("STREAM_POLL_INTERVAL_MS must be positive")
	case c.JobStore != JobStoreMemory && c.JobStore != JobStoreRedis:
		return fmt.Errorf("JOB_STORE must be %q or %q, got %q", JobStoreMemory, JobStoreRedis, c.JobStore)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// HasLLM reports whether model-backed extraction is configured.
func (c *Config) HasLLM() bool {
	return c.OpenAIAPIKey != ""
}

// HasOAuth reports whether the Google OAuth flow is configured.
func (c *Config) HasOAuth() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
