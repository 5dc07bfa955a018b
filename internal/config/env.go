package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ProviderModels defines the model tiers for a provider.
type ProviderModels struct {
	Primary   string
	Secondary string
}

// DialConfig holds DIAL proxy connectivity settings.
type DialConfig struct {
	BaseURL string
	APIKey  string
}

// ProvidersConfig selects engines and models per provider.
type ProvidersConfig struct {
	PrimaryEngine   string // "dial"|"openai"|"anthropic"
	SecondaryEngine string
	Dial            DialConfig
	DialModels      ProviderModels
	OpenAI          ProviderModels
	OpenAIAPIKey    string
	Anthropic       ProviderModels
	AnthropicAPIKey string
}

// APIKey returns the configured credential for the given engine.
func (p ProvidersConfig) APIKey(engine string) string {
	switch strings.ToLower(engine) {
	case "openai":
		return p.OpenAIAPIKey
	case "anthropic":
		return p.AnthropicAPIKey
	default:
		return p.Dial.APIKey
	}
}

// Models returns the model tier for the given engine.
func (p ProvidersConfig) Models(engine string) ProviderModels {
	switch strings.ToLower(engine) {
	case "openai":
		return p.OpenAI
	case "anthropic":
		return p.Anthropic
	default:
		return p.DialModels
	}
}

// TaskConfig holds describe-task defaults.
type TaskConfig struct {
	DefaultModel  string
	DefaultPrompt string
	MaxTokens     int
	RenderDPI     int
	RenderQuality int
}

// WorkerConfig defines dispatcher behavior and limits.
type WorkerConfig struct {
	Concurrency         int
	RequestTimeout      time.Duration
	JobTotalTimeout     time.Duration
	JobMaxAttempts      int
	RetryBaseDelay      time.Duration
	RetryJitter         time.Duration
	MaxInflightPerModel int
	BreakerBaseBackoff  time.Duration
	BreakerMaxBackoff   time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// StorageConfig defines S3 connectivity for image inputs and generated files.
type StorageConfig struct {
	Bucket        string
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	StorePassword string
}

// Config is the top-level configuration, populated once at startup and
// passed by reference.
type Config struct {
	Logging   LoggingConfig
	Axiom     AxiomConfig
	Providers ProvidersConfig
	Task      TaskConfig
	Worker    WorkerConfig
	Queue     QueueConfig
	Storage   StorageConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/imagetext.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_imagetext",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Providers = ProvidersConfig{
		PrimaryEngine:   getEnv("PRIMARY_ENGINE", "dial"),
		SecondaryEngine: getEnv("SECONDARY_ENGINE", "openai"),
		Dial: DialConfig{
			BaseURL: getEnv("DIAL_URL", "https://ai-proxy.lab.epam.com"),
			APIKey:  getEnv("DIAL_API_KEY", ""),
		},
		DialModels: ProviderModels{
			Primary:   getEnv("DIAL_PRIMARY_MODEL", "gpt-4o"),
			Secondary: getEnv("DIAL_SECONDARY_MODEL", "gemini-1.5-pro"),
		},
		OpenAI: ProviderModels{
			Primary:   getEnv("OPENAI_PRIMARY_MODEL", "gpt-4o"),
			Secondary: getEnv("OPENAI_SECONDARY_MODEL", "gpt-4.1-mini"),
		},
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		Anthropic: ProviderModels{
			Primary:   getEnv("ANTHROPIC_PRIMARY_MODEL", "claude-3-5-sonnet-20240620"),
			Secondary: getEnv("ANTHROPIC_SECONDARY_MODEL", "claude-3-haiku-20240307"),
		},
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
	}

	cfg.Task = TaskConfig{
		DefaultModel:  getEnv("TASK_DEFAULT_MODEL", "gpt-4o"),
		DefaultPrompt: getEnv("TASK_DEFAULT_PROMPT", "What do you see on this picture?"),
		MaxTokens:     parseInt(getEnv("TASK_MAX_TOKENS", "1024"), 1024),
		RenderDPI:     parseInt(getEnv("RENDER_DPI", "150"), 150),
		RenderQuality: parseInt(getEnv("RENDER_JPEG_QUALITY", "85"), 85),
	}

	cfg.Worker = WorkerConfig{
		Concurrency:         parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
		RequestTimeout:      parseDuration(getEnv("REQUEST_TIMEOUT", "60s"), 60*time.Second),
		JobTotalTimeout:     parseDuration(getEnv("JOB_TOTAL_TIMEOUT", "120s"), 120*time.Second),
		JobMaxAttempts:      parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
		RetryBaseDelay:      parseDuration(getEnv("RETRY_BASE_DELAY", "2s"), 2*time.Second),
		RetryJitter:         parseDuration(getEnv("RETRY_JITTER", "200ms"), 200*time.Millisecond),
		MaxInflightPerModel: parseInt(getEnv("MAX_INFLIGHT_PER_MODEL", "2"), 2),
		BreakerBaseBackoff:  parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMaxBackoff:   parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:describe"),
		Group:        getEnv("QUEUE_GROUP", "workers:describe"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "200ms"), 200*time.Millisecond),
	}

	cfg.Storage = StorageConfig{
		Bucket:        getEnv("S3_BUCKET", "imagetext-files-dev"),
		Endpoint:      getEnv("S3_ENDPOINT", ""),
		Region:        getEnv("S3_REGION", ""),
		AccessKey:     getEnv("S3_ACCESS_KEY", ""),
		SecretKey:     getEnv("S3_SECRET_KEY", ""),
		StorePassword: getEnv("IMAGE_STORE_PASSWORD", ""),
	}

	return cfg
}

// APIKeyVar returns the environment variable name holding credentials for
// the given engine. Used in configuration error messages.
func APIKeyVar(engine string) string {
	switch strings.ToLower(engine) {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return "DIAL_API_KEY"
	}
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
