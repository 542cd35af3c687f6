// Package config loads ingestion settings from an optional YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const configPathEnv = "CONFIG_FILE"

// Summary providers.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenAIChat = "openai-chat"
	ProviderGemini     = "gemini"
)

type Config struct {
	// Database
	DatabaseURL string `yaml:"database_url"`
	SeedFile    string `yaml:"seed_file"`

	// Summarization
	SummaryProvider    string  `yaml:"summary_provider"`
	OpenAIAPIKey       string  `yaml:"openai_api_key"`
	OpenAIModel        string  `yaml:"openai_model"`
	OpenAIBaseURL      string  `yaml:"openai_base_url"`
	GeminiAPIKey       string  `yaml:"gemini_api_key"`
	GeminiModel        string  `yaml:"gemini_model"`
	SummaryMaxRetries  int     `yaml:"summary_max_retries"`
	SummaryRPS         float64 `yaml:"summary_rps"`
	SummaryMaxRequests int     `yaml:"summary_max_requests"` // per run, 0 = unlimited

	// Scheduling
	EnableInternalCron bool   `yaml:"enable_internal_cron"`
	IngestCron         string `yaml:"ingest_cron"`

	// Job runner
	IngestConcurrency          int `yaml:"ingest_concurrency"`
	IngestRetryLimit           int `yaml:"ingest_retry_limit"`
	IngestTimeoutMS            int `yaml:"ingest_timeout_ms"`
	IngestJobTimeoutMS         int `yaml:"ingest_job_timeout_ms"`
	IngestMaxArticlesPerPerson int `yaml:"ingest_max_articles_per_person"`
	MentionThreshold           int `yaml:"mention_threshold"`
	MentionPrimaryWeight       int `yaml:"mention_primary_weight"`
	MentionAliasWeight         int `yaml:"mention_alias_weight"`

	// Resolver
	ResolverBrowserEnabled bool   `yaml:"resolver_browser_enabled"`
	RedisURL               string `yaml:"redis_url"`
	ResolverCacheTTLHours  int    `yaml:"resolver_cache_ttl_hours"`

	// Publishing
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	// Monitoring
	EnableHTTPMonitoring bool   `yaml:"enable_http_monitoring"`
	MonitoringPort       string `yaml:"monitoring_port"`

	Debug bool `yaml:"debug"`
}

func defaults() *Config {
	return &Config{
		SummaryProvider:            ProviderOpenAI,
		OpenAIModel:                "gpt-4o-mini",
		OpenAIBaseURL:              "https://api.openai.com/v1",
		GeminiModel:                "gemini-1.5-flash",
		SummaryMaxRetries:          2,
		SummaryRPS:                 2,
		IngestCron:                 "5 * * * *",
		IngestConcurrency:          5,
		IngestRetryLimit:           2,
		IngestTimeoutMS:            10000,
		IngestJobTimeoutMS:         480000,
		IngestMaxArticlesPerPerson: 10,
		MentionThreshold:           2,
		MentionPrimaryWeight:       2,
		MentionAliasWeight:         1,
		ResolverBrowserEnabled:     true,
		ResolverCacheTTLHours:      24,
		KafkaTopic:                 "cbnews.articles",
		MonitoringPort:             "8080",
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.clamp()

	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.SeedFile = getEnvOrDefault("SEED_FILE", c.SeedFile)

	c.SummaryProvider = strings.ToLower(getEnvOrDefault("SUMMARY_PROVIDER", c.SummaryProvider))
	c.OpenAIAPIKey = getEnvOrDefault("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIModel = getEnvOrDefault("OPENAI_MODEL", c.OpenAIModel)
	c.OpenAIBaseURL = getEnvOrDefault("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.GeminiAPIKey = getEnvOrDefault("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiModel = getEnvOrDefault("GEMINI_MODEL", c.GeminiModel)

	c.IngestCron = getEnvOrDefault("INGEST_CRON", c.IngestCron)
	c.RedisURL = getEnvOrDefault("REDIS_URL", c.RedisURL)
	c.KafkaTopic = getEnvOrDefault("KAFKA_TOPIC", c.KafkaTopic)
	c.MonitoringPort = getEnvOrDefault("MONITORING_PORT", c.MonitoringPort)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = splitList(v)
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"ENABLE_INTERNAL_CRON", &c.EnableInternalCron},
		{"RESOLVER_BROWSER_ENABLED", &c.ResolverBrowserEnabled},
		{"ENABLE_HTTP_MONITORING", &c.EnableHTTPMonitoring},
		{"DEBUG", &c.Debug},
	}
	for _, b := range bools {
		v, err := getEnvBoolOrDefault(b.key, *b.dst)
		if err != nil {
			return err
		}
		*b.dst = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SUMMARY_MAX_RETRIES", &c.SummaryMaxRetries},
		{"SUMMARY_MAX_REQUESTS", &c.SummaryMaxRequests},
		{"INGEST_CONCURRENCY", &c.IngestConcurrency},
		{"INGEST_RETRY_LIMIT", &c.IngestRetryLimit},
		{"INGEST_TIMEOUT_MS", &c.IngestTimeoutMS},
		{"INGEST_JOB_TIMEOUT_MS", &c.IngestJobTimeoutMS},
		{"INGEST_MAX_ARTICLES_PER_PERSON", &c.IngestMaxArticlesPerPerson},
		{"MENTION_THRESHOLD", &c.MentionThreshold},
		{"MENTION_PRIMARY_WEIGHT", &c.MentionPrimaryWeight},
		{"MENTION_ALIAS_WEIGHT", &c.MentionAliasWeight},
		{"RESOLVER_CACHE_TTL_HOURS", &c.ResolverCacheTTLHours},
	}
	for _, i := range ints {
		v, err := getEnvIntOrDefault(i.key, *i.dst)
		if err != nil {
			return err
		}
		*i.dst = v
	}

	if v := os.Getenv("SUMMARY_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SUMMARY_RPS must be a number: %w", err)
		}
		c.SummaryRPS = f
	}

	return nil
}

// clamp pulls numeric settings back into their supported ranges.
func (c *Config) clamp() {
	c.SummaryMaxRetries = clampInt(c.SummaryMaxRetries, 0, 5)
	c.IngestConcurrency = clampInt(c.IngestConcurrency, 1, 10)
	c.IngestRetryLimit = clampInt(c.IngestRetryLimit, 0, 5)
	c.IngestTimeoutMS = clampInt(c.IngestTimeoutMS, 1000, 60000)
	c.IngestJobTimeoutMS = clampInt(c.IngestJobTimeoutMS, 1000, 480000)
	c.IngestMaxArticlesPerPerson = clampInt(c.IngestMaxArticlesPerPerson, 1, 100)
	if c.MentionThreshold < 1 {
		c.MentionThreshold = 1
	}
	c.MentionPrimaryWeight = clampInt(c.MentionPrimaryWeight, 1, 10)
	// 0 turns alias matches off.
	c.MentionAliasWeight = clampInt(c.MentionAliasWeight, 0, 10)
	if c.SummaryMaxRequests < 0 {
		c.SummaryMaxRequests = 0
	}
	if c.ResolverCacheTTLHours < 1 {
		c.ResolverCacheTTLHours = 1
	}
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.SummaryProvider {
	case ProviderOpenAI, ProviderOpenAIChat:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	default:
		return fmt.Errorf("SUMMARY_PROVIDER must be one of openai, openai-chat, gemini")
	}
	if len(strings.Fields(c.IngestCron)) != 5 {
		return fmt.Errorf("INGEST_CRON must have 5 fields")
	}
	if _, err := cron.ParseStandard(c.IngestCron); err != nil {
		return fmt.Errorf("INGEST_CRON is invalid: %w", err)
	}
	if c.SummaryRPS <= 0 {
		return fmt.Errorf("SUMMARY_RPS must be positive")
	}
	return nil
}

func (c *Config) IngestTimeout() time.Duration {
	return time.Duration(c.IngestTimeoutMS) * time.Millisecond
}

func (c *Config) IngestJobTimeout() time.Duration {
	return time.Duration(c.IngestJobTimeoutMS) * time.Millisecond
}

func (c *Config) ResolverCacheTTL() time.Duration {
	return time.Duration(c.ResolverCacheTTLHours) * time.Hour
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return intValue, nil
}

func getEnvBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
