// SPDX-License-Identifier: AGPL-3.0-or-later
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Queue    QueueConfig
	Provider ProviderConfig
	Security SecurityConfig
	Server   ServerConfig
	Logger   LoggerConfig
	Mail     MailConfig
	Retention RetentionConfig
	Metrics   MetricsConfig
}

type AppConfig struct {
	SandboxMode bool
}

type DatabaseConfig struct {
	DSN         string
	AdminDSN    string // connects as a role with BYPASSRLS, for cross-tenant background jobs
	MaxOpenConn int
	MaxIdleConn int
}

type QueueConfig struct {
	RedisAddr             string
	RedisDB               int
	QueueName             string
	Concurrency           int
	MaxAttempts           int
	BaseDelayMS           int
	MaxDelayMS            int
	JitterFactor          float64
	DLQTTL                time.Duration
	DLQMaxEntries         int
	MaxJobsPerTenantBatch int
	JobTTL                time.Duration
}

type ProviderConfig struct {
	SendTimeout          time.Duration
	CircuitOpenThreshold uint32
	CircuitCooldown      time.Duration
	RateLimitPerSecond   float64
	RateLimitBurst       int
	AWSRegion            string
	PriorityFilePath     string

	HTTPRelayName         string
	HTTPRelayRegion       string
	HTTPRelayEndpoint     string
	HTTPRelayTokenURL     string
	HTTPRelayClientID     string
	HTTPRelayClientSecret string
}

type SecurityConfig struct {
	FiscalEncryptionKey  string // current key version, base64
	FiscalKeyVersion     int
	DKIMEncryptionKey    string
	APIKeyPepper         string
	SessionCookieSecret  string // base64, signs the break-glass operator cookie
}

type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level  string
	Format string
}

type MailConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	TLS                bool
	StartTLS           bool
	InsecureSkipVerify bool
	Timeout            string
	From               string
	FromName           string
}

type RetentionConfig struct {
	LogsRetention    time.Duration
	EventsRetention  time.Duration
	OutboxRetention  time.Duration
	OutboxHardLimit  time.Duration
}

// MetricsConfig configures the Prometheus /metrics endpoint (§4.8), served
// on its own listener separate from the v1 API/health port.
type MetricsConfig struct {
	ListenAddr string
	Enabled    bool
}

// ProviderPrioritySeed is a single entry of a company's provider priority
// list, loadable from a YAML seed file for local/dev bootstrapping.
type ProviderPrioritySeed struct {
	Kind     string `yaml:"kind"`
	Region   string `yaml:"region"`
	Priority int    `yaml:"priority"`
}

// Load loads configuration from environment variables, fail-fast on any
// required variable that is missing, the way the teacher's config.Load does.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.DSN = mustGetEnv("SENDFORGE_DB_DSN")
	cfg.Database.AdminDSN = getEnv("SENDFORGE_DB_ADMIN_DSN", cfg.Database.DSN)
	cfg.Database.MaxOpenConn = getEnvInt("SENDFORGE_DB_MAX_OPEN_CONN", 25)
	cfg.Database.MaxIdleConn = getEnvInt("SENDFORGE_DB_MAX_IDLE_CONN", 5)

	cfg.App.SandboxMode = getEnvBool("SENDFORGE_SANDBOX_MODE", false)

	cfg.Queue.RedisAddr = getEnv("SENDFORGE_REDIS_ADDR", "localhost:6379")
	cfg.Queue.RedisDB = getEnvInt("SENDFORGE_REDIS_DB", 0)
	cfg.Queue.QueueName = getEnv("SENDFORGE_QUEUE_NAME", "email:send")
	cfg.Queue.Concurrency = getEnvInt("SENDFORGE_QUEUE_CONCURRENCY", 16)
	cfg.Queue.MaxAttempts = getEnvInt("SENDFORGE_MAX_ATTEMPTS", 5)
	cfg.Queue.BaseDelayMS = getEnvInt("SENDFORGE_BASE_DELAY_MS", 1000)
	cfg.Queue.MaxDelayMS = getEnvInt("SENDFORGE_MAX_DELAY_MS", 60000)
	cfg.Queue.JitterFactor = getEnvFloat("SENDFORGE_JITTER_FACTOR", 0.25)
	cfg.Queue.DLQTTL = getEnvDuration("SENDFORGE_DLQ_TTL", 7*24*time.Hour)
	cfg.Queue.DLQMaxEntries = getEnvInt("SENDFORGE_DLQ_MAX_ENTRIES", 10000)
	cfg.Queue.MaxJobsPerTenantBatch = getEnvInt("SENDFORGE_MAX_JOBS_PER_TENANT_BATCH", 3)
	cfg.Queue.JobTTL = getEnvDuration("SENDFORGE_JOB_TTL", 24*time.Hour)

	cfg.Provider.SendTimeout = getEnvDuration("SENDFORGE_PROVIDER_SEND_TIMEOUT", 30*time.Second)
	cfg.Provider.CircuitOpenThreshold = uint32(getEnvInt("SENDFORGE_PROVIDER_CIRCUIT_OPEN_THRESHOLD", 5))
	cfg.Provider.CircuitCooldown = getEnvDuration("SENDFORGE_PROVIDER_CIRCUIT_COOLDOWN", 30*time.Second)
	cfg.Provider.RateLimitPerSecond = getEnvFloat("SENDFORGE_PROVIDER_RATE_LIMIT_PER_SECOND", 14)
	cfg.Provider.RateLimitBurst = getEnvInt("SENDFORGE_PROVIDER_RATE_LIMIT_BURST", 14)
	cfg.Provider.AWSRegion = getEnv("SENDFORGE_AWS_REGION", "us-east-1")
	cfg.Provider.PriorityFilePath = getEnv("SENDFORGE_PROVIDER_PRIORITY_FILE", "")
	cfg.Provider.HTTPRelayName = getEnv("SENDFORGE_HTTP_RELAY_NAME", "")
	if cfg.Provider.HTTPRelayName != "" {
		cfg.Provider.HTTPRelayRegion = getEnv("SENDFORGE_HTTP_RELAY_REGION", "default")
		cfg.Provider.HTTPRelayEndpoint = mustGetEnv("SENDFORGE_HTTP_RELAY_ENDPOINT")
		cfg.Provider.HTTPRelayTokenURL = getEnv("SENDFORGE_HTTP_RELAY_TOKEN_URL", "")
		cfg.Provider.HTTPRelayClientID = getEnv("SENDFORGE_HTTP_RELAY_CLIENT_ID", "")
		cfg.Provider.HTTPRelayClientSecret = getEnv("SENDFORGE_HTTP_RELAY_CLIENT_SECRET", "")
	}

	cfg.Security.FiscalEncryptionKey = mustGetEnv("SENDFORGE_FISCAL_ENCRYPTION_KEY")
	cfg.Security.FiscalKeyVersion = getEnvInt("SENDFORGE_FISCAL_KEY_VERSION", 1)
	cfg.Security.DKIMEncryptionKey = mustGetEnv("SENDFORGE_DKIM_ENCRYPTION_KEY")
	cfg.Security.APIKeyPepper = getEnv("SENDFORGE_API_KEY_PEPPER", "")
	cfg.Security.SessionCookieSecret = mustGetEnv("SENDFORGE_SESSION_COOKIE_SECRET")

	cfg.Server.ListenAddr = getEnv("SENDFORGE_LISTEN_ADDR", ":8080")
	cfg.Server.ReadTimeout = getEnvDuration("SENDFORGE_READ_TIMEOUT", 15*time.Second)
	cfg.Server.WriteTimeout = getEnvDuration("SENDFORGE_WRITE_TIMEOUT", 30*time.Second)
	cfg.Server.ShutdownTimeout = getEnvDuration("SENDFORGE_SHUTDOWN_TIMEOUT", 30*time.Second)

	cfg.Logger.Level = getEnv("SENDFORGE_LOG_LEVEL", "info")
	cfg.Logger.Format = getEnv("SENDFORGE_LOG_FORMAT", "json")

	cfg.Mail.Host = getEnv("SENDFORGE_SMTP_HOST", "")
	if cfg.Mail.Host != "" {
		cfg.Mail.Port = getEnvInt("SENDFORGE_SMTP_PORT", 587)
		cfg.Mail.Username = getEnv("SENDFORGE_SMTP_USERNAME", "")
		cfg.Mail.Password = getEnv("SENDFORGE_SMTP_PASSWORD", "")
		cfg.Mail.TLS = getEnvBool("SENDFORGE_SMTP_TLS", true)
		cfg.Mail.StartTLS = getEnvBool("SENDFORGE_SMTP_STARTTLS", true)
		cfg.Mail.InsecureSkipVerify = getEnvBool("SENDFORGE_SMTP_INSECURE_SKIP_VERIFY", false)
		cfg.Mail.Timeout = getEnv("SENDFORGE_SMTP_TIMEOUT", "10s")
		cfg.Mail.From = getEnv("SENDFORGE_SMTP_FROM", "")
		cfg.Mail.FromName = getEnv("SENDFORGE_SMTP_FROM_NAME", "")
	}

	cfg.Retention.LogsRetention = getEnvDuration("SENDFORGE_LOGS_RETENTION", 90*24*time.Hour)
	cfg.Retention.EventsRetention = getEnvDuration("SENDFORGE_EVENTS_RETENTION", 90*24*time.Hour)
	cfg.Retention.OutboxRetention = getEnvDuration("SENDFORGE_OUTBOX_RETENTION", 180*24*time.Hour)
	cfg.Retention.OutboxHardLimit = getEnvDuration("SENDFORGE_OUTBOX_HARD_LIMIT", 365*24*time.Hour)

	cfg.Metrics.Enabled = getEnvBool("SENDFORGE_METRICS_ENABLED", true)
	cfg.Metrics.ListenAddr = getEnv("SENDFORGE_METRICS_LISTEN_ADDR", ":9090")

	return cfg, nil
}

// LoadProviderPrioritySeed parses a YAML seed file of default provider
// priorities, used to bootstrap new companies in non-production environments.
func LoadProviderPrioritySeed(path string) ([]ProviderPrioritySeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider priority seed: %w", err)
	}
	var seeds []ProviderPrioritySeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parse provider priority seed: %w", err)
	}
	return seeds, nil
}

func mustGetEnv(key string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		panic(fmt.Sprintf("missing required environment variable: %s", key))
	}
	return value
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return result
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true" || value == "1"
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
