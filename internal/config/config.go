package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     StoreConfig     `yaml:"store"`
	SendLog   SendLogConfig   `yaml:"sendlog"`
	Runner    RunnerConfig    `yaml:"runner"`
	Retry     RetryConfig     `yaml:"retry"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Providers ProvidersConfig `yaml:"providers"`
	Retention RetentionConfig `yaml:"retention"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`      // Default: :8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // Default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // Default: 30s
	IdleTimeout     time.Duration `yaml:"idle_timeout"`     // Default: 60s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Default: 10s
}

// AuthConfig contains trigger authentication settings.
// Exactly one of CronSecret / CronSecretHash must be set; the hash form is a
// bcrypt hash produced by `campaignd secret hash`.
type AuthConfig struct {
	CronSecret     string `yaml:"cron_secret"`      // Overridden by env CRON_SECRET
	CronSecretHash string `yaml:"cron_secret_hash"` // bcrypt hash of the secret
}

// StoreConfig contains job store settings
type StoreConfig struct {
	Path string `yaml:"path"` // BoltDB file, default: /var/lib/campaignd/jobs.db
}

// SendLogConfig contains the completed-campaigns log settings
type SendLogConfig struct {
	Path string `yaml:"path"` // SQLite file, default: /var/lib/campaignd/sendlog.db
}

// RunnerConfig contains scheduler/runner settings
type RunnerConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"` // Jobs processed in parallel per pass (default: 1)
	JobTimeout    time.Duration `yaml:"job_timeout"`    // Wall-clock ceiling per job per pass (default: 25m)
	StaleAfter    time.Duration `yaml:"stale_after"`    // Age at which a processing job counts as abandoned (default: 30m)
	PollInterval  time.Duration `yaml:"poll_interval"`  // Built-in tick, 0 = external trigger only (default: 0)
}

// RetryConfig contains retry/backoff policy
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`    // Default: 3
	InitialBackoff time.Duration `yaml:"initial_backoff"` // Backoff floor (default: 5m)
	MaxBackoff     time.Duration `yaml:"max_backoff"`     // Backoff ceiling (default: 1h)
}

// ChannelsConfig contains per-channel batch tuning
type ChannelsConfig struct {
	Email    ChannelConfig `yaml:"email"`
	SMS      ChannelConfig `yaml:"sms"`
	WhatsApp ChannelConfig `yaml:"whatsapp"`
}

// ChannelConfig contains batch size/delay for one channel, with optional
// per-provider overrides keyed by provider name.
type ChannelConfig struct {
	BatchSize  int                      `yaml:"batch_size"`
	BatchDelay time.Duration            `yaml:"batch_delay"`
	Providers  map[string]BatchOverride `yaml:"providers,omitempty"`
}

// BatchOverride overrides batch tuning for a single provider
type BatchOverride struct {
	BatchSize  int           `yaml:"batch_size,omitempty"`
	BatchDelay time.Duration `yaml:"batch_delay,omitempty"`
}

// ProvidersConfig contains credentials for the configured adapters.
// Unset providers are simply not registered.
type ProvidersConfig struct {
	SMTP     *SMTPRelayConfig `yaml:"smtp,omitempty"`
	Brevo    *APIKeyConfig    `yaml:"brevo,omitempty"`
	MSG91    *MSG91Config     `yaml:"msg91,omitempty"`
	Fast2SMS *APIKeyConfig    `yaml:"fast2sms,omitempty"`
	AiSensy  *APIKeyConfig    `yaml:"aisensy,omitempty"`
	Gupshup  *GupshupConfig   `yaml:"gupshup,omitempty"`
}

// SMTPRelayConfig contains SMTP relay settings for the email channel.
// Port 465 uses implicit TLS; other ports upgrade with STARTTLS when the
// relay offers it.
type SMTPRelayConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // Default: 587
	Username string `yaml:"username"`
	Password string `yaml:"password"` // Overridden by env SMTP_PASSWORD
}

// APIKeyConfig contains settings for providers authenticated by one API key
type APIKeyConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// MSG91Config contains MSG91 SMS settings
type MSG91Config struct {
	AuthKey string `yaml:"auth_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// GupshupConfig contains Gupshup WhatsApp settings
type GupshupConfig struct {
	APIKey  string `yaml:"api_key"`
	AppName string `yaml:"app_name"`
	Source  string `yaml:"source"` // Registered WhatsApp source number
	BaseURL string `yaml:"base_url,omitempty"`
}

// RetentionConfig contains cleanup settings for terminal jobs and send-log rows
type RetentionConfig struct {
	Interval      time.Duration `yaml:"interval"`        // How often cleanup runs (default: 1h, 0 = disabled)
	MaxAge        time.Duration `yaml:"max_age"`         // Delete terminal jobs older than this (0 = keep forever)
	SendLogMaxAge time.Duration `yaml:"sendlog_max_age"` // Delete send-log rows older than this (0 = keep forever)
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // Default: :9090
	Path       string `yaml:"path"`        // Default: /metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overlays secrets from the environment. Environment values win
// over file values so deployments can keep credentials out of the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("CRON_SECRET"); v != "" {
		c.Auth.CronSecret = v
	}
	if c.Providers.SMTP != nil {
		if v := os.Getenv("SMTP_PASSWORD"); v != "" {
			c.Providers.SMTP.Password = v
		}
	}
	if c.Providers.Brevo != nil {
		if v := os.Getenv("BREVO_API_KEY"); v != "" {
			c.Providers.Brevo.APIKey = v
		}
	}
	if c.Providers.MSG91 != nil {
		if v := os.Getenv("MSG91_AUTH_KEY"); v != "" {
			c.Providers.MSG91.AuthKey = v
		}
	}
	if c.Providers.Fast2SMS != nil {
		if v := os.Getenv("FAST2SMS_API_KEY"); v != "" {
			c.Providers.Fast2SMS.APIKey = v
		}
	}
	if c.Providers.AiSensy != nil {
		if v := os.Getenv("AISENSY_API_KEY"); v != "" {
			c.Providers.AiSensy.APIKey = v
		}
	}
	if c.Providers.Gupshup != nil {
		if v := os.Getenv("GUPSHUP_API_KEY"); v != "" {
			c.Providers.Gupshup.APIKey = v
		}
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Store.Path == "" {
		c.Store.Path = "/var/lib/campaignd/jobs.db"
	}
	if c.SendLog.Path == "" {
		c.SendLog.Path = "/var/lib/campaignd/sendlog.db"
	}

	if c.Runner.MaxConcurrent == 0 {
		c.Runner.MaxConcurrent = 1
	}
	if c.Runner.JobTimeout == 0 {
		c.Runner.JobTimeout = 25 * time.Minute
	}
	if c.Runner.StaleAfter == 0 {
		c.Runner.StaleAfter = 30 * time.Minute
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = campaign.DefaultMaxAttempts
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = campaign.DefaultInitialBackoff
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = time.Hour
	}

	if c.Channels.Email.BatchSize == 0 {
		c.Channels.Email.BatchSize = 100
	}
	if c.Channels.Email.BatchDelay == 0 {
		c.Channels.Email.BatchDelay = 500 * time.Millisecond
	}
	if c.Channels.SMS.BatchSize == 0 {
		c.Channels.SMS.BatchSize = 100
	}
	if c.Channels.SMS.BatchDelay == 0 {
		c.Channels.SMS.BatchDelay = 500 * time.Millisecond
	}
	if c.Channels.WhatsApp.BatchSize == 0 {
		c.Channels.WhatsApp.BatchSize = 100
	}
	if c.Channels.WhatsApp.BatchDelay == 0 {
		c.Channels.WhatsApp.BatchDelay = time.Second
	}

	if c.Providers.SMTP != nil && c.Providers.SMTP.Port == 0 {
		c.Providers.SMTP.Port = 587
	}

	if c.Retention.Interval == 0 {
		c.Retention.Interval = time.Hour
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.CronSecret == "" && c.Auth.CronSecretHash == "" {
		return fmt.Errorf("auth.cron_secret or auth.cron_secret_hash is required (or set CRON_SECRET)")
	}
	if c.Auth.CronSecret != "" && c.Auth.CronSecretHash != "" {
		return fmt.Errorf("auth.cron_secret and auth.cron_secret_hash are mutually exclusive")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialBackoff <= 0 {
		return fmt.Errorf("retry.initial_backoff must be positive")
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("retry.max_backoff must not be below retry.initial_backoff")
	}

	if c.Runner.MaxConcurrent < 1 {
		return fmt.Errorf("runner.max_concurrent must be at least 1")
	}
	if c.Runner.StaleAfter < c.Runner.JobTimeout {
		return fmt.Errorf("runner.stale_after must not be below runner.job_timeout")
	}

	for name, ch := range map[string]ChannelConfig{
		"email":    c.Channels.Email,
		"sms":      c.Channels.SMS,
		"whatsapp": c.Channels.WhatsApp,
	} {
		if ch.BatchSize < 1 {
			return fmt.Errorf("channels.%s.batch_size must be at least 1", name)
		}
		if ch.BatchDelay < 0 {
			return fmt.Errorf("channels.%s.batch_delay must not be negative", name)
		}
		for provider, o := range ch.Providers {
			if o.BatchSize < 0 {
				return fmt.Errorf("channels.%s.providers.%s.batch_size must not be negative", name, provider)
			}
			if o.BatchDelay < 0 {
				return fmt.Errorf("channels.%s.providers.%s.batch_delay must not be negative", name, provider)
			}
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// channelConfig returns the channel section for a job type
func (c *Config) channelConfig(t campaign.Type) ChannelConfig {
	switch t {
	case campaign.TypeSMS:
		return c.Channels.SMS
	case campaign.TypeWhatsApp:
		return c.Channels.WhatsApp
	default:
		return c.Channels.Email
	}
}

// BatchPlan resolves batch size and inter-batch delay for a channel and
// provider, applying the per-provider override when present.
func (c *Config) BatchPlan(t campaign.Type, provider string) (size int, delay time.Duration) {
	ch := c.channelConfig(t)
	size = ch.BatchSize
	delay = ch.BatchDelay
	if o, ok := ch.Providers[provider]; ok {
		if o.BatchSize > 0 {
			size = o.BatchSize
		}
		if o.BatchDelay > 0 {
			delay = o.BatchDelay
		}
	}
	return size, delay
}
