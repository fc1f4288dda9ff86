package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "SENDRY_LAB_"

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Database  DatabaseConfig  `yaml:"database"`
	ActionLog ActionLogConfig `yaml:"actionlog"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// ServerConfig contains HTTP API listener settings
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" env:"SERVER_LISTEN_ADDR"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"` // Default: 1MB
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // Default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // Default: 30s
	IdleTimeout     time.Duration `yaml:"idle_timeout"`     // Default: 60s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Default: 30s
}

// APIConfig contains admin API authentication settings
type APIConfig struct {
	TokenHash string `yaml:"token_hash" env:"API_TOKEN_HASH"` // bcrypt hash of the admin token
}

// DatabaseConfig contains the record store location
type DatabaseConfig struct {
	Path string `yaml:"path" env:"DATABASE_PATH"`
}

// ActionLogConfig contains audit log storage settings
type ActionLogConfig struct {
	Path      string        `yaml:"path" env:"ACTIONLOG_PATH"`
	Retention time.Duration `yaml:"retention"` // Prune entries older than this. Default: 90 days
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled" env:"METRICS_ENABLED"`
	ListenAddr    string        `yaml:"listen_addr" env:"METRICS_LISTEN_ADDR"` // Default: :9090
	Path          string        `yaml:"path"`                                  // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"`                        // Default: 10s
	StoragePath   string        `yaml:"storage_path"`                          // Disk usage reported for this path
	AllowedIPs    []string      `yaml:"allowed_ips" env:"METRICS_ALLOWED_IPS"` // IP addresses/CIDRs allowed to scrape
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json, text
}

// SchedulerConfig contains the cadence of the periodic jobs
type SchedulerConfig struct {
	Disabled             bool          `yaml:"disabled" env:"SCHEDULER_DISABLED"`
	WinnerInterval       time.Duration `yaml:"winner_interval"`       // Default: 1h
	OptimizationInterval time.Duration `yaml:"optimization_interval"` // Default: 24h
	OptimizationWindow   string        `yaml:"optimization_window"`   // 7d, 30d, 90d, all. Default: 30d
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`      // Default: 1h
	RecommendationTTL    time.Duration `yaml:"recommendation_ttl"`    // Default: 168h
}

// MonitorConfig contains performance monitor settings
type MonitorConfig struct {
	SkipResume bool `yaml:"skip_resume"` // Do not restart loops of running campaigns at startup
}

// NotifyConfig contains alert delivery settings
type NotifyConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
	SMS  SMSConfig  `yaml:"sms"`
}

// SMTPConfig contains the relay used for email alerts
type SMTPConfig struct {
	Addr          string        `yaml:"addr" env:"SMTP_ADDR"`
	Username      string        `yaml:"username" env:"SMTP_USERNAME"`
	Password      string        `yaml:"password" env:"SMTP_PASSWORD"`
	From          string        `yaml:"from" env:"SMTP_FROM"`
	Hostname      string        `yaml:"hostname"`
	Timeout       time.Duration `yaml:"timeout"` // Default: 30s
	SkipTLSVerify bool          `yaml:"skip_tls_verify"`
	DKIM          DKIMConfig    `yaml:"dkim"`
}

// DKIMConfig contains DKIM signing settings for alert mail
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file" env:"DKIM_KEY_FILE"`
}

// SMSConfig contains the HTTP gateway used for SMS alerts
type SMSConfig struct {
	GatewayURL string        `yaml:"gateway_url" env:"SMS_GATEWAY_URL"`
	APIKey     string        `yaml:"api_key" env:"SMS_API_KEY"`
	Sender     string        `yaml:"sender"`
	Timeout    time.Duration `yaml:"timeout"` // Default: 10s
}

// Load loads configuration from a YAML file, then applies environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = 1 << 20 // 1 MB
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
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/sendry-lab/lab.db"
	}
	if c.ActionLog.Path == "" {
		c.ActionLog.Path = "/var/lib/sendry-lab/actions.db"
	}
	if c.ActionLog.Retention == 0 {
		c.ActionLog.Retention = 90 * 24 * time.Hour
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
	if c.Metrics.StoragePath == "" {
		c.Metrics.StoragePath = c.Database.Path
	}

	if c.Scheduler.WinnerInterval == 0 {
		c.Scheduler.WinnerInterval = time.Hour
	}
	if c.Scheduler.OptimizationInterval == 0 {
		c.Scheduler.OptimizationInterval = 24 * time.Hour
	}
	if c.Scheduler.OptimizationWindow == "" {
		c.Scheduler.OptimizationWindow = "30d"
	}
	if c.Scheduler.CleanupInterval == 0 {
		c.Scheduler.CleanupInterval = time.Hour
	}
	if c.Scheduler.RecommendationTTL == 0 {
		c.Scheduler.RecommendationTTL = 7 * 24 * time.Hour
	}

	if c.Notify.SMTP.Timeout == 0 {
		c.Notify.SMTP.Timeout = 30 * time.Second
	}
	if c.Notify.SMTP.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Notify.SMTP.Hostname = hostname
	}
	if c.Notify.SMS.Timeout == 0 {
		c.Notify.SMS.Timeout = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	validWindows := map[string]bool{"7d": true, "30d": true, "90d": true, "all": true}
	if !validWindows[c.Scheduler.OptimizationWindow] {
		return fmt.Errorf("invalid scheduler.optimization_window: %s (must be 7d, 30d, 90d, or all)", c.Scheduler.OptimizationWindow)
	}

	for _, entry := range c.Metrics.AllowedIPs {
		if err := validateNetwork(entry); err != nil {
			return fmt.Errorf("invalid metrics.allowed_ips entry: %w", err)
		}
	}

	if err := c.validateNotify(); err != nil {
		return err
	}

	return nil
}

// validateNotify validates alert delivery configuration
func (c *Config) validateNotify() error {
	smtp := c.Notify.SMTP
	if smtp.Addr != "" {
		if smtp.From == "" {
			return fmt.Errorf("notify.smtp.from is required when notify.smtp.addr is set")
		}
		if _, _, err := net.SplitHostPort(smtp.Addr); err != nil {
			return fmt.Errorf("invalid notify.smtp.addr: %w", err)
		}
	}

	if smtp.DKIM.Enabled {
		if smtp.DKIM.Domain == "" {
			return fmt.Errorf("notify.smtp.dkim.domain is required when DKIM is enabled")
		}
		if smtp.DKIM.Selector == "" {
			return fmt.Errorf("notify.smtp.dkim.selector is required when DKIM is enabled")
		}
		if smtp.DKIM.KeyFile == "" {
			return fmt.Errorf("notify.smtp.dkim.key_file is required when DKIM is enabled")
		}
	}

	sms := c.Notify.SMS
	if sms.GatewayURL != "" && !strings.HasPrefix(sms.GatewayURL, "http://") && !strings.HasPrefix(sms.GatewayURL, "https://") {
		return fmt.Errorf("notify.sms.gateway_url must be an http or https URL")
	}

	return nil
}

func validateNetwork(entry string) error {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return err
		}
		return nil
	}
	if net.ParseIP(entry) == nil {
		return fmt.Errorf("invalid IP %q", entry)
	}
	return nil
}

// EmailEnabled reports whether email alerts can be sent
func (c *Config) EmailEnabled() bool {
	return c.Notify.SMTP.Addr != ""
}

// SMSEnabled reports whether SMS alerts can be sent
func (c *Config) SMSEnabled() bool {
	return c.Notify.SMS.GatewayURL != ""
}
