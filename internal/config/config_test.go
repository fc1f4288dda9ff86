package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
server:
  listen_addr: ":9080"
  read_timeout: 10s

api:
  token_hash: "$2a$10$abcdefghijklmnopqrstuv"

database:
  path: "/tmp/lab.db"

actionlog:
  path: "/tmp/actions.db"
  retention: 720h

metrics:
  enabled: true
  allowed_ips:
    - "127.0.0.1"
    - "10.0.0.0/8"

logging:
  level: "debug"
  format: "text"

scheduler:
  winner_interval: 30m
  optimization_window: "90d"

notify:
  smtp:
    addr: "relay.salon.test:587"
    username: "alerts"
    password: "secret"
    from: "lab@salon.test"
    dkim:
      enabled: true
      domain: "salon.test"
      selector: "lab"
      key_file: "/etc/sendry-lab/dkim.pem"
  sms:
    gateway_url: "https://sms.example.test/send"
    sender: "SALON"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":9080" {
		t.Errorf("Server.ListenAddr = %v, want :9080", cfg.Server.ListenAddr)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 10s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Path != "/tmp/lab.db" {
		t.Errorf("Database.Path = %v, want /tmp/lab.db", cfg.Database.Path)
	}
	if cfg.ActionLog.Retention != 720*time.Hour {
		t.Errorf("ActionLog.Retention = %v, want 720h", cfg.ActionLog.Retention)
	}
	if !cfg.Metrics.Enabled || len(cfg.Metrics.AllowedIPs) != 2 {
		t.Errorf("unexpected metrics config %+v", cfg.Metrics)
	}
	if cfg.Scheduler.WinnerInterval != 30*time.Minute {
		t.Errorf("Scheduler.WinnerInterval = %v, want 30m", cfg.Scheduler.WinnerInterval)
	}
	if cfg.Scheduler.OptimizationWindow != "90d" {
		t.Errorf("Scheduler.OptimizationWindow = %v, want 90d", cfg.Scheduler.OptimizationWindow)
	}
	if !cfg.Notify.SMTP.DKIM.Enabled || cfg.Notify.SMTP.DKIM.Selector != "lab" {
		t.Errorf("unexpected dkim config %+v", cfg.Notify.SMTP.DKIM)
	}
	if !cfg.EmailEnabled() || !cfg.SMSEnabled() {
		t.Error("expected both alert channels to be enabled")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %v, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.MaxHeaderBytes != 1<<20 {
		t.Errorf("Server.MaxHeaderBytes = %v, want 1MB", cfg.Server.MaxHeaderBytes)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults %+v", cfg.Logging)
	}
	if cfg.Metrics.ListenAddr != ":9090" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("unexpected metrics defaults %+v", cfg.Metrics)
	}
	if cfg.Metrics.StoragePath != cfg.Database.Path {
		t.Errorf("Metrics.StoragePath = %v, want database path", cfg.Metrics.StoragePath)
	}
	if cfg.Scheduler.WinnerInterval != time.Hour || cfg.Scheduler.OptimizationInterval != 24*time.Hour {
		t.Errorf("unexpected scheduler defaults %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.OptimizationWindow != "30d" || cfg.Scheduler.RecommendationTTL != 168*time.Hour {
		t.Errorf("unexpected optimization defaults %+v", cfg.Scheduler)
	}
	if cfg.ActionLog.Retention != 90*24*time.Hour {
		t.Errorf("ActionLog.Retention = %v, want 90 days", cfg.ActionLog.Retention)
	}
	if cfg.EmailEnabled() || cfg.SMSEnabled() {
		t.Error("expected alert channels to be disabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SENDRY_LAB_DATABASE_PATH", "/data/env.db")
	t.Setenv("SENDRY_LAB_LOG_LEVEL", "warn")
	t.Setenv("SENDRY_LAB_SMTP_PASSWORD", "from-env")
	t.Setenv("SENDRY_LAB_METRICS_ALLOWED_IPS", "127.0.0.1,192.168.0.0/16")

	content := `
database:
  path: "/tmp/file.db"
notify:
  smtp:
    addr: "relay.salon.test:25"
    from: "lab@salon.test"
    password: "from-file"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/data/env.db" {
		t.Errorf("Database.Path = %v, want env override", cfg.Database.Path)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %v, want warn", cfg.Logging.Level)
	}
	if cfg.Notify.SMTP.Password != "from-env" {
		t.Errorf("SMTP.Password = %v, want from-env", cfg.Notify.SMTP.Password)
	}
	if cfg.Notify.SMTP.Addr != "relay.salon.test:25" {
		t.Errorf("SMTP.Addr = %v, want file value", cfg.Notify.SMTP.Addr)
	}
	if len(cfg.Metrics.AllowedIPs) != 2 || cfg.Metrics.AllowedIPs[1] != "192.168.0.0/16" {
		t.Errorf("Metrics.AllowedIPs = %v", cfg.Metrics.AllowedIPs)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("SENDRY_LAB_SERVER_LISTEN_ADDR", ":7000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("Server.ListenAddr = %v, want :7000", cfg.Server.ListenAddr)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "server: [unclosed")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "invalid window",
			modify:  func(c *Config) { c.Scheduler.OptimizationWindow = "14d" },
			wantErr: "optimization_window",
		},
		{
			name:    "invalid metrics ip",
			modify:  func(c *Config) { c.Metrics.AllowedIPs = []string{"10.0.0.300"} },
			wantErr: "metrics.allowed_ips",
		},
		{
			name:    "invalid metrics cidr",
			modify:  func(c *Config) { c.Metrics.AllowedIPs = []string{"10.0.0.0/40"} },
			wantErr: "metrics.allowed_ips",
		},
		{
			name:    "smtp without from",
			modify:  func(c *Config) { c.Notify.SMTP.Addr = "relay:25" },
			wantErr: "notify.smtp.from",
		},
		{
			name: "smtp without port",
			modify: func(c *Config) {
				c.Notify.SMTP.Addr = "relay"
				c.Notify.SMTP.From = "lab@salon.test"
			},
			wantErr: "notify.smtp.addr",
		},
		{
			name: "dkim without selector",
			modify: func(c *Config) {
				c.Notify.SMTP.DKIM = DKIMConfig{Enabled: true, Domain: "salon.test", KeyFile: "/k.pem"}
			},
			wantErr: "dkim.selector",
		},
		{
			name:    "sms gateway scheme",
			modify:  func(c *Config) { c.Notify.SMS.GatewayURL = "sms.example.test" },
			wantErr: "gateway_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.setDefaults()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
