package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/sendry-lab/internal/config"
)

func TestGenerateRandomString(t *testing.T) {
	lengths := []int{8, 16, 32, 64}

	for _, length := range lengths {
		result := generateRandomString(length)
		if len(result) != length {
			t.Errorf("generateRandomString(%d) returned string of length %d", length, len(result))
		}
	}

	s1 := generateRandomString(32)
	s2 := generateRandomString(32)
	if s1 == s2 {
		t.Error("generateRandomString should generate unique strings")
	}
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"lab@salon.test", "salon.test"},
		{"Lab <lab@salon.test>", "salon.test"},
		{"lab@", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := senderDomain(tt.addr); got != tt.want {
			t.Errorf("senderDomain(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestGenerateConfigLoads(t *testing.T) {
	dir := t.TempDir()
	initDataDir = dir
	initSMTPAddr = "relay.salon.test:587"
	initSMTPFrom = "lab@salon.test"
	initSMSURL = "https://sms.salon.test/send"
	initMetrics = true
	t.Cleanup(func() {
		initSMTPAddr, initSMTPFrom, initSMSURL = "", "", ""
	})

	hash, err := bcrypt.GenerateFromPassword([]byte("a-long-api-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash token: %v", err)
	}
	keyPath := filepath.Join(dir, "dkim", "salon.test.key")

	content := generateConfig(string(hash), keyPath)
	for _, check := range []string{
		`addr: "relay.salon.test:587"`,
		`selector: "lab"`,
		`gateway_url: "https://sms.salon.test/send"`,
	} {
		if !strings.Contains(content, check) {
			t.Errorf("generated config missing: %s", check)
		}
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.Database.Path != filepath.Join(dir, "lab.db") {
		t.Errorf("Database.Path = %v", cfg.Database.Path)
	}
	if bcrypt.CompareHashAndPassword([]byte(cfg.API.TokenHash), []byte("a-long-api-token")) != nil {
		t.Error("token hash does not match the token")
	}
	if !cfg.Notify.SMTP.DKIM.Enabled || cfg.Notify.SMTP.DKIM.KeyFile != keyPath {
		t.Errorf("unexpected dkim config %+v", cfg.Notify.SMTP.DKIM)
	}
	if !cfg.EmailEnabled() || !cfg.SMSEnabled() || !cfg.Metrics.Enabled {
		t.Error("expected alerts and metrics to be enabled")
	}
}

func TestGenerateConfigMinimal(t *testing.T) {
	initDataDir = t.TempDir()
	initSMTPAddr, initSMTPFrom, initSMSURL = "", "", ""
	initMetrics = false

	cfgPath := filepath.Join(initDataDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(generateConfig("", "")), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.EmailEnabled() || cfg.SMSEnabled() || cfg.Metrics.Enabled {
		t.Error("expected alerts and metrics to be disabled")
	}
}
