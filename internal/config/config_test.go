package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_URL", "")
	t.Setenv("SSE_MAX_RECONNECTS", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_USER", "")
	t.Setenv("VIEW_IDLE_SECONDS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != "http://localhost:3000" {
		t.Fatalf("API_URL default: %s", cfg.APIURL)
	}
	if cfg.SSEMaxReconnects != 0 {
		t.Fatalf("SSE_MAX_RECONNECTS default: %d", cfg.SSEMaxReconnects)
	}
	if cfg.JournalEnabled() {
		t.Fatal("journal should be disabled without DSN")
	}
	if cfg.ViewIdle() != 2*time.Minute {
		t.Fatalf("VIEW_IDLE_SECONDS default: %v", cfg.ViewIdle())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("API_URL", "https://api.example.com")
	t.Setenv("SSE_MAX_RECONNECTS", "-1")
	t.Setenv("SSE_BASE_DELAY_MS", "250")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("MAX_TRADE_AMOUNT", "750.5")

	cfg, _ := Load()
	if cfg.APIURL != "https://api.example.com" || cfg.SSEMaxReconnects != -1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.SSEBaseDelay() != 250*time.Millisecond {
		t.Fatalf("base delay: %s", cfg.SSEBaseDelay())
	}
	if cfg.HTTPTimeout() != 15*time.Second {
		t.Fatalf("invalid int should fall back to default, got %s", cfg.HTTPTimeout())
	}
	if cfg.MaxTradeAmount != 750.5 {
		t.Fatalf("max trade amount: %v", cfg.MaxTradeAmount)
	}
}

func TestDSN(t *testing.T) {
	c := &Config{DatabaseURL: "postgres://u:p@db/x"}
	if c.DSN() != "postgres://u:p@db/x" {
		t.Fatalf("DATABASE_URL should win, got %s", c.DSN())
	}
	c = &Config{DBUser: "postgres", DBPassword: "pw", DBHost: "localhost", DBPort: 5432, DBName: "p2p"}
	if c.DSN() != "postgres://postgres:pw@localhost:5432/p2p?sslmode=disable" {
		t.Fatalf("built DSN: %s", c.DSN())
	}
	if (&Config{}).DSN() != "" {
		t.Fatal("empty config should yield empty DSN")
	}
}

func TestValidate_Errors(t *testing.T) {
	c := &Config{
		APIURL:             "localhost:3000",
		HTTPTimeoutSeconds: 0,
		SSEBaseDelayMS:     5000,
		SSEMaxDelayMS:      1000,
		ViewPort:           70000,
	}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"API_URL", "HTTP_TIMEOUT_SECONDS", "SSE_BASE_DELAY_MS", "VIEW_PORT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %s in %v", want, err)
		}
	}
}
