package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kjannette/p2p-trade-client/internal/logging"
)

type Config struct {
	// Backend
	APIURL             string
	AuthToken          string
	WalletAddress      string
	HTTPTimeoutSeconds int
	ReferencePriceURL  string

	// Trade event stream
	SSEMaxReconnects int
	SSEBaseDelayMS   int
	SSEMaxDelayMS    int

	AccountCacheTTLSeconds int

	// Local view server
	ViewPort        int
	ViewAPIKey      string
	CORSAllowOrigin string
	ViewIdleSeconds int

	// Notifications
	WebhookURL string
	BotName    string

	// Snapshot journal (optional)
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string

	// Local trade limits
	MaxTradeAmount float64
	MaxOpenTrades  int

	DeadlineCheckSeconds int

	LogLevel string
	Env      string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIURL:             envStr("API_URL", "http://localhost:3000"),
		AuthToken:          envStr("AUTH_TOKEN", ""),
		WalletAddress:      envStr("WALLET_ADDRESS", ""),
		HTTPTimeoutSeconds: envInt("HTTP_TIMEOUT_SECONDS", 15),
		ReferencePriceURL:  envStr("REFERENCE_PRICE_URL", ""),

		SSEMaxReconnects: envInt("SSE_MAX_RECONNECTS", 0),
		SSEBaseDelayMS:   envInt("SSE_BASE_DELAY_MS", 500),
		SSEMaxDelayMS:    envInt("SSE_MAX_DELAY_MS", 30000),

		AccountCacheTTLSeconds: envInt("ACCOUNT_CACHE_TTL_SECONDS", 60),

		ViewPort:        envInt("VIEW_PORT", 8080),
		ViewAPIKey:      envStr("VIEW_API_KEY", ""),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),
		ViewIdleSeconds: envInt("VIEW_IDLE_SECONDS", 120),

		WebhookURL: envStr("WEBHOOK_URL", ""),
		BotName:    envStr("BOT_NAME", "P2PTradeClient"),

		DatabaseURL: envStr("DATABASE_URL", ""),
		DBHost:      envStr("DB_HOST", "localhost"),
		DBPort:      envInt("DB_PORT", 5432),
		DBName:      envStr("DB_NAME", "p2p_trade_client"),
		DBUser:      envStr("DB_USER", ""),
		DBPassword:  envStr("DB_PASSWORD", ""),

		MaxTradeAmount: envFloat("MAX_TRADE_AMOUNT", 0),
		MaxOpenTrades:  envInt("MAX_OPEN_TRADES", 0),

		DeadlineCheckSeconds: envInt("DEADLINE_CHECK_SECONDS", 30),

		LogLevel: envStr("LOG_LEVEL", "info"),
		Env:      envStr("ENV", "development"),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	log := logging.Component("config")

	if u, err := url.Parse(c.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("API_URL must be an http(s) URL, got %q", c.APIURL))
	}
	if c.HTTPTimeoutSeconds <= 0 {
		errs = append(errs, "HTTP_TIMEOUT_SECONDS must be positive")
	}
	if c.SSEBaseDelayMS <= 0 || c.SSEMaxDelayMS <= 0 {
		errs = append(errs, "SSE_BASE_DELAY_MS and SSE_MAX_DELAY_MS must be positive")
	} else if c.SSEBaseDelayMS > c.SSEMaxDelayMS {
		errs = append(errs, "SSE_BASE_DELAY_MS must not exceed SSE_MAX_DELAY_MS")
	}
	if c.ViewPort <= 0 || c.ViewPort > 65535 {
		errs = append(errs, fmt.Sprintf("VIEW_PORT out of range: %d", c.ViewPort))
	}
	if c.ViewIdleSeconds < 0 {
		errs = append(errs, "VIEW_IDLE_SECONDS must not be negative")
	}
	if c.MaxTradeAmount < 0 || c.MaxOpenTrades < 0 {
		errs = append(errs, "MAX_TRADE_AMOUNT and MAX_OPEN_TRADES must not be negative")
	}

	if c.AuthToken == "" {
		log.Warn().Msg("AUTH_TOKEN not set, protected commands are unavailable")
	}
	if c.WalletAddress == "" {
		log.Warn().Msg("WALLET_ADDRESS not set, escrow actions may be unavailable")
	}
	if c.ViewAPIKey == "" {
		log.Warn().Msg("VIEW_API_KEY not set, view server has no authentication")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== P2P Trade Client Configuration ===")
	fmt.Printf("Backend: %s\n", c.APIURL)
	fmt.Printf("Auth: %s\n", boolLabel(c.AuthToken != "", "bearer token configured", "not set (read-only)"))
	if c.WalletAddress != "" {
		fmt.Printf("Wallet: %s\n", truncWallet(c.WalletAddress))
	}
	fmt.Println("--------------------------------------")
	fmt.Println("Trade events:")
	fmt.Printf("  Reconnects: %s\n", reconnectLabel(c.SSEMaxReconnects))
	fmt.Printf("  Backoff: %dms - %dms (full jitter)\n", c.SSEBaseDelayMS, c.SSEMaxDelayMS)
	fmt.Println("--------------------------------------")
	fmt.Printf("View server port: %d\n", c.ViewPort)
	fmt.Printf("Journal: %s\n", boolLabel(c.JournalEnabled(), "enabled", "disabled"))
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set"))
	fmt.Println("======================================")
}

// DSN returns DATABASE_URL, or a URL built from DB_* when DB_USER is set.
// Empty means the journal is disabled.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBUser == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) JournalEnabled() bool { return c.DSN() != "" }

func (c *Config) Production() bool { return strings.EqualFold(c.Env, "production") }

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) SSEBaseDelay() time.Duration {
	return time.Duration(c.SSEBaseDelayMS) * time.Millisecond
}

func (c *Config) SSEMaxDelay() time.Duration {
	return time.Duration(c.SSEMaxDelayMS) * time.Millisecond
}

func (c *Config) AccountCacheTTL() time.Duration {
	return time.Duration(c.AccountCacheTTLSeconds) * time.Second
}

// ViewIdle is how long the view server keeps an unwatched trade stream open.
func (c *Config) ViewIdle() time.Duration {
	return time.Duration(c.ViewIdleSeconds) * time.Second
}

func (c *Config) DeadlineInterval() time.Duration {
	return time.Duration(c.DeadlineCheckSeconds) * time.Second
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func truncWallet(addr string) string {
	if len(addr) > 12 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}

func reconnectLabel(n int) string {
	switch {
	case n < 0:
		return "disabled"
	case n == 0:
		return "unlimited"
	default:
		return strconv.Itoa(n)
	}
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
