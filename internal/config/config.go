package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Secrets (from .env)
	Username        string
	Password        string
	WebhookURL      string
	BotName         string
	APIKey          string
	CORSAllowOrigin string

	// Game
	BaseURL       string
	APIFor        string
	PostmortemDir string

	// Database
	DBDriver   string // "postgres" or "sqlite"
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	SQLitePath string
	RedisURL   string

	// Ledger rules
	MaxSellAt     int
	DefaultSellAt int

	// Timing
	CycleIntervalSeconds     int
	InboxPollSeconds         int
	PriceCheckPeriodMinutes  int
	PriceCheckOffsetsMinutes []int
	PriceCheckWindowSeconds  int

	APIPort int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	offsets, err := envIntList("PRICE_CHECK_OFFSETS", []int{1, 16})
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		// Secrets
		Username:        envStr("KOL_USERNAME", ""),
		Password:        envStr("KOL_PASSWORD", ""),
		WebhookURL:      envStr("WEBHOOK_URL", ""),
		BotName:         envStr("BOT_NAME", "tulipbot"),
		APIKey:          envStr("API_KEY", ""),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),

		// Game
		BaseURL:       envStr("KOL_BASE_URL", "https://www.kingdomofloathing.com"),
		APIFor:        envStr("KOL_API_FOR", "tulipbot"),
		PostmortemDir: envStr("POSTMORTEM_DIR", "."),

		// Database
		DBDriver:   strings.ToLower(envStr("DB_DRIVER", "sqlite")),
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "tulipbot"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),
		SQLitePath: envStr("SQLITE_PATH", "./tulip.db"),
		RedisURL:   envStr("REDIS_URL", ""),

		// Ledger rules
		MaxSellAt:     envInt("MAX_SELL_AT", 28),
		DefaultSellAt: envInt("DEFAULT_SELL_AT", 28),

		// Timing
		CycleIntervalSeconds:     envInt("CYCLE_INTERVAL_SECONDS", 60),
		InboxPollSeconds:         envInt("INBOX_POLL_SECONDS", 3),
		PriceCheckPeriodMinutes:  envInt("PRICE_CHECK_PERIOD_MINUTES", 30),
		PriceCheckOffsetsMinutes: offsets,
		PriceCheckWindowSeconds:  envInt("PRICE_CHECK_WINDOW_SECONDS", 60),

		APIPort: envInt("API_PORT", 3011),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.Username == "" {
		errs = append(errs, "KOL_USERNAME is required")
	}
	if c.Password == "" {
		errs = append(errs, "KOL_PASSWORD is required")
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		errs = append(errs, fmt.Sprintf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver))
	}
	if c.DBDriver == "postgres" && c.DBUser == "" {
		errs = append(errs, "DB_USER is required for postgres")
	}
	if c.DefaultSellAt > c.MaxSellAt {
		errs = append(errs, fmt.Sprintf("DEFAULT_SELL_AT (%d) exceeds MAX_SELL_AT (%d)", c.DefaultSellAt, c.MaxSellAt))
	}
	if c.CycleIntervalSeconds <= 0 {
		errs = append(errs, "CYCLE_INTERVAL_SECONDS must be positive")
	}
	if c.PriceCheckPeriodMinutes <= 0 {
		errs = append(errs, "PRICE_CHECK_PERIOD_MINUTES must be positive")
	}
	for _, off := range c.PriceCheckOffsetsMinutes {
		if off < 0 || off >= c.PriceCheckPeriodMinutes {
			errs = append(errs, fmt.Sprintf("PRICE_CHECK_OFFSETS entry %d is outside the %d minute period", off, c.PriceCheckPeriodMinutes))
		}
	}
	if c.WebhookURL == "" {
		fmt.Println("[WARN] WEBHOOK_URL not set; reconciliation alerts go to the log only")
	}
	if c.APIKey == "" {
		fmt.Println("[WARN] API_KEY not set; price API has no authentication")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== Tulip Bot Configuration ===")
	fmt.Printf("Account: %s\n", c.Username)
	fmt.Printf("Game: %s\n", c.BaseURL)
	fmt.Println("--------------------------------------")
	fmt.Printf("Database: %s\n", c.DBDriver)
	if c.DBDriver == "sqlite" {
		fmt.Printf("  Path: %s\n", c.SQLitePath)
	} else {
		fmt.Printf("  %s:%d/%s\n", c.DBHost, c.DBPort, c.DBName)
	}
	fmt.Printf("  Redis cache: %s\n", boolLabel(c.RedisURL != "", "enabled", "disabled"))
	fmt.Println("--------------------------------------")
	fmt.Printf("Cycle: every %ds\n", c.CycleIntervalSeconds)
	fmt.Printf("Price checks: minutes %v of every %d (window %ds)\n",
		c.PriceCheckOffsetsMinutes, c.PriceCheckPeriodMinutes, c.PriceCheckWindowSeconds)
	fmt.Printf("Sell threshold: default %d, max %d\n", c.DefaultSellAt, c.MaxSellAt)
	fmt.Printf("Price API port: %d\n", c.APIPort)
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalSeconds) * time.Second
}

func (c *Config) InboxPollInterval() time.Duration {
	return time.Duration(c.InboxPollSeconds) * time.Second
}

// PriceCheckOffsets returns the configured offsets into each price period.
func (c *Config) PriceCheckOffsets() []time.Duration {
	out := make([]time.Duration, len(c.PriceCheckOffsetsMinutes))
	for i, m := range c.PriceCheckOffsetsMinutes {
		out[i] = time.Duration(m) * time.Minute
	}
	return out
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

func envIntList(key string, fallback []int) ([]int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an integer", key, part)
		}
		out = append(out, n)
	}
	return out, nil
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
