package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"disputeflow/db"
)

type Config struct {
	Env        string
	Port       string
	DB         db.Config
	Redis      RedisConfig
	OTel       OTelConfig
	Auth       AuthConfig
	Ledger     LedgerConfig
	Policy     PolicyConfig
	Reconciler ReconcilerConfig
}

type RedisConfig struct {
	URL              string
	ReputationStream string
	LockKey          string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type AuthConfig struct {
	JWTSecret string
}

type LedgerConfig struct {
	BaseURL  string
	APIKey   string
	RetryMax int
	Timeout  time.Duration
}

// PolicyConfig holds the dispute timing and jury rules.
type PolicyConfig struct {
	EvidenceWindow     time.Duration
	Tier2Window        time.Duration
	Tier3Window        time.Duration
	PanelSize          int
	MinJurorReputation float64
	RequesterShareBps  int
}

type ReconcilerConfig struct {
	Enabled         bool
	Interval        time.Duration
	SettlementLease time.Duration
}

// Load loads configuration from environment variables. In development a .env file
// is read first when present.
func Load() (Config, error) {
	if getEnv("DISPUTEFLOW_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env:  getEnv("DISPUTEFLOW_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Redis: RedisConfig{
			URL:              getEnv("REDIS_URL", "redis://localhost:6379/0"),
			ReputationStream: getEnv("REPUTATION_STREAM", "reputation_events"),
			LockKey:          getEnv("RECONCILER_LOCK_KEY", "disputeflow:reconciler:lock"),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "disputeflow"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Ledger: LedgerConfig{
			BaseURL:  getEnv("LEDGER_BASE_URL", ""),
			APIKey:   getEnv("LEDGER_API_KEY", ""),
			RetryMax: getEnvInt("LEDGER_RETRY_MAX", 3),
			Timeout:  getEnvDuration("LEDGER_TIMEOUT", 10*time.Second),
		},
		Policy: PolicyConfig{
			EvidenceWindow:     getEnvDuration("EVIDENCE_WINDOW", 72*time.Hour),
			Tier2Window:        getEnvDuration("TIER2_WINDOW", 48*time.Hour),
			Tier3Window:        getEnvDuration("TIER3_WINDOW", 72*time.Hour),
			PanelSize:          getEnvInt("JURY_PANEL_SIZE", 5),
			MinJurorReputation: getEnvFloat("JURY_MIN_REPUTATION", 50),
			RequesterShareBps:  getEnvInt("SLASH_REQUESTER_SHARE_BPS", 5000),
		},
		Reconciler: ReconcilerConfig{
			Enabled:         getEnvBool("RECONCILER_ENABLED", true),
			Interval:        getEnvDuration("RECONCILER_INTERVAL", 5*time.Minute),
			SettlementLease: getEnvDuration("SETTLEMENT_LEASE", 10*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Ledger.BaseURL == "" {
		return fmt.Errorf("LEDGER_BASE_URL is required")
	}
	return c.Policy.Validate()
}

// Validate rejects even or empty panels: a tie must never be reachable by quorum.
func (p PolicyConfig) Validate() error {
	if p.PanelSize <= 0 || p.PanelSize%2 == 0 {
		return fmt.Errorf("JURY_PANEL_SIZE must be a positive odd number, got %d", p.PanelSize)
	}
	if p.RequesterShareBps < 0 || p.RequesterShareBps > 10000 {
		return fmt.Errorf("SLASH_REQUESTER_SHARE_BPS must be within 0..10000, got %d", p.RequesterShareBps)
	}
	if p.EvidenceWindow < 0 || p.Tier2Window <= 0 || p.Tier3Window <= 0 {
		return fmt.Errorf("dispute windows must be positive")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
