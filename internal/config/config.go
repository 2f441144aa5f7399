package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/helix-pay/helix_custody/internal/chains"
)

const (
	defaultAppName        = "HelixCustody"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultNetwork        = "mainnet"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
)

// Config captures application runtime configuration loaded from environment
// variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// Network selects mainnet or testnet for every chain-facing provider.
	Network string
	// BlockCypherToken authenticates explorer and broadcast calls.
	BlockCypherToken string
	// SignerURL is the base URL of the remote signing service.
	SignerURL string
	// FeeEndpoints maps each chain to its fee-estimate API, when one exists.
	FeeEndpoints map[chains.Chain]string

	// APITokenHash is the bcrypt hash clients must match to call the API.
	// Empty disables authentication, which is only sensible in development.
	APITokenHash string

	WithdrawalMaxAttempts     int
	ConsolidationPollInterval time.Duration
	ConsolidationPollLimit    int
	MaxConsolidationFeeRate   int64
}

// Load reads configuration values from the environment and populates a Config
// instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		AppEnv:           getEnv("APP_ENV", defaultAppEnv),
		Port:             getEnv("PORT", defaultPort),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		ShutdownPeriod:   defaultShutdownDelay,
		IdempotencyTTL:   defaultIdempotencyTTL,
		Network:          getEnv("NETWORK", defaultNetwork),
		BlockCypherToken: os.Getenv("BLOCKCYPHER_TOKEN"),
		SignerURL:        os.Getenv("SIGNER_URL"),
		APITokenHash:     os.Getenv("API_TOKEN_HASH"),
		FeeEndpoints:     make(map[chains.Chain]string),
	}

	for _, chain := range chains.All() {
		envVar := "FEE_API_" + strings.ToUpper(string(chain))
		if url := os.Getenv(envVar); url != "" {
			cfg.FeeEndpoints[chain] = url
		}
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.ConsolidationPollInterval, err = durationEnv("CONSOLIDATION_POLL_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.WithdrawalMaxAttempts, err = intEnv("WITHDRAWAL_MAX_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if cfg.ConsolidationPollLimit, err = intEnv("CONSOLIDATION_POLL_LIMIT", 60); err != nil {
		return Config{}, err
	}
	maxRate, err := intEnv("MAX_CONSOLIDATION_FEE_RATE", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConsolidationFeeRate = int64(maxRate)

	if cfg.Network != "mainnet" && cfg.Network != "testnet" {
		return Config{}, fmt.Errorf("NETWORK must be mainnet or testnet, got %q", cfg.Network)
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.SignerURL == "" && !cfg.IsDev() {
		return Config{}, fmt.Errorf("SIGNER_URL must be set when APP_ENV=%s", cfg.AppEnv)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the process runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	// Accept both bare seconds and Go duration syntax.
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
