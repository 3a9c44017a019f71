package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

// Magic Eden v2 defaults for the marketplace accounts the classifier matches.
const (
	DefaultMarketplaceListingAccount = "GUfCR9mK6azb9vcpsxgXyj7XRPAKJd4KMHTTVvtncGgp"
	DefaultMarketplaceDelegate       = "1BWutmTvYPwDtmw9abTkS4Ssr8no61spGAvW1X6NDix"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaRPCURLs      []string
	RPCRequestInterval time.Duration

	// Marketplace configuration
	MarketplaceListingAccount string
	MarketplaceDelegate       string
	MarketplaceMultisigs      []string

	// Metadata probe cache
	MetadataCacheSize int

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Polling configuration
	DefaultPollInterval time.Duration
	MinPollInterval     time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaRPCURLs = parseList("SOLANA_RPC_URLS")
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required"))
	}

	interval, err := parseDuration("RPC_REQUEST_INTERVAL", "600ms")
	if err != nil {
		errs = append(errs, err)
	} else if interval < 0 {
		errs = append(errs, fmt.Errorf("RPC_REQUEST_INTERVAL cannot be negative"))
	} else {
		cfg.RPCRequestInterval = interval
	}

	// Marketplace configuration
	cfg.MarketplaceListingAccount = getEnvOrDefault("MARKETPLACE_LISTING_ACCOUNT", DefaultMarketplaceListingAccount)
	cfg.MarketplaceDelegate = getEnvOrDefault("MARKETPLACE_DELEGATE", DefaultMarketplaceDelegate)
	cfg.MarketplaceMultisigs = parseList("MARKETPLACE_MULTISIGS")

	for _, a := range append([]string{cfg.MarketplaceListingAccount, cfg.MarketplaceDelegate}, cfg.MarketplaceMultisigs...) {
		if !isAddress(a) {
			errs = append(errs, fmt.Errorf("invalid marketplace address %q", a))
		}
	}

	cacheSize, err := parseInt("METADATA_CACHE_SIZE", 1024)
	if err != nil {
		errs = append(errs, err)
	} else if cacheSize < 0 {
		errs = append(errs, fmt.Errorf("METADATA_CACHE_SIZE cannot be negative"))
	} else {
		cfg.MetadataCacheSize = cacheSize
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "nftactivity-refresh")

	// Polling configuration
	defaultInterval, err := parseDuration("DEFAULT_POLL_INTERVAL", "10m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultPollInterval = defaultInterval
	}

	minInterval, err := parseDuration("MIN_POLL_INTERVAL", "1m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinPollInterval = minInterval
	}

	// Validate intervals
	if cfg.MinPollInterval > cfg.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("MIN_POLL_INTERVAL (%v) cannot be greater than DEFAULT_POLL_INTERVAL (%v)",
			cfg.MinPollInterval, cfg.DefaultPollInterval))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	if !isAddress(c.MarketplaceListingAccount) {
		errs = append(errs, fmt.Errorf("MarketplaceListingAccount must be a valid address"))
	}

	if !isAddress(c.MarketplaceDelegate) {
		errs = append(errs, fmt.Errorf("MarketplaceDelegate must be a valid address"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.MinPollInterval > c.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("MinPollInterval cannot be greater than DefaultPollInterval"))
	}

	if c.DefaultPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("DefaultPollInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma-separated environment variable, dropping blanks.
func parseList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isAddress(s string) bool {
	b, err := base58.Decode(s)
	return err == nil && len(b) == 32
}
