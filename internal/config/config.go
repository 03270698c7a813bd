package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultDBCConfig is the platform's Dynamic Bonding Curve config account.
const DefaultDBCConfig = "Hz3hBp4oRxJHZrU24P5kHTHzHffQjoWTq68CrDatewk3"

// Config holds all configuration for battled
type Config struct {
	// Database configuration
	DatabaseURL string
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBPort      string
	DBSSLMode   string

	// Redis configuration, empty disables the pass lock
	RedisURL string
	LockTTL  time.Duration

	// RPC configuration
	RPCEndpoints []string
	RPCRateLimit float64
	RPCBurst     int

	// Settlement wallet
	WalletKeypairPath string
	WalletPrivateKey  string

	// Platform addresses
	DBCConfig            string
	MainTokenPoolAddress string

	// Monitor configuration
	MonitorInterval      time.Duration
	MonitorBatchSize     int
	MonitorBatchDelay    time.Duration
	MonitorTokenDelay    time.Duration
	MonitorPrecheckDelay time.Duration
	AutoStart            bool

	// Settlement configuration
	SwapSlippageBps          int
	PriorityFeeMicroLamports uint64

	// SOL price feed
	SOLPriceURL     string
	SOLPriceDefault float64
	SOLPriceTTL     time.Duration

	// HTTP control surface
	HTTPPort string
	APIKey   string

	// Logging configuration
	LogLevel string
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		DBHost:               getEnv("DB_HOST", ""),
		DBUser:               getEnv("DB_USER", ""),
		DBPassword:           getEnv("DB_PASSWORD", ""),
		DBName:               getEnv("DB_NAME", ""),
		DBPort:               getEnv("DB_PORT", "5432"),
		DBSSLMode:            getEnv("DB_SSL_MODE", "disable"),
		RedisURL:             getEnv("REDIS_URL", ""),
		WalletKeypairPath:    getEnv("WALLET_KEYPAIR_PATH", "id.json"),
		WalletPrivateKey:     getEnv("WALLET_PRIVATE_KEY", ""),
		DBCConfig:            getEnv("DBC_CONFIG", DefaultDBCConfig),
		MainTokenPoolAddress: getEnv("MAIN_TOKEN_POOL_ADDRESS", ""),
		SOLPriceURL:          getEnv("SOL_PRICE_URL", "https://api.binance.com"),
		HTTPPort:             getEnv("HTTP_PORT", "3001"),
		APIKey:               getEnv("API_KEY", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	// Parse RPC endpoints
	rpcEndpointsStr := getEnv("RPC_ENDPOINTS", "")
	if rpcEndpointsStr == "" {
		return cfg, fmt.Errorf("RPC_ENDPOINTS environment variable is required")
	}
	for _, endpoint := range strings.Split(rpcEndpointsStr, ",") {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			cfg.RPCEndpoints = append(cfg.RPCEndpoints, endpoint)
		}
	}

	var err error
	if cfg.RPCRateLimit, err = parseFloatEnv("RPC_RATE_LIMIT", 5); err != nil {
		return cfg, fmt.Errorf("invalid RPC_RATE_LIMIT: %w", err)
	}
	if cfg.RPCBurst, err = parseIntEnv("RPC_BURST", 10); err != nil {
		return cfg, fmt.Errorf("invalid RPC_BURST: %w", err)
	}
	if cfg.LockTTL, err = parseDurationEnv("LOCK_TTL", 10*time.Minute); err != nil {
		return cfg, fmt.Errorf("invalid LOCK_TTL: %w", err)
	}

	// Parse monitor configuration
	if cfg.MonitorInterval, err = parseDurationEnv("MONITOR_INTERVAL", 60*time.Second); err != nil {
		return cfg, fmt.Errorf("invalid MONITOR_INTERVAL: %w", err)
	}
	if cfg.MonitorBatchSize, err = parseIntEnv("MONITOR_BATCH_SIZE", 3); err != nil {
		return cfg, fmt.Errorf("invalid MONITOR_BATCH_SIZE: %w", err)
	}
	if cfg.MonitorBatchDelay, err = parseDurationEnv("MONITOR_BATCH_DELAY", 2*time.Second); err != nil {
		return cfg, fmt.Errorf("invalid MONITOR_BATCH_DELAY: %w", err)
	}
	if cfg.MonitorTokenDelay, err = parseDurationEnv("MONITOR_TOKEN_DELAY", 300*time.Millisecond); err != nil {
		return cfg, fmt.Errorf("invalid MONITOR_TOKEN_DELAY: %w", err)
	}
	if cfg.MonitorPrecheckDelay, err = parseDurationEnv("MONITOR_PRECHECK_DELAY", 500*time.Millisecond); err != nil {
		return cfg, fmt.Errorf("invalid MONITOR_PRECHECK_DELAY: %w", err)
	}
	if cfg.AutoStart, err = parseBoolEnv("AUTO_START", true); err != nil {
		return cfg, fmt.Errorf("invalid AUTO_START: %w", err)
	}

	// Parse settlement configuration
	if cfg.SwapSlippageBps, err = parseIntEnv("SWAP_SLIPPAGE_BPS", 5000); err != nil {
		return cfg, fmt.Errorf("invalid SWAP_SLIPPAGE_BPS: %w", err)
	}
	fee, err := parseIntEnv("PRIORITY_FEE_MICROLAMPORTS", 0)
	if err != nil {
		return cfg, fmt.Errorf("invalid PRIORITY_FEE_MICROLAMPORTS: %w", err)
	}
	if fee < 0 {
		return cfg, fmt.Errorf("PRIORITY_FEE_MICROLAMPORTS must not be negative")
	}
	cfg.PriorityFeeMicroLamports = uint64(fee)

	// Parse price feed configuration
	if cfg.SOLPriceDefault, err = parseFloatEnv("SOL_PRICE_DEFAULT", 180); err != nil {
		return cfg, fmt.Errorf("invalid SOL_PRICE_DEFAULT: %w", err)
	}
	if cfg.SOLPriceTTL, err = parseDurationEnv("SOL_PRICE_TTL", 30*time.Second); err != nil {
		return cfg, fmt.Errorf("invalid SOL_PRICE_TTL: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// DSN returns the postgres connection string
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}

// validate checks that the configuration is valid
func (c Config) validate() error {
	if c.DatabaseURL == "" && (c.DBHost == "" || c.DBName == "") {
		return fmt.Errorf("DATABASE_URL or DB_HOST and DB_NAME are required")
	}

	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}

	if c.RPCRateLimit <= 0 {
		return fmt.Errorf("RPC_RATE_LIMIT must be positive")
	}

	if c.RPCBurst < 1 {
		return fmt.Errorf("RPC_BURST must be at least 1")
	}

	if c.WalletPrivateKey == "" && c.WalletKeypairPath == "" {
		return fmt.Errorf("WALLET_PRIVATE_KEY or WALLET_KEYPAIR_PATH is required")
	}

	if c.DBCConfig == "" {
		return fmt.Errorf("DBC_CONFIG is required")
	}

	if c.MonitorInterval < time.Second {
		return fmt.Errorf("MONITOR_INTERVAL must be at least 1s")
	}

	if c.MonitorBatchSize < 1 {
		return fmt.Errorf("MONITOR_BATCH_SIZE must be at least 1")
	}

	if c.SwapSlippageBps < 0 || c.SwapSlippageBps > 10000 {
		return fmt.Errorf("SWAP_SLIPPAGE_BPS must be between 0 and 10000")
	}

	if c.SOLPriceDefault <= 0 {
		return fmt.Errorf("SOL_PRICE_DEFAULT must be positive")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.LogLevel)
	}

	return nil
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv parses an integer environment variable with a default value
func parseIntEnv(key string, defaultValue int) (int, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(str)
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(str, 64)
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(str)
}

// parseDurationEnv accepts Go durations ("90s") or a bare number of milliseconds
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.Atoi(str); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(str)
}
