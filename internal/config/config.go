// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/cerbero/coordinator/internal/modules/sizing"
	"github.com/joho/godotenv"
)

// Transport kinds for scan fan-out
const (
	TransportMemory = "memory"
	TransportHTTP   = "http"
)

// DefaultUniverse is the symbol universe scanned when SYMBOL_UNIVERSE is unset
var DefaultUniverse = []string{
	"EURUSD", "GBPUSD", "USDJPY", "USDCHF", "USDCAD", "AUDUSD", "NZDUSD",
	"XAUUSD", "XAGUSD", "WTI", "DAX", "SPX", "NDX",
	"BTCUSD", "ETHUSD", "SOLUSD", "ADAUSD", "LINKUSD", "AVAXUSD", "DOGEUSD",
}

// Config holds application configuration.
// Built once by Load and treated as immutable afterwards.
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	LogFile  string
	Port     int
	DevMode  bool
	Pretty   bool

	Pricing    PricingConfig
	Leverage   LeverageConfig
	Scan       ScanConfig
	Tenants    TenantsConfig
	Settlement SettlementConfig
	Dispatch   DispatchConfig
	Archive    ArchiveConfig
}

// PricingConfig configures the price oracle
type PricingConfig struct {
	HermesURL        string
	Timeout          time.Duration
	FeedRegistryPath string // optional YAML file overriding the built-in feed table
}

// LeverageConfig holds per asset class leverage ceilings
type LeverageConfig struct {
	FX            float64
	Crypto        float64
	Metal         float64
	Index         float64
	CryptoSymbols []string
	MetalSymbols  []string
	IndexSymbol   string
}

// ToSizingConfig converts config.LeverageConfig to sizing.LeverageConfig
func (c LeverageConfig) ToSizingConfig() sizing.LeverageConfig {
	return sizing.LeverageConfig{
		FX:            c.FX,
		Crypto:        c.Crypto,
		Metal:         c.Metal,
		Index:         c.Index,
		CryptoSymbols: append([]string(nil), c.CryptoSymbols...),
		MetalSymbols:  append([]string(nil), c.MetalSymbols...),
		IndexSymbol:   c.IndexSymbol,
	}
}

// ScanConfig configures the periodic scan cycle
type ScanConfig struct {
	Universe      []string
	Prefix        int
	TopK          int
	VetoThreshold float64
	Schedule      string
	Timeout       time.Duration
	Direction     domain.Direction
	RiskFraction  float64
	RiskScore     float64
	Volatility    float64
}

// TenantsConfig configures tenant bootstrap and fan-out
type TenantsConfig struct {
	FanOutLimit   int
	SeedDemo      int
	DefaultEquity float64
	DefaultTenant string
	Wallet        string // TEST_USER_WALLET, falling back to RELAYER_ADDRESS
}

// SettlementConfig configures the on-chain settlement collaborator
type SettlementConfig struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	GasLimit        uint64
	Timeout         time.Duration
}

// Configured reports whether all settlement credentials are present.
// When false the dispatcher runs in degraded mode.
func (c SettlementConfig) Configured() bool {
	return c.RPCURL != "" && c.ContractAddress != "" && c.PrivateKey != ""
}

// DispatchConfig configures the dispatch transport
type DispatchConfig struct {
	Transport   string
	WorkerURL   string
	Workers     int
	MaxAttempts int
	QueueSize   int
}

// ArchiveConfig configures the S3-compatible ledger archive
type ArchiveConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Schedule        string
}

// Enabled reports whether archiving has a destination
func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("COORDINATOR_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	direction, err := domain.ParseDirection(getEnv("SCAN_DIRECTION", string(domain.DirectionLong)))
	if err != nil {
		return nil, fmt.Errorf("invalid SCAN_DIRECTION: %w", err)
	}

	cfg := &Config{
		DataDir:  dataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
		Port:     getEnvAsInt("PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Pretty:   getEnvAsBool("LOG_PRETTY", false),
		Pricing: PricingConfig{
			HermesURL:        strings.TrimRight(getEnv("PYTH_HERMES_URL", "https://hermes.pyth.network"), "/"),
			Timeout:          getEnvAsDuration("PRICE_TIMEOUT", 5*time.Second),
			FeedRegistryPath: getEnv("FEED_REGISTRY_PATH", ""),
		},
		Leverage: LeverageConfig{
			FX:            getEnvAsFloat("MAX_LEVERAGE_FX", 40),
			Crypto:        getEnvAsFloat("MAX_LEVERAGE_CRYPTO", 40),
			Metal:         getEnvAsFloat("MAX_LEVERAGE_METAL", 40),
			Index:         getEnvAsFloat("MAX_LEVERAGE_INDEX", 20),
			CryptoSymbols: getEnvAsList("CRYPTO_SYMBOLS", []string{"BTCUSD", "ETHUSD"}),
			MetalSymbols:  getEnvAsList("METAL_SYMBOLS", []string{"XAUUSD", "XAGUSD", "LIGHTCMDUSD"}),
			IndexSymbol:   strings.ToUpper(getEnv("INDEX_SYMBOL", "DOLLARIDXUSD")),
		},
		Scan: ScanConfig{
			Universe:      getEnvAsList("SYMBOL_UNIVERSE", DefaultUniverse),
			Prefix:        getEnvAsInt("SCAN_PREFIX", 5),
			TopK:          getEnvAsInt("SCAN_TOP_K", 3),
			VetoThreshold: getEnvAsFloat("RISK_VETO_THRESHOLD", 0.6),
			Schedule:      getEnv("SCAN_SCHEDULE", "@every 5m"),
			Timeout:       getEnvAsDuration("SCAN_TIMEOUT", 2*time.Minute),
			Direction:     direction,
			RiskFraction:  getEnvAsFloat("SCAN_RISK_FRACTION", 0.008),
			RiskScore:     getEnvAsFloat("SCORER_RISK", 0.9),
			Volatility:    getEnvAsFloat("SCORER_VOLATILITY", 0.9),
		},
		Tenants: TenantsConfig{
			FanOutLimit:   getEnvAsInt("SCAN_TENANT_LIMIT", 3),
			SeedDemo:      getEnvAsInt("SEED_DEMO_TENANTS", 3),
			DefaultEquity: getEnvAsFloat("DEFAULT_EQUITY", 10000),
			DefaultTenant: getEnv("DEFAULT_TENANT_ID", "TEST_USER_001"),
			Wallet:        getEnv("TEST_USER_WALLET", getEnv("RELAYER_ADDRESS", "")),
		},
		Settlement: SettlementConfig{
			RPCURL:          getEnv("ARBITRUM_RPC_URL", ""),
			ContractAddress: getEnv("PONTE_ADDRESS", ""),
			PrivateKey:      getEnv("RELAYER_PRIVATE_KEY", ""),
			ChainID:         int64(getEnvAsInt("CHAIN_ID", 421614)),
			GasLimit:        uint64(getEnvAsInt("SETTLEMENT_GAS_LIMIT", 600000)),
			Timeout:         getEnvAsDuration("SETTLEMENT_TIMEOUT", 20*time.Second),
		},
		Dispatch: DispatchConfig{
			Transport:   strings.ToLower(getEnv("DISPATCH_TRANSPORT", TransportMemory)),
			WorkerURL:   strings.TrimRight(getEnv("WORKER_URL", ""), "/"),
			Workers:     getEnvAsInt("DISPATCH_WORKERS", 4),
			MaxAttempts: getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 3),
			QueueSize:   getEnvAsInt("DISPATCH_QUEUE_SIZE", 256),
		},
		Archive: ArchiveConfig{
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
			Schedule:        getEnv("ARCHIVE_SCHEDULE", "@daily"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ranges and required combinations
func (c *Config) Validate() error {
	if c.Pricing.HermesURL == "" {
		return fmt.Errorf("%w: PYTH_HERMES_URL is empty", domain.ErrConfigurationMissing)
	}
	if c.Pricing.Timeout <= 0 || c.Pricing.Timeout > 5*time.Second {
		return fmt.Errorf("PRICE_TIMEOUT must be in (0, 5s], got %s", c.Pricing.Timeout)
	}

	for name, v := range map[string]float64{
		"MAX_LEVERAGE_FX":     c.Leverage.FX,
		"MAX_LEVERAGE_CRYPTO": c.Leverage.Crypto,
		"MAX_LEVERAGE_METAL":  c.Leverage.Metal,
		"MAX_LEVERAGE_INDEX":  c.Leverage.Index,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, v)
		}
	}

	if c.Scan.VetoThreshold < 0 || c.Scan.VetoThreshold > 1 {
		return fmt.Errorf("RISK_VETO_THRESHOLD must be in [0, 1], got %v", c.Scan.VetoThreshold)
	}
	if c.Scan.TopK < 0 {
		return fmt.Errorf("SCAN_TOP_K must be >= 0, got %d", c.Scan.TopK)
	}
	if c.Scan.Prefix < 0 {
		return fmt.Errorf("SCAN_PREFIX must be >= 0, got %d", c.Scan.Prefix)
	}
	if !(c.Scan.RiskFraction > 0 && c.Scan.RiskFraction <= 1) {
		return fmt.Errorf("SCAN_RISK_FRACTION must be in (0, 1], got %v", c.Scan.RiskFraction)
	}
	if c.Tenants.FanOutLimit < 0 {
		return fmt.Errorf("SCAN_TENANT_LIMIT must be >= 0, got %d", c.Tenants.FanOutLimit)
	}
	if c.Tenants.DefaultEquity < 0 {
		return fmt.Errorf("DEFAULT_EQUITY must be >= 0, got %v", c.Tenants.DefaultEquity)
	}

	switch c.Dispatch.Transport {
	case TransportMemory:
	case TransportHTTP:
		if c.Dispatch.WorkerURL == "" {
			return fmt.Errorf("%w: WORKER_URL is required for the http transport", domain.ErrConfigurationMissing)
		}
	default:
		return fmt.Errorf("unknown DISPATCH_TRANSPORT %q", c.Dispatch.Transport)
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive, got %d", c.Dispatch.Workers)
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be positive, got %d", c.Dispatch.MaxAttempts)
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value into upper-cased symbols
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if s := strings.ToUpper(strings.TrimSpace(part)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
