package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal pipeline.
type Config struct {
	Port string

	// Redis (PriorityQueue backend)
	RedisURL string

	// SQLite (StrategyStore / KeyStore)
	SQLitePath string

	// Auth / licensing
	JWTSecret     string
	LicenseServer string

	// Key encryption (KeyStore) is loaded directly from MASTER_ENCRYPTION_KEY
	// [_V2.._V10] by crypto.NewKeyManager, matching the teacher's own
	// versioned-env-var convention; Config does not duplicate that parsing.

	// Webhook ingress
	WebhookRateLimit       float64 // requests/sec per IP; loaded but not applied (internal/api's limiter is fixed at 20 req/s, burst 50)
	DedupTTL               time.Duration
	MaxExecutionTimeMs     int
	DefaultSlippagePercent float64

	// Exchange defaults
	BinanceTestnet bool

	// Registry (adapter pool)
	RegistryMaxSize          int
	RegistryIdleTimeout      time.Duration
	RegistryFailureThreshold int
	RegistryCircuitTimeout   time.Duration

	// Orphan recovery
	RecoverMaxAge time.Duration

	// Strategy config sync
	StrategyConfigPath string

	// DryRun is reported in the /health response. It does not change
	// which adapter a signal runs against: each strategy uses the
	// registry factory for its configured exchange, and the in-memory
	// venue (internal/exchange/dryrun) is only used by strategies
	// configured for the "dryrun" exchange id.
	DryRun bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                     getEnv("PORT", "8080"),
		RedisURL:                 getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SQLitePath:               getEnv("SQLITE_PATH", "./data/signalpipeline.db"),
		JWTSecret:                getEnv("JWT_SECRET", "dev-secret"),
		LicenseServer:            getEnv("LICENSE_SERVER", ""),
		WebhookRateLimit:         getEnvFloat("WEBHOOK_RATE_LIMIT", 5.0),
		DedupTTL:                 getEnvDuration("DEDUP_TTL", 30*time.Second),
		MaxExecutionTimeMs:       getEnvInt("MAX_EXECUTION_TIME_MS", 5000),
		DefaultSlippagePercent:   getEnvFloat("DEFAULT_SLIPPAGE_PERCENT", 0.1),
		BinanceTestnet:           getEnv("BINANCE_TESTNET", "false") == "true",
		RegistryMaxSize:          getEnvInt("REGISTRY_MAX_SIZE", 100),
		RegistryIdleTimeout:      getEnvDuration("REGISTRY_IDLE_TIMEOUT", 30*time.Minute),
		RegistryFailureThreshold: getEnvInt("REGISTRY_FAILURE_THRESHOLD", 5),
		RegistryCircuitTimeout:   getEnvDuration("REGISTRY_CIRCUIT_TIMEOUT", 60*time.Second),
		RecoverMaxAge:            getEnvDuration("RECOVER_MAX_AGE", 300*time.Second),
		StrategyConfigPath:       getEnv("STRATEGY_CONFIG_PATH", "./config/strategies.yaml"),
		DryRun:                   getEnv("DRY_RUN", "false") == "true",
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
