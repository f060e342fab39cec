package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"roadmapper/database"
	"roadmapper/logging"
)

// AppConfig holds application-wide system configuration.
// This is infrastructure configuration, not per-instance settings.
type AppConfig struct {
	HTTPAddr    string
	HTTPLogPath string
	Database    *database.Config
	Logging     *logging.Config
	Gateway     *GatewayConfig
}

// GatewayConfig holds process-wide gateway behavior. These env toggles
// are operational escape hatches, not part of the stable contract.
type GatewayConfig struct {
	// Env selects dev/prod SharePoint site URLs per instance.
	Env string
	// DefaultInstance is the slug used when no resolution signal matches.
	DefaultInstance string
	// ResolverTTL bounds instance config staleness (floor 5s).
	ResolverTTL time.Duration
	// DecodeOData decodes %24-encoded OData operators before path matching.
	DecodeOData bool
	// DisableDispatch rejects all proxy calls with 503 (maintenance hatch).
	DisableDispatch bool
	// ForceCurl routes every instance through the curl transport.
	ForceCurl bool
	CurlPath  string
	// CurlTimeout bounds each curl subprocess invocation.
	CurlTimeout time.Duration
	// Debug forces verbose logging regardless of LOG_LEVEL.
	Debug bool
}

// LoadAppConfigFromEnv loads complete application configuration from environment variables.
func LoadAppConfigFromEnv() *AppConfig {
	cfg := &AppConfig{
		HTTPAddr:    getEnvWithDefault("HTTP_ADDR", ":8080"),
		HTTPLogPath: getEnvWithDefault("HTTP_LOG_PATH", ""),
		Database:    LoadDatabaseConfigFromEnv(),
		Logging:     LoadLoggingConfigFromEnv(),
		Gateway:     LoadGatewayConfigFromEnv(),
	}

	// SP_DEBUG is the diagnostic escape hatch; it wins over LOG_LEVEL.
	if cfg.Gateway.Debug {
		cfg.Logging.Level = "debug"
	}

	return cfg
}

// LoadDatabaseConfigFromEnv loads database configuration from environment variables.
func LoadDatabaseConfigFromEnv() *database.Config {
	return &database.Config{
		Path:              getEnvWithDefault("DB_PATH", "./roadmapper.db"),
		MaxOpenConns:      getEnvIntWithDefault("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:      getEnvIntWithDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:   getEnvDurationWithDefault("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime:   getEnvDurationWithDefault("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
		BusyTimeoutMs:     getEnvIntWithDefault("DB_BUSY_TIMEOUT_MS", 5000),
		EnableForeignKeys: getEnvBoolWithDefault("DB_ENABLE_FOREIGN_KEYS", true),
		EnableWAL:         getEnvBoolWithDefault("DB_ENABLE_WAL", true),
	}
}

// LoadLoggingConfigFromEnv loads logging configuration from environment variables.
func LoadLoggingConfigFromEnv() *logging.Config {
	return &logging.Config{
		Level:  getEnvWithDefault("LOG_LEVEL", "info"),
		Format: getEnvWithDefault("LOG_FORMAT", "json"),
		Output: getEnvWithDefault("LOG_OUTPUT", "stdout"),
	}
}

// LoadGatewayConfigFromEnv loads gateway configuration from environment variables.
func LoadGatewayConfigFromEnv() *GatewayConfig {
	ttl := getEnvDurationWithDefault("RESOLVER_TTL", 30*time.Second)
	if ttl < 5*time.Second {
		ttl = 5 * time.Second
	}

	return &GatewayConfig{
		Env:             getEnvWithDefault("SP_ENV", "dev"),
		DefaultInstance: getEnvWithDefault("DEFAULT_INSTANCE", ""),
		ResolverTTL:     ttl,
		DecodeOData:     getEnvBoolWithDefault("SP_DECODE_ODATA", true),
		DisableDispatch: getEnvBoolWithDefault("SP_DISABLE_DISPATCH", false),
		ForceCurl:       getEnvBoolWithDefault("SP_FORCE_CURL", false),
		CurlPath:        getEnvWithDefault("CURL_PATH", "curl"),
		CurlTimeout:     getEnvDurationWithDefault("CURL_TIMEOUT", 20*time.Second),
		Debug:           getEnvBoolWithDefault("SP_DEBUG", false),
	}
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseBool(v string, def bool) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// Helper functions for environment variable parsing.
func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return parseBool(value, defaultValue)
	}
	return defaultValue
}

func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
