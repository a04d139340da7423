/**
 * @description
 * This package handles configuration for the core, relay and services binaries. All three
 * read the same set of environment variables (plus an optional .env file) through Viper;
 * each binary only consults the keys it needs and validates them with Require.
 *
 * @dependencies
 * - github.com/spf13/viper: Environment and .env configuration loading.
 */

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/transfa/corebank/internal/logging"
)

const (
	defaultRateLimitPrefix    = "corebank:rate_limit"
	defaultLedgerExchange     = "corebank.events"
	defaultAuditPruneSchedule = "0 3 * * *"
)

// Config holds every configuration variable used by the three tiers.
type Config struct {
	ServerPort     string `mapstructure:"SERVER_PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32  `mapstructure:"DB_MIN_CONNS"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LogFormat      string `mapstructure:"LOG_FORMAT"`

	// relay → core
	CoreBaseURL string `mapstructure:"CORE_BASE_URL"`
	CoreAPIKey  string `mapstructure:"CORE_API_KEY"`
	// services → relay
	RelayBaseURL string `mapstructure:"RELAY_BASE_URL"`
	RelayAPIKey  string `mapstructure:"RELAY_API_KEY"`

	DownstreamTimeoutSeconds int `mapstructure:"DOWNSTREAM_TIMEOUT_SECONDS"`

	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	LedgerExchange string `mapstructure:"LEDGER_EXCHANGE"`
	SnowflakeNode  int64  `mapstructure:"SNOWFLAKE_NODE_ID"`

	AuditRetentionDays int    `mapstructure:"AUDIT_RETENTION_DAYS"`
	AuditPruneSchedule string `mapstructure:"AUDIT_PRUNE_SCHEDULE"`

	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	JWTSecret                  string `mapstructure:"JWT_SECRET"`
	JWTTTLMinutes              int    `mapstructure:"JWT_TTL_MINUTES"`
	CORSAllowedOriginsRaw      string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	CORSAllowedOrigins         []string
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DB_MAX_CONNS", 20)
	viper.SetDefault("DB_MIN_CONNS", 2)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("DOWNSTREAM_TIMEOUT_SECONDS", 10)
	viper.SetDefault("LEDGER_EXCHANGE", defaultLedgerExchange)
	viper.SetDefault("SNOWFLAKE_NODE_ID", 1)
	viper.SetDefault("AUDIT_RETENTION_DAYS", 90)
	viper.SetDefault("AUDIT_PRUNE_SCHEDULE", defaultAuditPruneSchedule)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("JWT_TTL_MINUTES", 60)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FORMAT")
	_ = viper.BindEnv("CORE_BASE_URL", "CORE_BASE_URL", "CORE_URL")
	_ = viper.BindEnv("CORE_API_KEY")
	_ = viper.BindEnv("RELAY_BASE_URL", "RELAY_BASE_URL", "MIDDLEWARE_URL")
	_ = viper.BindEnv("RELAY_API_KEY")
	_ = viper.BindEnv("DOWNSTREAM_TIMEOUT_SECONDS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EXCHANGE")
	_ = viper.BindEnv("SNOWFLAKE_NODE_ID")
	_ = viper.BindEnv("AUDIT_RETENTION_DAYS")
	_ = viper.BindEnv("AUDIT_PRUNE_SCHEDULE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_TTL_MINUTES")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			l := logging.WithComponent("config")
			l.Warn().Err(err).Msg("failed to read config file; using environment values")
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.CoreBaseURL = strings.TrimRight(strings.TrimSpace(config.CoreBaseURL), "/")
	config.RelayBaseURL = strings.TrimRight(strings.TrimSpace(config.RelayBaseURL), "/")
	config.CoreAPIKey = strings.TrimSpace(config.CoreAPIKey)
	if config.CoreAPIKey == "" {
		config.CoreAPIKey = config.InternalAPIKey
	}
	config.RelayAPIKey = strings.TrimSpace(config.RelayAPIKey)
	if config.RelayAPIKey == "" {
		config.RelayAPIKey = config.InternalAPIKey
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	if strings.TrimSpace(config.LedgerExchange) == "" {
		config.LedgerExchange = defaultLedgerExchange
	}

	if config.DownstreamTimeoutSeconds <= 0 {
		l := logging.WithComponent("config")
		l.Warn().Int("value", config.DownstreamTimeoutSeconds).Msg("non-positive downstream timeout; using 10s")
		config.DownstreamTimeoutSeconds = 10
	}
	if config.DBMaxConns <= 0 {
		config.DBMaxConns = 20
	}
	if config.DBMinConns < 0 || config.DBMinConns > config.DBMaxConns {
		config.DBMinConns = 0
	}
	// snowflake node ids are 10 bits wide
	if config.SnowflakeNode < 0 || config.SnowflakeNode > 1023 {
		l := logging.WithComponent("config")
		l.Warn().Int64("value", config.SnowflakeNode).Msg("snowflake node id out of range; using 1")
		config.SnowflakeNode = 1
	}
	if config.AuditRetentionDays < 0 {
		config.AuditRetentionDays = 0
	}
	if strings.TrimSpace(config.AuditPruneSchedule) == "" {
		config.AuditPruneSchedule = defaultAuditPruneSchedule
	}
	if config.TransferRateLimitPerMinute < 0 {
		config.TransferRateLimitPerMinute = 0
	}
	if config.JWTTTLMinutes <= 0 {
		config.JWTTTLMinutes = 60
	}
	config.CORSAllowedOrigins = splitOrigins(config.CORSAllowedOriginsRaw)

	return
}

// Require returns an error naming the first blank key among the given name/value pairs.
func Require(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%s must be configured", pairs[i])
		}
	}
	return nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
