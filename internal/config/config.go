package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppEnv                string
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RunMigrations         bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AlertCacheTTLSeconds  int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	LogFormat             string
	RejectNegativeStock   bool
	LedgerMaxRetries      int
}

// Load reads configuration from the environment. Unset keys fall back to
// development defaults; AUTH_SECRET has no default on purpose.
func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("RUN_MIGRATIONS", true)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ALERT_CACHE_TTL_SECONDS", 30)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REJECT_NEGATIVE_STOCK", false)
	v.SetDefault("LEDGER_MAX_RETRIES", 3)

	cfg := Config{
		AppEnv:                strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RunMigrations:         v.GetBool("RUN_MIGRATIONS"),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		AlertCacheTTLSeconds:  v.GetInt("ALERT_CACHE_TTL_SECONDS"),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: v.GetInt("ACCESS_TOKEN_TTL_MINUTES"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
		RejectNegativeStock:   v.GetBool("REJECT_NEGATIVE_STOCK"),
		LedgerMaxRetries:      v.GetInt("LEDGER_MAX_RETRIES"),
	}
	if cfg.AlertCacheTTLSeconds < 1 {
		cfg.AlertCacheTTLSeconds = 30
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.LedgerMaxRetries < 1 {
		cfg.LedgerMaxRetries = 3
	}
	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AlertCacheTTL() time.Duration {
	return time.Duration(c.AlertCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}
