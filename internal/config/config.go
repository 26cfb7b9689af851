// Package config loads engine configuration from environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Orders    OrdersConfig    `mapstructure:"orders"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Cron      CronConfig      `mapstructure:"cron"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	// URL is a pgx connection string. Empty selects the in-memory store.
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	// Addr is host:port of the cache. Empty disables caching.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLSec   int    `mapstructure:"ttl_sec"`
}

type PortfolioConfig struct {
	InitialCash        float64 `mapstructure:"initial_cash"`
	SlippageBps        float64 `mapstructure:"slippage_bps"`
	CommissionPerShare float64 `mapstructure:"commission_per_share"`
	MinCommission      float64 `mapstructure:"min_commission"`
}

type OrdersConfig struct {
	// TTLHours is the default lifetime of a pending order.
	TTLHours int `mapstructure:"ttl_hours"`
}

type RiskConfig struct {
	// Zero disables the corresponding cap.
	MaxPositionValue float64 `mapstructure:"max_position_value"`
	MaxTotalExposure float64 `mapstructure:"max_total_exposure"`
}

type CronConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Poll is a cron spec for the order-check and equity cycle.
	Poll string `mapstructure:"poll"`
	// Snapshot is a cron spec for the end-of-day snapshot.
	Snapshot string `mapstructure:"snapshot"`
}

// Load reads configuration from PAPER_* environment variables, layered
// over an optional YAML file at path. An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_sec", 30)
	v.SetDefault("portfolio.initial_cash", 100000)
	v.SetDefault("portfolio.slippage_bps", 5)
	v.SetDefault("portfolio.commission_per_share", 0.005)
	v.SetDefault("portfolio.min_commission", 1.0)
	v.SetDefault("orders.ttl_hours", 24)
	v.SetDefault("risk.max_position_value", 0)
	v.SetDefault("risk.max_total_exposure", 0)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.poll", "@every 1m")
	v.SetDefault("cron.snapshot", "55 23 * * *")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
