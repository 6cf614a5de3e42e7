// Package config loads the pool's runtime configuration, adapted from the
// teacher's internal/config/config.go: godotenv for local .env files, viper
// for env-var binding, defaults and a YAML config file as optional overrides.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Telegram  TelegramConfig  `json:"telegram"`
	Store     StoreConfig     `json:"store"`
	Database  DatabaseConfig  `json:"database"`
	Admin     AdminConfig     `json:"admin"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
}

// TelegramConfig carries the pool's own credentials and policy knobs.
type TelegramConfig struct {
	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`
	// Phones, when set, is the exact account roster; when empty the pool
	// discovers accounts by globbing "*.session" in Store, matching the
	// original Scanner's fallback.
	Phones []string `json:"phones"`
	// InvalidPolicy is one of "ignore", "raise", "revalidate".
	InvalidPolicy     string `json:"invalid_policy"`
	MaxAccWaitingTime int    `json:"max_acc_waiting_time"` // seconds
}

// StoreConfig selects and configures the BlobStore backend.
type StoreConfig struct {
	Driver      string `json:"driver"` // "local" or "redis"
	LocalDir    string `json:"local_dir"`
	RedisURL    string `json:"redis_url"`
	RedisPrefix string `json:"redis_prefix"`
}

// DatabaseConfig points at the stats Postgres database and its table names.
type DatabaseConfig struct {
	URL           string `json:"url"`
	ChannelsTable string `json:"channels_table"`
	StatsTable    string `json:"stats_table"`
	MsgsTable     string `json:"msgs_table"`
}

// AdminConfig protects the /admin/* HTTP surface.
type AdminConfig struct {
	Token string `json:"token"`
}

// SchedulerConfig drives the periodic stats-collection job.
type SchedulerConfig struct {
	// CronExpr is a standard 5-field cron expression; empty disables the
	// scheduler (manual/CLI triggering only).
	CronExpr string `json:"cron_expr"`
	Parallel bool   `json:"parallel"`
	Channels []string `json:"channels"`
	// Depth, parsed as a Go duration (e.g. "720h"), bounds how far back each
	// scan looks; empty means unbounded.
	Depth string `json:"depth"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		slog.Debug("config: no .env file in working directory", "error", err)
		if err := godotenv.Load("../.env"); err != nil {
			slog.Debug("config: no .env file found, using environment variables only", "error", err)
		}
	}

	viper.SetEnvPrefix("TGPOOL")
	viper.AutomaticEnv()
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		slog.Debug("config: no YAML config file found, using environment variables and defaults")
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	if phones := viper.GetString("telegram.phones"); phones != "" {
		cfg.Telegram.Phones = splitAndTrim(phones)
	}
	if channels := viper.GetString("scheduler.channels"); channels != "" {
		cfg.Scheduler.Channels = splitAndTrim(channels)
	}

	slog.Info("config: loaded",
		"server_port", cfg.Server.Port,
		"store_driver", cfg.Store.Driver,
		"invalid_policy", cfg.Telegram.InvalidPolicy,
		"account_count", len(cfg.Telegram.Phones))

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	viper.SetDefault("telegram.invalid_policy", "ignore")
	viper.SetDefault("telegram.max_acc_waiting_time", 300)

	viper.SetDefault("store.driver", "local")
	viper.SetDefault("store.local_dir", "./data/sessions")
	viper.SetDefault("store.redis_prefix", "tgpool:")

	viper.SetDefault("database.channels_table", "channels")
	viper.SetDefault("database.stats_table", "stats")
	viper.SetDefault("database.msgs_table", "msgs")

	viper.SetDefault("scheduler.parallel", true)
}

func bindEnvVars() {
	viper.BindEnv("telegram.api_id", "API_ID")
	viper.BindEnv("telegram.api_hash", "API_HASH")
	viper.BindEnv("telegram.phones", "PHONES")
	viper.BindEnv("telegram.invalid_policy", "INVALID_POLICY")
	viper.BindEnv("telegram.max_acc_waiting_time", "MAX_ACC_WAITING_TIME")

	viper.BindEnv("store.driver", "STORE_DRIVER")
	viper.BindEnv("store.local_dir", "STORE_LOCAL_DIR")
	viper.BindEnv("store.redis_url", "REDIS_URL")
	viper.BindEnv("store.redis_prefix", "REDIS_PREFIX")

	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.channels_table", "STATS_CHANNELS_TABLE")
	viper.BindEnv("database.stats_table", "STATS_TABLE")
	viper.BindEnv("database.msgs_table", "STATS_MSGS_TABLE")

	viper.BindEnv("admin.token", "ADMIN_TOKEN")

	viper.BindEnv("scheduler.cron_expr", "SCHEDULER_CRON")
	viper.BindEnv("scheduler.parallel", "SCHEDULER_PARALLEL")
	viper.BindEnv("scheduler.channels", "SCHEDULER_CHANNELS")
	viper.BindEnv("scheduler.depth", "SCHEDULER_DEPTH")

	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("server.host", "HOST")
}

func validate(cfg *Config) error {
	if cfg.Telegram.APIID == 0 {
		return fmt.Errorf("API_ID is required")
	}
	if cfg.Telegram.APIHash == "" {
		return fmt.Errorf("API_HASH is required")
	}
	switch cfg.Telegram.InvalidPolicy {
	case "ignore", "raise", "revalidate":
	default:
		return fmt.Errorf("INVALID_POLICY must be one of ignore, raise, revalidate, got %q", cfg.Telegram.InvalidPolicy)
	}
	switch cfg.Store.Driver {
	case "local":
		if cfg.Store.LocalDir == "" {
			return fmt.Errorf("STORE_LOCAL_DIR is required when STORE_DRIVER=local")
		}
	case "redis":
		if cfg.Store.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_DRIVER=redis")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of local, redis, got %q", cfg.Store.Driver)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Admin.Token == "" {
		return fmt.Errorf("ADMIN_TOKEN is required")
	}
	return nil
}
