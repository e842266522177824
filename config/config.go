// Package config loads workflowd settings from an optional YAML file and
// WORKFLOWD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/songzhibin97/workflow-approval/logger"
	"github.com/songzhibin97/workflow-approval/workflow"
)

// EnvPrefix prefixes every environment override, e.g. WORKFLOWD_SERVER_PORT.
const EnvPrefix = "WORKFLOWD"

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Events   EventsConfig   `mapstructure:"events"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects and configures the snapshot storage.
type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	Key    string       `mapstructure:"key"`
	Redis  RedisConfig  `mapstructure:"redis"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// SQLiteConfig holds database configuration
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ApprovalConfig holds the approval settings.
type ApprovalConfig struct {
	// Quorum is "all", "at_least:M" or "expr:<expression>".
	Quorum string `mapstructure:"quorum"`
	// VerifyApprovers rejects approvers unknown to the staff directory.
	VerifyApprovers bool `mapstructure:"verify_approvers"`
}

// EventsConfig sizes the event bus.
type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Logger converts to the logger package's settings.
func (l LoggerConfig) Logger() logger.Config {
	return logger.Config{Level: l.Level, OutputPath: l.OutputPath, Format: l.Format}
}

// SeedConfig controls seeding an empty storage with the sample workflows.
type SeedConfig struct {
	Fixtures bool `mapstructure:"fixtures"`
}

// Load reads configPath when it is not empty, then applies environment
// overrides and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.key", "workflows")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.idle_timeout", 5*time.Minute)
	v.SetDefault("storage.sqlite.path", "data/workflows.db")
	v.SetDefault("storage.sqlite.max_open_conns", 1)
	v.SetDefault("storage.sqlite.max_idle_conns", 1)
	v.SetDefault("storage.sqlite.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("approval.quorum", "all")
	v.SetDefault("approval.verify_approvers", true)

	v.SetDefault("events.buffer_size", 256)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("seed.fixtures", true)
}

// bindEnvVars binds the credentials that are commonly supplied without the
// WORKFLOWD prefix.
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("storage.redis.addr", EnvPrefix+"_STORAGE_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("storage.redis.password", EnvPrefix+"_STORAGE_REDIS_PASSWORD", "REDIS_PASSWORD")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required")
		}
	case DriverSQLite:
		if c.Storage.SQLite.Path == "" {
			return errors.New("storage.sqlite.path is required")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if _, err := workflow.ParseQuorumPolicy(c.Approval.Quorum); err != nil {
		return fmt.Errorf("approval.quorum: %w", err)
	}
	if c.Events.BufferSize < 1 {
		return errors.New("events.buffer_size must be positive")
	}
	return nil
}
