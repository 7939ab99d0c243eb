// Package config loads process configuration from defaults, an optional YAML
// file and GRAPHVERSIONER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// GRAPHVERSIONER_STORAGE_DRIVER for storage.driver.
const EnvPrefix = "GRAPHVERSIONER"

// Storage selects the graph persistence backend.
type Storage struct {
	Driver           string        `mapstructure:"driver"`
	SQLitePath       string        `mapstructure:"sqlite_path"`
	PostgresDSN      string        `mapstructure:"postgres_dsn"`
	BadgerPath       string        `mapstructure:"badger_path"`
	BadgerInMemory   bool          `mapstructure:"badger_in_memory"`
	BadgerGCInterval time.Duration `mapstructure:"badger_gc_interval"`
}

// S3 configures the S3 archive driver. Empty credentials fall back to the
// default AWS credential chain.
type S3 struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// Blob selects the object store snapshots are archived to.
type Blob struct {
	Driver string `mapstructure:"driver"`
	FSRoot string `mapstructure:"fs_root"`
	S3     S3     `mapstructure:"s3"`
}

// Lock configures distributed entity locking. An empty RedisAddr keeps
// locking in-process.
type Lock struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// Log configures the process logger.
type Log struct {
	Level string `mapstructure:"level"`
}

// Config is the full process configuration.
type Config struct {
	Storage Storage `mapstructure:"storage"`
	Blob    Blob    `mapstructure:"blob"`
	Lock    Lock    `mapstructure:"lock"`
	Log     Log     `mapstructure:"log"`
}

var defaults = map[string]any{
	"storage.driver":             "sqlite",
	"storage.sqlite_path":        "graphversioner.db",
	"storage.postgres_dsn":       "",
	"storage.badger_path":        "graphversioner-badger",
	"storage.badger_in_memory":   false,
	"storage.badger_gc_interval": "5m",
	"blob.driver":                "fs",
	"blob.fs_root":               "./blobdata",
	"blob.s3.bucket":             "",
	"blob.s3.region":             "us-east-1",
	"blob.s3.endpoint":           "",
	"blob.s3.access_key_id":      "",
	"blob.s3.secret_access_key":  "",
	"blob.s3.path_style":         false,
	"lock.redis_addr":            "",
	"lock.redis_password":        "",
	"lock.redis_db":              0,
	"lock.prefix":                "graphversioner:",
	"lock.ttl":                   "30s",
	"log.level":                  "info",
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration with no file and no environment applied.
func Default() Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Load reads configuration. path names a YAML file; when empty, a
// graphversioner.yaml in the working directory is used if present.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("graphversioner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var missing viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &missing) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "badger":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn required when storage.driver=postgres")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob.s3.bucket required when blob.driver=s3")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Lock.TTL < 0 {
		return errors.New("lock.ttl must not be negative")
	}
	return nil
}
