// Package config centralizes how the service reads its settings. Values come
// from SONORAL_* environment variables (optionally seeded from .env files)
// over built-in defaults, and are validated before use.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents runtime configuration for the service.
type Config struct {
	Address         string        `mapstructure:"address" validate:"required"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	Storage  StorageConfig  `mapstructure:"storage"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Reclaim  ReclaimConfig  `mapstructure:"reclaim"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// StorageConfig selects where audio bytes are written.
type StorageConfig struct {
	// Backend is "filesystem" or "s3".
	Backend           string   `mapstructure:"backend" validate:"oneof=filesystem s3"`
	Root              string   `mapstructure:"root" validate:"required"`
	AllowedExtensions []string `mapstructure:"allowed_extensions" validate:"min=1,dive,required"`
	S3                S3Config `mapstructure:"s3"`
}

// S3Config is only read when StorageConfig.Backend is "s3".
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// MetadataConfig selects the metadata store.
type MetadataConfig struct {
	// Driver is "postgres" or "memory".
	Driver      string `mapstructure:"driver" validate:"oneof=postgres memory"`
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Driver postgres"`
}

// PoolConfig bounds the connection pool. MinConns is the floor pgx keeps
// open, MaxConns the lease ceiling.
type PoolConfig struct {
	MinConns        int           `mapstructure:"min_conns" validate:"gte=0"`
	MaxConns        int           `mapstructure:"max_conns" validate:"gt=0,gtefield=MinConns"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout" validate:"gte=0"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time" validate:"gte=0"`
}

// ReclaimConfig controls orphan cleanup. An empty RedisAddr selects the
// in-process queue instead of asynq.
type ReclaimConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
	Workers       int           `mapstructure:"workers" validate:"gt=0"`
	QueueSize     int           `mapstructure:"queue_size" validate:"gt=0"`
	Grace         time.Duration `mapstructure:"grace" validate:"gte=0"`
}

// LoggingConfig controls zap output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "SONORAL"

func setDefaults(v *viper.Viper) {
	v.SetDefault("address", ":8080")
	v.SetDefault("max_upload_bytes", 50<<20) // 50 MiB
	v.SetDefault("shutdown_timeout", 5*time.Second)

	v.SetDefault("storage.backend", "filesystem")
	v.SetDefault("storage.root", "audio")
	v.SetDefault("storage.allowed_extensions", []string{"mp3", "wav", "ogg", "m4a"})
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.bucket", "audio")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.use_ssl", false)

	v.SetDefault("metadata.driver", "postgres")
	v.SetDefault("metadata.database_url", "")

	v.SetDefault("pool.min_conns", 5)
	v.SetDefault("pool.max_conns", 20)
	v.SetDefault("pool.acquire_timeout", 2*time.Second)
	v.SetDefault("pool.max_conn_idle_time", 5*time.Minute)

	v.SetDefault("reclaim.redis_addr", "")
	v.SetDefault("reclaim.redis_password", "")
	v.SetDefault("reclaim.redis_db", 0)
	v.SetDefault("reclaim.workers", 2)
	v.SetDefault("reclaim.queue_size", 64)
	v.SetDefault("reclaim.grace", 10*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration. envFiles are loaded into the process environment
// first without overriding variables that are already set; with no arguments
// a ".env" in the working directory is used when present.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Metadata.DatabaseURL == "" {
		cfg.Metadata.DatabaseURL = legacyDatabaseURL()
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	for i, ext := range cfg.Storage.AllowedExtensions {
		cfg.Storage.AllowedExtensions[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// legacyDatabaseURL builds a DSN from the DB_HOST family of variables used by
// earlier deployments. It returns "" when DB_HOST is unset.
func legacyDatabaseURL() string {
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		host = net.JoinHostPort(host, port)
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   host,
		User:   url.UserPassword(os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD")),
		Path:   "/" + os.Getenv("DB_NAME"),
	}
	return u.String()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-section rules the struct
// tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Backend == "s3" && (c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "") {
		return errors.New("invalid config: storage.s3.endpoint and storage.s3.bucket are required for the s3 backend")
	}
	return nil
}
