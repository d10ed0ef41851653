package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	MySQL    MySQLConfig    `yaml:"mysql"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Checkout CheckoutConfig `yaml:"checkout"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	// Addr empty disables the Redis idempotency cache.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`

	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

type KafkaConfig struct {
	// Brokers empty disables the outbox relay.
	Brokers        string        `yaml:"brokers"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	BatchSize      int           `yaml:"batch_size"`
	Workers        int           `yaml:"workers"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

type CheckoutConfig struct {
	Timeout             time.Duration `yaml:"timeout"`
	IdempotencyPending  time.Duration `yaml:"idempotency_pending_ttl"`
	IdempotencyReplay   time.Duration `yaml:"idempotency_replay_ttl"`
	MaxRequestBodyBytes int64         `yaml:"max_request_body_bytes"`
}

func Default() Config {
	return Config{
		Env:      "development",
		LogLevel: "info",
		HTTPAddr: ":8080",
		GRPCAddr: ":50051",
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/checkout?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			PoolSize:        100,
			BreakerFailures: 5,
			BreakerTimeout:  10 * time.Second,
		},
		Kafka: KafkaConfig{
			PollInterval:   time.Second,
			BatchSize:      100,
			Workers:        4,
			PublishTimeout: 5 * time.Second,
		},
		Checkout: CheckoutConfig{
			Timeout:             10 * time.Second,
			IdempotencyPending:  30 * time.Second,
			IdempotencyReplay:   24 * time.Hour,
			MaxRequestBodyBytes: 1 << 20,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load layers configuration: defaults, then the YAML file named by
// CHECKOUT_CONFIG (if any), then a .env file, then the environment.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CHECKOUT_CONFIG"); path != "" {
		if err := loadFile(filepath.Clean(path), &cfg); err != nil {
			return cfg, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer64 := func(key string, dst *int64) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	uinteger32 := func(key string, dst *uint32) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = uint32(n)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("APP_ENV", &cfg.Env)
	str("LOG_ENV", &cfg.Env)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("GRPC_ADDR", &cfg.GRPCAddr)

	str("MYSQL_DSN", &cfg.MySQL.DSN)
	integer("MYSQL_MAX_OPEN_CONNS", &cfg.MySQL.MaxOpenConns)
	integer("MYSQL_MAX_IDLE_CONNS", &cfg.MySQL.MaxIdleConns)
	duration("MYSQL_CONN_MAX_LIFETIME", &cfg.MySQL.ConnMaxLifetime)
	boolean("MYSQL_AUTO_MIGRATE", &cfg.MySQL.AutoMigrate)

	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	integer("REDIS_DB", &cfg.Redis.DB)
	integer("REDIS_POOL_SIZE", &cfg.Redis.PoolSize)
	uinteger32("REDIS_BREAKER_FAILURES", &cfg.Redis.BreakerFailures)
	duration("REDIS_BREAKER_TIMEOUT", &cfg.Redis.BreakerTimeout)

	str("KAFKA_BROKERS", &cfg.Kafka.Brokers)
	duration("OUTBOX_POLL_INTERVAL", &cfg.Kafka.PollInterval)
	integer("OUTBOX_BATCH_SIZE", &cfg.Kafka.BatchSize)
	integer("OUTBOX_WORKERS", &cfg.Kafka.Workers)
	duration("KAFKA_PUBLISH_TIMEOUT", &cfg.Kafka.PublishTimeout)

	duration("CHECKOUT_TIMEOUT", &cfg.Checkout.Timeout)
	duration("IDEMPOTENCY_PENDING_TTL", &cfg.Checkout.IdempotencyPending)
	duration("IDEMPOTENCY_REPLAY_TTL", &cfg.Checkout.IdempotencyReplay)
	integer64("MAX_REQUEST_BODY_BYTES", &cfg.Checkout.MaxRequestBodyBytes)
	duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	if c.MySQL.DSN == "" {
		errs = append(errs, errors.New("mysql.dsn is required"))
	}
	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		errs = append(errs, errors.New("at least one of http_addr and grpc_addr is required"))
	}
	if c.MySQL.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("mysql.max_open_conns must be positive"))
	}
	if c.Checkout.Timeout <= 0 {
		errs = append(errs, errors.New("checkout.timeout must be positive"))
	}
	if c.Checkout.IdempotencyPending < c.Checkout.Timeout {
		errs = append(errs, errors.New("checkout.idempotency_pending_ttl must not be shorter than checkout.timeout"))
	}
	if c.Checkout.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("checkout.max_request_body_bytes must be positive"))
	}
	return errors.Join(errs...)
}
