package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CHECKOUT_CONFIG", "APP_ENV", "LOG_ENV", "LOG_LEVEL", "HTTP_ADDR", "GRPC_ADDR",
		"MYSQL_DSN", "MYSQL_MAX_OPEN_CONNS", "MYSQL_MAX_IDLE_CONNS", "MYSQL_CONN_MAX_LIFETIME", "MYSQL_AUTO_MIGRATE",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE", "REDIS_BREAKER_TIMEOUT",
		"KAFKA_BROKERS", "OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE", "OUTBOX_WORKERS",
		"REDIS_BREAKER_FAILURES", "KAFKA_PUBLISH_TIMEOUT", "MAX_REQUEST_BODY_BYTES",
		"CHECKOUT_TIMEOUT", "IDEMPOTENCY_PENDING_TTL", "IDEMPOTENCY_REPLAY_TTL", "SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: production
http_addr: ":9090"
mysql:
  dsn: "user:pw@tcp(db:3306)/shop"
  max_open_conns: 10
checkout:
  timeout: 3s
kafka:
  brokers: "k1:9092"
`), 0o600))

	t.Setenv("CHECKOUT_CONFIG", path)
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("OUTBOX_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, "user:pw@tcp(db:3306)/shop", cfg.MySQL.DSN)
	assert.Equal(t, 10, cfg.MySQL.MaxOpenConns)
	assert.Equal(t, 25, cfg.MySQL.MaxIdleConns)
	assert.Equal(t, 3*time.Second, cfg.Checkout.Timeout)
	assert.Equal(t, "k1:9092", cfg.Kafka.Brokers)
	assert.Equal(t, 8, cfg.Kafka.Workers)
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REDIS_ADDR=cache:6379\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestLoad_EnvBindings(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("CHECKOUT_TIMEOUT", "60s")
	t.Setenv("IDEMPOTENCY_PENDING_TTL", "90s")
	t.Setenv("REDIS_BREAKER_FAILURES", "3")
	t.Setenv("KAFKA_PUBLISH_TIMEOUT", "2s")
	t.Setenv("MAX_REQUEST_BODY_BYTES", "4096")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.Checkout.Timeout)
	assert.Equal(t, 90*time.Second, cfg.Checkout.IdempotencyPending)
	assert.Equal(t, uint32(3), cfg.Redis.BreakerFailures)
	assert.Equal(t, 2*time.Second, cfg.Kafka.PublishTimeout)
	assert.Equal(t, int64(4096), cfg.Checkout.MaxRequestBodyBytes)
}

func TestLoad_BadEnvValue(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("CHECKOUT_TIMEOUT", "soon")

	_, err := Load()
	assert.ErrorContains(t, err, "CHECKOUT_TIMEOUT")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("CHECKOUT_CONFIG", "/nonexistent/checkout.yaml")

	_, err := Load()
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.MySQL.DSN = ""
	cfg.Checkout.Timeout = time.Minute

	err := cfg.Validate()
	assert.ErrorContains(t, err, "mysql.dsn is required")
	assert.ErrorContains(t, err, "idempotency_pending_ttl")
}
