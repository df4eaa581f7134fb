package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, "memory", cfg.Infra.Database.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Checkout.PendingPaymentTTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown queue driver", func(c *Config) { c.Queue.Driver = "rabbit" }, "queue.driver"},
		{"kafka without brokers", func(c *Config) { c.Queue.Driver = "kafka"; c.Infra.Kafka.Brokers = nil }, "infra.kafka.brokers"},
		{"unknown database", func(c *Config) { c.Infra.Database.Driver = "sqlite" }, "infra.database.driver"},
		{"zero reservation ttl", func(c *Config) { c.Checkout.ReservationTTL = 0 }, "reservationTTL"},
		{"negative pending ttl", func(c *Config) { c.Checkout.PendingPaymentTTL = -time.Second }, "pendingPaymentTTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkout-worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  name: checkout-test
queue:
  driver: kafka
  maxAttempts: 3
checkout:
  reservationTTL: 5m
  sweepFilter: "!order.is_cod"
`), 0o644))
	t.Setenv("QUEUE_WORKERS", "9")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "checkout-test", cfg.App.Name)
	assert.Equal(t, "kafka", cfg.Queue.Driver)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 9, cfg.Queue.Workers)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Infra.Kafka.Brokers)
	assert.Equal(t, 5*time.Minute, cfg.Checkout.ReservationTTL)
	assert.Equal(t, 30*time.Minute, cfg.Checkout.PendingPaymentTTL)
	assert.Equal(t, "!order.is_cod", cfg.Checkout.SweepFilter)
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, err)
	assert.Equal(t, Default().Checkout, cfg.Checkout)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  driver: rabbit\n"), 0o644))

	_, err := LoadConfig(path)

	assert.ErrorContains(t, err, "queue.driver")
}

// 配置中心下发的内容只覆盖出现的字段，base 保持不变
func TestMergeYAML(t *testing.T) {
	base := Default()
	base.App.Name = "worker-a"

	merged, err := MergeYAML(base, "checkout:\n  pendingPaymentTTL: 45m\n  sweepFilter: order.total < 100.0\n")

	require.NoError(t, err)
	assert.Equal(t, "worker-a", merged.App.Name)
	assert.Equal(t, 45*time.Minute, merged.Checkout.PendingPaymentTTL)
	assert.Equal(t, 15*time.Minute, merged.Checkout.ReservationTTL)
	assert.Equal(t, "order.total < 100.0", merged.Checkout.SweepFilter)
	assert.Equal(t, 30*time.Minute, base.Checkout.PendingPaymentTTL)
	assert.Empty(t, base.Checkout.SweepFilter)

	_, err = MergeYAML(base, "checkout:\n  reservationTTL: 0s\n")
	assert.ErrorContains(t, err, "reservationTTL")

	_, err = MergeYAML(base, "queue: [")
	assert.ErrorContains(t, err, "parse remote config")
}
