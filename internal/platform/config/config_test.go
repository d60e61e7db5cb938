package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("BOND_OWNER", "issuer")
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Addr)
		assert.Equal(t, "issuer", cfg.Owner)
		assert.Equal(t, "purchases_only", cfg.RedemptionPolicy)
		assert.Equal(t, 5*time.Second, cfg.TxTimeout)
		assert.Equal(t, "bond-events", cfg.Kafka.Topic)
		assert.Empty(t, cfg.Kafka.Brokers)
		assert.Empty(t, cfg.Database.URL)
		assert.NotEmpty(t, cfg.JWTSigningKey)
		assert.False(t, cfg.RateLimit.Disabled)
		assert.Equal(t, 60, cfg.RateLimit.WriteRequests)
		assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("BOND_OWNER", "issuer")
		t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,k1:9092,")
		t.Setenv("TX_TIMEOUT", "2s")
		t.Setenv("REDEMPTION_POLICY", "strict")
		t.Setenv("KAFKA_PARTITIONS", "6")
		t.Setenv("RATE_LIMIT_DISABLED", "true")
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, 2*time.Second, cfg.TxTimeout)
		assert.Equal(t, "strict", cfg.RedemptionPolicy)
		assert.Equal(t, int32(6), cfg.Kafka.Partitions)
		assert.True(t, cfg.RateLimit.Disabled)
	})

	t.Run("owner is required", func(t *testing.T) {
		t.Setenv("BOND_OWNER", "")
		_, err := FromEnv()
		assert.Error(t, err)
	})

	t.Run("malformed bool", func(t *testing.T) {
		t.Setenv("BOND_OWNER", "issuer")
		t.Setenv("RATE_LIMIT_DISABLED", "sometimes")
		_, err := FromEnv()
		assert.Error(t, err)
	})

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("BOND_OWNER", "issuer")
		t.Setenv("OUTBOX_POLL_INTERVAL", "soon")
		_, err := FromEnv()
		assert.Error(t, err)
	})
}
