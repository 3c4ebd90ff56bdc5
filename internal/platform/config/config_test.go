package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("AGEGATE_ENV", "test")
	t.Setenv("JWT_SIGNING_KEY", "config-test-signing-key")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 1000, cfg.RateLimit.HighWater)
	assert.Equal(t, 60, cfg.Verification.MinimumAge)
	assert.InDelta(t, 100.0, cfg.Verification.BlurThreshold, 0.001)
	assert.InDelta(t, 0.5, cfg.Recaptcha.ScoreThreshold, 0.001)
	assert.Equal(t, "verify_id", cfg.Recaptcha.ExpectedAction)
	assert.Equal(t, int64(10<<20), cfg.Verification.MaxPhotoBytes)
	assert.Equal(t, 40_000_000, cfg.Verification.MaxPhotoPixels)
	assert.Empty(t, cfg.Server.TrustedProxies)
	assert.True(t, cfg.Verification.GatingEnabled)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("AGEGATE_ENV", "test")
	t.Setenv("JWT_SIGNING_KEY", "config-test-signing-key")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.1")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "3")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("VERIFICATION_MIN_AGE", "65")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RateLimit.Limit)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 65, cfg.Verification.MinimumAge)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.Server.TrustedProxies)
}

func TestFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"redis backend without url", map[string]string{"RATE_LIMIT_BACKEND": "redis"}},
		{"postgres store without dsn", map[string]string{"VERIFICATION_STORE": "postgres"}},
		{"recaptcha without secret", map[string]string{"RECAPTCHA_ENABLED": "true"}},
		{"regulated mode with default key", map[string]string{"REGULATED_MODE": "true", "AGEGATE_ENV": "local", "JWT_SIGNING_KEY": DevSigningKey}},
		{"default key outside local", map[string]string{"AGEGATE_ENV": "production", "JWT_SIGNING_KEY": DevSigningKey}},
		{"zero limit", map[string]string{"RATE_LIMIT_MAX_REQUESTS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AGEGATE_ENV", "test")
			t.Setenv("JWT_SIGNING_KEY", "config-test-signing-key")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestFromEnv_DevSigningKey(t *testing.T) {
	t.Run("accepted locally", func(t *testing.T) {
		t.Setenv("AGEGATE_ENV", "local")
		t.Setenv("JWT_SIGNING_KEY", DevSigningKey)

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, DevSigningKey, cfg.Server.JWTSigningKey)
	})

	t.Run("refused when empty", func(t *testing.T) {
		t.Setenv("AGEGATE_ENV", "staging")
		t.Setenv("JWT_SIGNING_KEY", "")

		_, err := FromEnv()
		require.Error(t, err)
	})

	t.Run("refused when unset outside local", func(t *testing.T) {
		t.Setenv("AGEGATE_ENV", "staging")
		t.Setenv("JWT_SIGNING_KEY", "")
		require.NoError(t, os.Unsetenv("JWT_SIGNING_KEY"))

		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SIGNING_KEY")
	})
}
