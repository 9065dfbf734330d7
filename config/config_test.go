package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("POSTGRES_URI", "postgres://localhost/coachpay")
	t.Setenv("STRIPE_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("JWT_SIGNING_KEY", "0123456789abcdef0123")
}

func TestParseDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.False(t, cfg.Production())
	assert.Equal(t, ":42069", cfg.ListenAddr)
	assert.Equal(t, "https://dashboard.stripe.com", cfg.StripeDashboardURL)
	assert.Equal(t, int64(1000), cfg.FeeBasisPoints)
	assert.Equal(t, 4, cfg.PriceLookupConcurrency)
	assert.Equal(t, 5, cfg.ReconcileConcurrency)
	assert.Equal(t, 14, cfg.TrialDays)
	assert.Equal(t, 7, cfg.GraceDays)
	assert.Equal(t, 4, cfg.MaxPaymentRetries)
	assert.Equal(t, 72*time.Hour, cfg.EventGuardTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.RedisURI)
}

func TestParseOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("API_ENV", "production")
	t.Setenv("FEE_BASIS_POINTS", "1250")
	t.Setenv("RECONCILE_CONCURRENCY", "8")
	t.Setenv("EVENT_GUARD_TTL", "24h")
	t.Setenv("CORS_ORIGINS", "https://app.example.com,https://coach.example.com")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.True(t, cfg.Production())
	assert.Equal(t, int64(1250), cfg.FeeBasisPoints)
	assert.Equal(t, 8, cfg.ReconcileConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.EventGuardTTL)
	assert.Equal(t, []string{"https://app.example.com", "https://coach.example.com"}, cfg.CORSOrigins)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"fee above 100%", "FEE_BASIS_POINTS", "10001"},
		{"negative fee", "FEE_BASIS_POINTS", "-1"},
		{"not a number", "GRACE_DAYS", "seven"},
		{"zero concurrency", "RECONCILE_CONCURRENCY", "0"},
		{"zero grace days", "GRACE_DAYS", "0"},
		{"short signing key", "JWT_SIGNING_KEY", "short"},
		{"unknown environment", "API_ENV", "staging"},
		{"guard ttl too short", "EVENT_GUARD_TTL", "1s"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(test.key, test.value)
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}

func TestParseRequiresSecrets(t *testing.T) {
	setRequired(t)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := Parse()
	assert.Error(t, err)
}

func TestLoadReadsDotFile(t *testing.T) {
	setRequired(t)
	t.Setenv("GRACE_DAYS", "3")
	dotFile := filepath.Join(t.TempDir(), ".env.development")
	require.NoError(t, os.WriteFile(dotFile, []byte("TRIAL_DAYS=30\nGRACE_DAYS=10\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("TRIAL_DAYS") })

	cfg, err := Load(dotFile)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.TrialDays)
	assert.Equal(t, 3, cfg.GraceDays)
}

func TestLoadToleratesMissingDotFile(t *testing.T) {
	setRequired(t)

	_, err := Load(filepath.Join(t.TempDir(), ".env.production"))
	assert.NoError(t, err)
}

func TestDotFile(t *testing.T) {
	assert.Equal(t, ".env.production", DotFile("production"))
	assert.Equal(t, ".env.development", DotFile(""))
}

func TestLoadBackendIgnoresServerKeys(t *testing.T) {
	t.Setenv("POSTGRES_URI", "postgres://localhost/coachpay")
	t.Setenv("STRIPE_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("JWT_SIGNING_KEY", "")

	cfg, err := LoadBackend("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ReconcileConcurrency)

	_, err = Parse()
	assert.Error(t, err)
}
