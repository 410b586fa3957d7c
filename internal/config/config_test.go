package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/booktalk/internal/plan"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.BindAddr)
	assert.Equal(t, TransportWebSocket, cfg.VoiceTransport)
	assert.Equal(t, time.Second, cfg.SessionTickInterval)
	assert.True(t, cfg.DatabaseMigrate)
	assert.Empty(t, cfg.QuotaUserPlans)
}

func TestLoadParsesQuotaSettings(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("QUOTA_USER_PLANS", "ana=pro, bo=standard")
	t.Setenv("QUOTA_EXPIRY_GRACE", "45s")
	t.Setenv("VOICE_TRANSPORT", "Mock")
	t.Setenv("DATABASE_MAX_CONNS", "4")
	t.Setenv("DATABASE_MIGRATE", "off")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, plan.Pro, cfg.QuotaUserPlans.TierFor("ana"))
	assert.Equal(t, plan.Standard, cfg.QuotaUserPlans.TierFor("bo"))
	assert.Equal(t, 45*time.Second, cfg.QuotaExpiryGrace)
	assert.Equal(t, TransportMock, cfg.VoiceTransport)
	assert.Equal(t, 4, cfg.DatabaseMaxConns)
	assert.False(t, cfg.DatabaseMigrate)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"VOICE_TRANSPORT", "carrier-pigeon"},
		{"SESSION_TICK_INTERVAL", "1ms"},
		{"QUOTA_JANITOR_INTERVAL", "0s"},
		{"QUOTA_CLOSE_TIMEOUT", "soon"},
		{"QUOTA_USER_PLANS", "=pro"},
		{"DATABASE_MAX_CONNS", "-1"},
		{"DATABASE_MIGRATE", "maybe"},
		{"VOICE_DEV_GATEWAY_IDLE_TIMEOUT", "10ms"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err, "%s=%q", tt.key, tt.value)
		})
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_BIND_ADDR=:7070\nVOICE_ASSISTANT_ID=asst-from-file\n"), 0o600))
	// godotenv only fills unset variables; clear the key so the file can set it.
	os.Unsetenv("VOICE_ASSISTANT_ID")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	t.Cleanup(func() { os.Unsetenv("VOICE_ASSISTANT_ID") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.BindAddr, "environment wins over .env")
	assert.Equal(t, "asst-from-file", cfg.VoiceAssistantID)
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
		"DATABASE_MAX_CONNS",
		"DATABASE_MIGRATE",
		"QUOTA_URL",
		"QUOTA_JANITOR_INTERVAL",
		"QUOTA_EXPIRY_GRACE",
		"QUOTA_USER_PLANS",
		"QUOTA_CLOSE_TIMEOUT",
		"VOICE_TRANSPORT",
		"VOICE_GATEWAY_URL",
		"VOICE_API_KEY",
		"VOICE_ASSISTANT_ID",
		"SESSION_TICK_INTERVAL",
		"VOICE_DEV_GATEWAY",
		"VOICE_DEV_GATEWAY_IDLE_TIMEOUT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
