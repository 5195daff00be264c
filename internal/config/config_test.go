package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/airguardian/airguardian/internal/errors"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AIRGUARDIAN_DATA_DIR", dir)
	// Keep a stray ./.env in the package directory from leaking in
	t.Chdir(t.TempDir())
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("LLM_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 33.6410564, cfg.CenterLat)
	assert.Equal(t, -84.4421781, cfg.CenterLon)
	assert.Equal(t, 40.0, cfg.RadiusNM)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.StateTTL)
	assert.Equal(t, 10*time.Minute, cfg.TaskExpiry)
	assert.Equal(t, time.Hour, cfg.ResolvedRetention)
	assert.Equal(t, 8000, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, filepath.Join(dir, "alerts.db"), cfg.AlertsDBPath)
	assert.False(t, cfg.AudioEnabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	setupEnv(t)
	envVars := map[string]string{
		"LLM_API_KEY":                   "sk-test",
		"CENTER_LAT":                    "40.6413",
		"CENTER_LON":                    "-73.7781",
		"RADIUS_NM":                     "25",
		"POLL_INTERVAL":                 "3s",
		"STATE_TTL":                     "45",
		"TASK_EXPIRY_MINUTES":           "15",
		"RESOLVED_TASK_RETENTION_HOURS": "2",
		"REPORT_MAX_AGE":                "60",
		"ALLOWED_ORIGINS":               "https://a.example, https://b.example",
		"ELEVENLABS_API_KEY":            "el-key",
		"MAX_AIRCRAFT_PER_ANALYSIS":     "25",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 40.6413, cfg.CenterLat)
	assert.Equal(t, 25.0, cfg.RadiusNM)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 45*time.Second, cfg.StateTTL)
	assert.Equal(t, 15*time.Minute, cfg.TaskExpiry)
	assert.Equal(t, 2*time.Hour, cfg.ResolvedRetention)
	assert.Equal(t, time.Hour, cfg.ReportMaxAge)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 25, cfg.MaxAircraftPerAnalysis)
	assert.True(t, cfg.AudioEnabled())
}

func TestLoadReadsDotEnvFromDataDir(t *testing.T) {
	dir := setupEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LLM_API_KEY=from-file\nRADIUS_NM=30\n"), 0o600))
	// godotenv.Load sets process env directly, so register cleanup for what it sets
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("RADIUS_NM", "")
	os.Unsetenv("LLM_API_KEY")
	os.Unsetenv("RADIUS_NM")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.LLMAPIKey)
	assert.Equal(t, 30.0, cfg.RadiusNM)
}

func TestLoadMissingCredentialIsConfigError(t *testing.T) {
	setupEnv(t)
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("XAI_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, pipeerrors.IsConfigError(err))
	assert.Contains(t, err.Error(), "LLM_API_KEY")

	t.Setenv("ANALYSIS_ENABLED", "false")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoadInvalidValues(t *testing.T) {
	setupEnv(t)
	t.Setenv("LLM_API_KEY", "k")
	t.Setenv("HTTP_PORT", "eighty")
	t.Setenv("POLL_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, pipeerrors.IsConfigError(err))
	assert.Contains(t, err.Error(), "HTTP_PORT")
	assert.Contains(t, err.Error(), "POLL_INTERVAL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "poll below feed floor margin", mutate: func(c *Config) { c.PollInterval = 1100 * time.Millisecond }, wantErr: "1.2x"},
		{name: "poll exactly at margin", mutate: func(c *Config) { c.PollInterval = 1200 * time.Millisecond }},
		{name: "zero radius", mutate: func(c *Config) { c.RadiusNM = 0 }, wantErr: "RADIUS_NM"},
		{name: "radius too large", mutate: func(c *Config) { c.RadiusNM = 300 }, wantErr: "RADIUS_NM"},
		{name: "latitude", mutate: func(c *Config) { c.CenterLat = 91 }, wantErr: "CENTER_LAT"},
		{name: "zero expiry", mutate: func(c *Config) { c.TaskExpiry = 0 }, wantErr: "TASK_EXPIRY_MINUTES"},
		{name: "bad url scheme", mutate: func(c *Config) { c.FeedURL = "ftp://feed" }, wantErr: "FEED_URL"},
		{name: "missing key", mutate: func(c *Config) { c.LLMAPIKey = "" }, wantErr: "LLM_API_KEY"},
		{name: "missing key with analysis off", mutate: func(c *Config) { c.LLMAPIKey = ""; c.AnalysisEnabled = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			cfg.LLMAPIKey = "k"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMaskedHidesSecrets(t *testing.T) {
	cfg := Default("/tmp")
	cfg.LLMAPIKey = "sk-abcdefgh1234"
	cfg.TTSAPIKey = "el"

	m := cfg.Masked()
	assert.Equal(t, "********1234", m.LLMAPIKey)
	assert.Equal(t, "****", m.TTSAPIKey)
	assert.Equal(t, "sk-abcdefgh1234", cfg.LLMAPIKey, "original untouched")
}
