package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "mercury.db", cfg.DatabaseURL)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.EqualValues(t, 256, cfg.SSE.Buffer)
	assert.False(t, cfg.TrustProxy)
	assert.True(t, cfg.UsesDefaultRootPassword())
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoadEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_URL", "/tmp/other.db")
	t.Setenv("MERCURY_LOG__FORMAT", "console")
	t.Setenv("MERCURY_ROOT__PASSWORD", "hunter2hunter2")
	t.Setenv("MERCURY_CORS__ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MERCURY_SECURE_COOKIES", "true")
	t.Setenv("MERCURY_TRUST_PROXY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/tmp/other.db", cfg.DatabaseURL)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.False(t, cfg.UsesDefaultRootPassword())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.Origins)
	assert.True(t, cfg.SecureCookies)
	assert.True(t, cfg.TrustProxy)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\nlog:\n  level: debug\nsse:\n  buffer: 8\n"), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("PORT", "7001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Port, "env overrides file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.EqualValues(t, 8, cfg.SSE.Buffer)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MERCURY_LOG__FORMAT", "xml")

	_, err := Load()
	assert.Error(t, err)
}

func TestEnvTransformFunc(t *testing.T) {
	var testcases = []struct {
		in, want string
	}{
		{"PORT", "port"},
		{"DATABASE_URL", "database_url"},
		{"MERCURY_SESSION_DIR", "session_dir"},
		{"MERCURY_RATELIMIT__WINDOW", "ratelimit.window"},
		{"HOME", ""},
	}
	for _, tc := range testcases {
		assert.Equal(t, tc.want, envTransformFunc(tc.in), tc.in)
	}
}
