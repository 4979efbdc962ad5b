package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFLUENCE_BASE_URL", "CONFLUENCE_USERNAME", "CONFLUENCE_API_TOKEN",
		"NEXTCLOUD_URL", "NEXTCLOUD_USERNAME", "NEXTCLOUD_PASSWORD", "NEXTCLOUD_COLLECTIVE",
		"CONFMOVE_EXPORT_DIR", "CONFMOVE_CONVERT_DIR", "CONFMOVE_STATE_FILE",
		"CONFMOVE_LOG_FILE", "CONFMOVE_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "export_data", cfg.ExportDir)
	assert.Equal(t, "convert_data", cfg.ConvertDir)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.ConfluenceBaseURL)
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "confmove.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
confluence_base_url: https://example.atlassian.net
confluence_username: alice@example.com
nextcloud_collective: Docs
export_dir: /srv/export
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.atlassian.net", cfg.ConfluenceBaseURL)
	assert.Equal(t, "alice@example.com", cfg.ConfluenceUsername)
	assert.Equal(t, "Docs", cfg.NextcloudCollective)
	assert.Equal(t, "/srv/export", cfg.ExportDir)
	// untouched defaults survive
	assert.Equal(t, "convert_data", cfg.ConvertDir)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "confmove.yaml")
	require.NoError(t, os.WriteFile(path, []byte("confluence_base_url: https://file.example.com\n"), 0644))

	t.Setenv("CONFLUENCE_BASE_URL", "https://env.example.com/")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.ConfluenceBaseURL, "env wins and trailing slash is trimmed")
}

func TestLoadExplicitMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"garbage", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), tt.in)
	}
}

func TestRequireConfluenceMissing(t *testing.T) {
	cfg := Config{ConfluenceBaseURL: "https://example.atlassian.net"}
	err := cfg.RequireConfluence()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLUENCE_API_TOKEN")
	assert.Contains(t, err.Error(), "CONFLUENCE_USERNAME")
	assert.NotContains(t, err.Error(), "CONFLUENCE_BASE_URL")
}

func TestRequireNextcloudComplete(t *testing.T) {
	cfg := Config{
		NextcloudURL:        "https://cloud.example.com",
		NextcloudUsername:   "alice",
		NextcloudPassword:   "s3cret",
		NextcloudCollective: "Docs",
	}
	require.NoError(t, cfg.RequireNextcloud())
}

func TestSecrets(t *testing.T) {
	cfg := Config{ConfluenceAPIToken: "tok", NextcloudPassword: "pw"}
	assert.Equal(t, []string{"tok", "pw"}, cfg.Secrets())

	assert.Empty(t, Config{}.Secrets())
}

func TestLoggerRedactsSecrets(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelDebug, []string{"hunter2"})

	logger.Info("auth failed with token hunter2", "token", "hunter2", "user", "alice")

	for _, out := range []string{stderr.String(), file.String()} {
		assert.NotContains(t, out, "hunter2")
		assert.Contains(t, out, "[redacted]")
		assert.Contains(t, out, "alice")
	}
}
