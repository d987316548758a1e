package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, 1000.0, cfg.View.Width)
	assert.Equal(t, "svg", cfg.Render.Format)
	assert.Equal(t, "force", cfg.Render.Layout)
}

func TestLayoutFlag(t *testing.T) {
	t.Chdir(t.TempDir())

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("layout", "force", "")
	require.NoError(t, flags.Parse([]string{"--layout=circle"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "circle", cfg.Render.Layout)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
dataset: flows/shop.json
server:
  port: 9000
log:
  level: debug
history:
  max_entries: 50
`)

	t.Setenv("FLOWBOARD_SERVER__PORT", "9100")
	t.Setenv("FLOWBOARD_LOG__FORMAT", "json")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 0, "")
	flags.String("log-level", "", "")
	flags.Bool("watch", false, "")
	require.NoError(t, flags.Parse([]string{"--log-level=warn", "--watch"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "flows/shop.json", cfg.Dataset, "file value")
	assert.Equal(t, 50, cfg.History.MaxEntries, "file value")
	assert.Equal(t, 9100, cfg.Server.Port, "env overrides file")
	assert.Equal(t, "json", cfg.Log.Format, "env value")
	assert.Equal(t, "warn", cfg.Log.Level, "flag overrides file")
	assert.True(t, cfg.Watch, "flag value")
}

func TestUnchangedFlagsDoNotOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLogJSONFlag(t *testing.T) {
	t.Chdir(t.TempDir())

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Bool("log-json", false, "")
	require.NoError(t, flags.Parse([]string{"--log-json"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFindsDefaultFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flowboard.yml"), []byte("watch: true\n"), 0o600))
	t.Chdir(dir)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "flowboard.yml", cfg.File)
	assert.True(t, cfg.Watch)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"port out of range", "server:\n  port: 70000\n", "Port"},
		{"unknown level", "log:\n  level: chatty\n", "Level"},
		{"unknown format", "render:\n  format: png\n", "Format"},
		{"zero viewport", "viewport:\n  width: 0\n", "Width"},
		{"unknown layout", "render:\n  layout: voronoi\n", "Layout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.port", envKey("FLOWBOARD_SERVER__PORT"))
	assert.Equal(t, "history.max_entries", envKey("FLOWBOARD_HISTORY__MAX_ENTRIES"))
	assert.Equal(t, "dataset", envKey("FLOWBOARD_DATASET"))
}
