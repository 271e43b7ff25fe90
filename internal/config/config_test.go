package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 5*time.Second, cfg.Interpreter.Timeout)
	assert.Equal(t, "[lad]#", cfg.Interpreter.PromptMarker)
	assert.Equal(t, 8501, cfg.Launcher.StartPort)
	assert.Equal(t, 100, cfg.Launcher.MaxProbes)
	assert.Equal(t, 5*time.Second, cfg.Launcher.StopTimeout)
	assert.Equal(t, int64(2000), cfg.Workspace.ReadLimit)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Launcher, cfg.Launcher)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
interpreter:
  path: /opt/xhell/bin/xhell
  timeout: 2s
  noise_markers: ["[proxychains]", "[debug]"]
history:
  driver: sqlite
  path: /tmp/h.db
launcher:
  start_port: 9000
  open_browser: false
logger:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/xhell/bin/xhell", cfg.Interpreter.Path)
	assert.Equal(t, 2*time.Second, cfg.Interpreter.Timeout)
	assert.Equal(t, []string{"[proxychains]", "[debug]"}, cfg.Interpreter.NoiseMarkers)
	assert.Equal(t, "[lad]#", cfg.Interpreter.PromptMarker)
	assert.Equal(t, "sqlite", cfg.History.Driver)
	assert.Equal(t, 9000, cfg.Launcher.StartPort)
	assert.False(t, cfg.Launcher.OpenBrowser)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("XHELLDEMO_INTERPRETER", "/usr/local/bin/xhell")
	t.Setenv("XHELLDEMO_TIMEOUT", "750ms")
	t.Setenv("XHELLDEMO_START_PORT", "8600")
	t.Setenv("XHELLDEMO_OPEN_BROWSER", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/xhell", cfg.Interpreter.Path)
	assert.Equal(t, 750*time.Millisecond, cfg.Interpreter.Timeout)
	assert.Equal(t, 8600, cfg.Launcher.StartPort)
	assert.False(t, cfg.Launcher.OpenBrowser)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "bad driver", mutate: func(c *Config) { c.History.Driver = "postgres" }, errMsg: `unsupported history.driver "postgres"`},
		{name: "zero timeout", mutate: func(c *Config) { c.Interpreter.Timeout = 0 }, errMsg: "interpreter.timeout must be positive"},
		{name: "port range", mutate: func(c *Config) { c.Launcher.StartPort = 70000 }, errMsg: "launcher.start_port 70000 out of range"},
		{name: "no marker", mutate: func(c *Config) { c.Interpreter.PromptMarker = "" }, errMsg: "interpreter.prompt_marker is required"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Defaults()
			c.mutate(cfg)
			require.ErrorContains(t, Validate(cfg), c.errMsg)
		})
	}
}
