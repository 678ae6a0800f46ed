package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `events:
  path: events.yaml
queue:
  allow_audio: false
  delay_unit: 10ms
server:
  port: 9090
lights:
  enabled: true
  base_url: http://bridge.local/api/key
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, _, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "events.yaml", cfg.Events.Path)
	require.False(t, cfg.Queue.AllowAudio)
	require.Equal(t, 10*time.Millisecond, cfg.Queue.DelayUnit)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Equal(t, "1", cfg.Lights.Group)
	require.Equal(t, 30*time.Minute, cfg.YouTube.TTL)
	require.Equal(t, 15*time.Minute, cfg.Chat.AnnounceInterval)
	require.Contains(t, cfg.Chat.Online, "{{bot}}")
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644))

	t.Setenv("FITZBOT_SERVER_PORT", "7070")

	cfg, _, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Lights.Enabled = true
	cfg.Queue.DelayUnit = 0
	cfg.Chat.AnnounceInterval = -time.Second
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "lights.base_url")
	require.Contains(t, err.Error(), "delay_unit")
	require.Contains(t, err.Error(), "announce_interval")
}

func TestDefaultConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	require.Equal(t, "/custom/config/fitzbot", DefaultConfigDir())
}
