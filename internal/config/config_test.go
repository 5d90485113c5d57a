package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuslearn/nexuslink/internal/popup"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NEXUSLINK_PORT", "")
	t.Setenv("NEXUSLINK_SIGNIN_URL", "")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:7891", cfg.Addr())
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.Equal(t, popup.Size{Width: 1920, Height: 1080}, cfg.Screen())

	pc := cfg.ToPopupConfig()
	def := popup.DefaultConfig()
	assert.Equal(t, def.WindowSize, pc.WindowSize)
	assert.Equal(t, time.Second, pc.PollInterval)
	assert.Equal(t, 5*time.Minute, pc.Timeout)
	assert.Equal(t, popup.PolicySupersede, pc.Policy)
	assert.Equal(t, def.SuccessTags, pc.SuccessTags)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("NEXUSLINK_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "nexuslink", "config.yaml"), ConfigPath())

	t.Setenv("NEXUSLINK_HOME", "/nl")
	assert.Equal(t, filepath.Join("/nl", "config.yaml"), ConfigPath())
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFrom_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
popup:
  timeout: 2m
  policy: reject
  success_tags: [CUSTOM_DONE]
browser:
  mode: system
`), 0600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "system", cfg.Browser.Mode)
	assert.Equal(t, 500, cfg.Popup.WindowWidth)

	pc := cfg.ToPopupConfig()
	assert.Equal(t, 2*time.Minute, pc.Timeout)
	assert.Equal(t, time.Second, pc.PollInterval)
	assert.Equal(t, popup.PolicyReject, pc.Policy)
	assert.Equal(t, []string{"CUSTOM_DONE"}, pc.SuccessTags)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Setenv("NEXUSLINK_PORT", "8123")
	t.Setenv("NEXUSLINK_SIGNIN_URL", "https://app.example.com/api/auth/signin/google")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "https://app.example.com/api/auth/signin/google", cfg.Auth.SignInURL)

	t.Setenv("NEXUSLINK_PORT", "not-a-port")
	_, err = LoadFrom(filepath.Join(t.TempDir(), "config.yaml"))
	assert.Error(t, err)
}

func TestLoadFrom_Invalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "server: [unclosed"},
		{"bad duration", "popup:\n  timeout: soon\n"},
		{"zero poll", "popup:\n  poll_interval: 0s\n"},
		{"bad policy", "popup:\n  policy: queue\n"},
		{"bad mode", "browser:\n  mode: firefox\n"},
		{"relative signin", "auth:\n  signin_url: /api/auth/signin\n"},
		{"port range", "server:\n  port: 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0600))
			_, err := LoadFrom(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Popup.Timeout = "90s"
	cfg.Browser.ChromePath = "/opt/chrome"
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, popup.PolicySupersede, p)

	p, err = ParsePolicy(" Reject ")
	require.NoError(t, err)
	assert.Equal(t, popup.PolicyReject, p)

	_, err = ParsePolicy("queue")
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	w, err := WatchWithDelay(path, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	cfg := DefaultConfig()
	cfg.Popup.Timeout = "3m"
	require.NoError(t, cfg.Save(path))

	select {
	case got := <-w.Configs():
		assert.Equal(t, "3m", got.Popup.Timeout)
	case err := <-w.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_ReportsInvalidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	w, err := WatchWithDelay(path, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(path, []byte("popup:\n  timeout: never\n"), 0600))

	select {
	case err := <-w.Errors():
		assert.Contains(t, err.Error(), "popup.timeout")
	case <-w.Configs():
		t.Fatal("invalid config must not be emitted")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error")
	}
}

func TestWatch_RequiresPath(t *testing.T) {
	_, err := Watch("")
	assert.Error(t, err)
}
