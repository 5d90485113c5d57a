// Package config manages the nexuslink configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nexuslearn/nexuslink/internal/popup"
)

const fileName = "config.yaml"

// Config is the on-disk configuration. Durations are Go duration strings.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Popup     PopupConfig     `yaml:"popup"`
	Browser   BrowserConfig   `yaml:"browser"`
	History   HistoryConfig   `yaml:"history"`
	Classroom ClassroomConfig `yaml:"classroom"`
}

// ServerConfig is the loopback listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuthConfig points at the identity provider.
type AuthConfig struct {
	SignInURL    string `yaml:"signin_url"`
	ProviderName string `yaml:"provider_name"`
}

// PopupConfig tunes the linking attempt.
type PopupConfig struct {
	WindowWidth  int      `yaml:"window_width"`
	WindowHeight int      `yaml:"window_height"`
	PollInterval string   `yaml:"poll_interval"`
	Timeout      string   `yaml:"timeout"`
	Policy       string   `yaml:"policy"`
	SuccessTags  []string `yaml:"success_tags,omitempty"`
}

// BrowserConfig selects and configures the window launcher.
type BrowserConfig struct {
	Mode         string `yaml:"mode"`
	ChromePath   string `yaml:"chrome_path,omitempty"`
	UserDataDir  string `yaml:"user_data_dir,omitempty"`
	ScreenWidth  int    `yaml:"screen_width"`
	ScreenHeight int    `yaml:"screen_height"`
}

// HistoryConfig locates the attempt database.
type HistoryConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path,omitempty"`
}

// ClassroomConfig configures the Classroom API client.
type ClassroomConfig struct {
	BaseURL  string `yaml:"base_url"`
	CacheTTL string `yaml:"cache_ttl"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7891,
		},
		Auth: AuthConfig{
			SignInURL:    "http://localhost:3000/api/auth/signin/google",
			ProviderName: "Google",
		},
		Popup: PopupConfig{
			WindowWidth:  500,
			WindowHeight: 600,
			PollInterval: "1s",
			Timeout:      "5m",
			Policy:       popup.PolicySupersede.String(),
		},
		Browser: BrowserConfig{
			Mode:         "auto",
			ScreenWidth:  1920,
			ScreenHeight: 1080,
		},
		Classroom: ClassroomConfig{
			BaseURL:  "https://classroom.googleapis.com/v1",
			CacheTTL: "5m",
		},
	}
}

// ConfigDir returns the directory holding config.yaml:
// $NEXUSLINK_HOME, else $XDG_CONFIG_HOME/nexuslink, else ~/.config/nexuslink.
func ConfigDir() string {
	if home := os.Getenv("NEXUSLINK_HOME"); home != "" {
		return home
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nexuslink")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "nexuslink")
	}
	return filepath.Join(homeDir, ".config", "nexuslink")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), fileName)
}

// Load reads the default config file. See LoadFrom.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads path over the defaults, applies environment overrides
// and validates the result. A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("NEXUSLINK_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NEXUSLINK_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("NEXUSLINK_SIGNIN_URL"); v != "" {
		c.Auth.SignInURL = v
	}
	return nil
}

// Save writes the config to path atomically.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Validate checks every field that would otherwise fail later.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if u, err := url.Parse(c.Auth.SignInURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("auth.signin_url %q is not an absolute URL", c.Auth.SignInURL))
	}
	if c.Popup.WindowWidth <= 0 || c.Popup.WindowHeight <= 0 {
		problems = append(problems, "popup window size must be positive")
	}
	if _, err := positiveDuration(c.Popup.PollInterval); err != nil {
		problems = append(problems, "popup.poll_interval: "+err.Error())
	}
	if _, err := positiveDuration(c.Popup.Timeout); err != nil {
		problems = append(problems, "popup.timeout: "+err.Error())
	}
	if _, err := ParsePolicy(c.Popup.Policy); err != nil {
		problems = append(problems, err.Error())
	}
	switch strings.ToLower(c.Browser.Mode) {
	case "", "auto", "chrome", "system":
	default:
		problems = append(problems, fmt.Sprintf("browser.mode %q: use chrome, system, or auto", c.Browser.Mode))
	}
	if c.Browser.ScreenWidth <= 0 || c.Browser.ScreenHeight <= 0 {
		problems = append(problems, "browser screen size must be positive")
	}
	if _, err := positiveDuration(c.Classroom.CacheTTL); err != nil {
		problems = append(problems, "classroom.cache_ttl: "+err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func positiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%q must be positive", s)
	}
	return d, nil
}

// ParsePolicy parses a pending-attempt policy name.
func ParsePolicy(s string) (popup.PendingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "supersede":
		return popup.PolicySupersede, nil
	case "reject":
		return popup.PolicyReject, nil
	default:
		return 0, fmt.Errorf("popup.policy %q: use supersede or reject", s)
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	host := c.Server.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return host + ":" + strconv.Itoa(c.Server.Port)
}

// CacheTTL returns the parsed Classroom cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	d, err := positiveDuration(c.Classroom.CacheTTL)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// Screen returns the screen size used to center the popup.
func (c *Config) Screen() popup.Size {
	return popup.Size{Width: c.Browser.ScreenWidth, Height: c.Browser.ScreenHeight}
}

// ToPopupConfig converts the popup section. Call Validate first; invalid
// values fall back to the coordinator defaults.
func (c *Config) ToPopupConfig() popup.Config {
	pc := popup.DefaultConfig()
	pc.WindowSize = popup.Size{Width: c.Popup.WindowWidth, Height: c.Popup.WindowHeight}
	if d, err := positiveDuration(c.Popup.PollInterval); err == nil {
		pc.PollInterval = d
	}
	if d, err := positiveDuration(c.Popup.Timeout); err == nil {
		pc.Timeout = d
	}
	if p, err := ParsePolicy(c.Popup.Policy); err == nil {
		pc.Policy = p
	}
	if len(c.Popup.SuccessTags) > 0 {
		pc.SuccessTags = append([]string(nil), c.Popup.SuccessTags...)
	}
	return pc
}
