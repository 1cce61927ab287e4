// Package config handles XDG configuration and data directories, file paths
// and user settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// AppName is the application directory name.
	AppName = "gtodo"

	// OAuthClientFile is the OAuth client credentials filename.
	OAuthClientFile = "oauth_client.json"

	// TokenFile is the stored OAuth token filename.
	TokenFile = "token.json"

	// SettingsFile is the settings filename, without extension.
	SettingsFile = "config"

	TasksFile   = "tasks.json"
	PendingFile = "pending.json"
	LogFile     = "gtodo.log"

	envPrefix = "GTODO"
)

// Config holds configuration paths and settings.
type Config struct {
	// Dir is the configuration directory path.
	Dir string

	// Debug enables debug logging.
	Debug bool

	// Quiet suppresses informational output.
	Quiet bool

	Settings Settings
}

// Settings are the tunables read from config.yaml and GTODO_* variables.
type Settings struct {
	// List is the Google Tasks list to mirror.
	List string

	// DataDir holds the task snapshot and the pending log.
	DataDir string

	PullInterval time.Duration
	PushInterval time.Duration
	CallTimeout  time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	GraceWindow  time.Duration
	MaxAttempts  int
	BatchSize    int
}

// New creates a new Config with the default or specified config directory.
// If configDir is empty, uses XDG_CONFIG_HOME/gtodo or $HOME/.config/gtodo.
func New(configDir string) (*Config, error) {
	dir := configDir
	if dir == "" {
		dir = DefaultConfigDir()
	}
	settings, err := LoadSettings(dir)
	if err != nil {
		return nil, err
	}
	return &Config{Dir: dir, Settings: settings}, nil
}

// DefaultConfigDir returns the default configuration directory.
// Uses XDG_CONFIG_HOME if set, otherwise $HOME/.config.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home can't be determined
		return AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// DefaultDataDir returns XDG_DATA_HOME/gtodo or $HOME/.local/share/gtodo.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return AppName
	}
	return filepath.Join(home, ".local", "share", AppName)
}

// LoadSettings reads <dir>/config.yaml, if present, and applies GTODO_*
// environment overrides (GTODO_PULL_INTERVAL=30s, GTODO_LIST=Work, ...).
func LoadSettings(dir string) (Settings, error) {
	v := viper.New()
	v.SetConfigName(SettingsFile)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("list", "@default")
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("pull_interval", time.Minute)
	v.SetDefault("push_interval", 30*time.Second)
	v.SetDefault("call_timeout", 10*time.Second)
	v.SetDefault("backoff_base", 2*time.Second)
	v.SetDefault("backoff_max", 5*time.Minute)
	v.SetDefault("grace_window", 2*time.Minute)
	v.SetDefault("max_attempts", 10)
	v.SetDefault("batch_size", 20)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read settings: %w", err)
		}
	}

	s := Settings{
		List:         strings.TrimSpace(v.GetString("list")),
		DataDir:      v.GetString("data_dir"),
		PullInterval: v.GetDuration("pull_interval"),
		PushInterval: v.GetDuration("push_interval"),
		CallTimeout:  v.GetDuration("call_timeout"),
		BackoffBase:  v.GetDuration("backoff_base"),
		BackoffMax:   v.GetDuration("backoff_max"),
		GraceWindow:  v.GetDuration("grace_window"),
		MaxAttempts:  v.GetInt("max_attempts"),
		BatchSize:    v.GetInt("batch_size"),
	}
	return s, s.Validate()
}

// Validate reports the first out-of-range setting.
func (s Settings) Validate() error {
	if s.List == "" {
		return errors.New("settings: list must not be empty")
	}
	if s.DataDir == "" {
		return errors.New("settings: data_dir must not be empty")
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"pull_interval", s.PullInterval},
		{"push_interval", s.PushInterval},
		{"call_timeout", s.CallTimeout},
		{"backoff_base", s.BackoffBase},
		{"backoff_max", s.BackoffMax},
		{"grace_window", s.GraceWindow},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("settings: %s must be positive, got %s", d.name, d.d)
		}
	}
	if s.BackoffMax < s.BackoffBase {
		return fmt.Errorf("settings: backoff_max (%s) is below backoff_base (%s)", s.BackoffMax, s.BackoffBase)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("settings: max_attempts must be at least 1, got %d", s.MaxAttempts)
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("settings: batch_size must be at least 1, got %d", s.BatchSize)
	}
	return nil
}

// OAuthClientPath returns the path to the OAuth client credentials file.
func (c *Config) OAuthClientPath() string {
	return filepath.Join(c.Dir, OAuthClientFile)
}

// TokenPath returns the path to the stored OAuth token file.
func (c *Config) TokenPath() string {
	return filepath.Join(c.Dir, TokenFile)
}

// TasksPath returns the path of the task snapshot.
func (c *Config) TasksPath() string {
	return filepath.Join(c.Settings.DataDir, TasksFile)
}

// PendingPath returns the path of the pending-action log.
func (c *Config) PendingPath() string {
	return filepath.Join(c.Settings.DataDir, PendingFile)
}

// LogPath returns the path of the log file used while the TUI owns the
// terminal.
func (c *Config) LogPath() string {
	return filepath.Join(c.Settings.DataDir, LogFile)
}

// EnsureDir creates the config directory if it doesn't exist.
// Directory is created with mode 0700.
func (c *Config) EnsureDir() error {
	return os.MkdirAll(c.Dir, 0700)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.Settings.DataDir, 0700)
}

// HasOAuthClient checks if the OAuth client credentials file exists.
func (c *Config) HasOAuthClient() bool {
	_, err := os.Stat(c.OAuthClientPath())
	return err == nil
}

// HasToken checks if the token file exists.
func (c *Config) HasToken() bool {
	_, err := os.Stat(c.TokenPath())
	return err == nil
}

// RemoveToken deletes the token file.
func (c *Config) RemoveToken() error {
	return os.Remove(c.TokenPath())
}
