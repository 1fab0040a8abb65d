// Package config handles configuration loading, validation, and hot reload
// for the henkan engine and server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"henkan/internal/keymap"
	"henkan/internal/logging"
	"henkan/internal/session"
)

// Session strategies.
const (
	SessionModeIPC   = "ipc"
	SessionModeLocal = "local"
)

// Config holds the complete configuration.
type Config struct {
	// Session selects and configures the conversion session strategy.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Engine configures the input-method engine adapter.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Dictionary configures the in-process session's dictionary.
	Dictionary DictionaryConfig `toml:"dictionary" json:"dictionary" yaml:"dictionary"`

	// Store configures the SQLite database.
	Store StoreConfig `toml:"store" json:"store" yaml:"store"`

	// Logging configures logging behavior.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configures the server's HTTP endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// SessionConfig configures the session strategy.
type SessionConfig struct {
	// Mode is "ipc" (talk to henkan-server) or "local" (in-process session).
	Mode string `toml:"mode" json:"mode" yaml:"mode"`

	// SocketPath is the server's Unix socket.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// ServerPath is launched when the socket cannot be dialed. Empty
	// disables launching.
	ServerPath string `toml:"server_path" json:"server_path" yaml:"server_path"`

	ConnectTimeout Duration `toml:"connect_timeout" json:"connect_timeout" yaml:"connect_timeout"`
	RequestTimeout Duration `toml:"request_timeout" json:"request_timeout" yaml:"request_timeout"`

	// Encoding is the IPC payload encoding: "msgpack" or "json".
	Encoding string `toml:"encoding" json:"encoding" yaml:"encoding"`

	// ToolPath is the auxiliary tool program (configuration dialog and so on).
	ToolPath string `toml:"tool_path" json:"tool_path" yaml:"tool_path"`

	// ConfigPath is where the session persists its own configuration.
	ConfigPath string `toml:"config_path" json:"config_path" yaml:"config_path"`
}

// EngineConfig configures the engine adapter.
type EngineConfig struct {
	// Name is the IBus engine name; "henkan-jp" selects the Japanese layout.
	Name string `toml:"name" json:"name" yaml:"name"`

	// SyncInterval is the minimum time between non-forced syncs.
	SyncInterval Duration `toml:"sync_interval" json:"sync_interval" yaml:"sync_interval"`

	// InitialMode is the composition mode of a new engine.
	InitialMode string `toml:"initial_mode" json:"initial_mode" yaml:"initial_mode"`

	// TurnOnKeys are the keys that reach the session in direct mode.
	TurnOnKeys []string `toml:"turn_on_keys" json:"turn_on_keys" yaml:"turn_on_keys"`

	// SettingsSection is the host settings section the engine listens to.
	SettingsSection string `toml:"settings_section" json:"settings_section" yaml:"settings_section"`

	// SettingsPath is an optional settings file watched for changes.
	SettingsPath string `toml:"settings_path" json:"settings_path" yaml:"settings_path"`

	// IconDir holds the property icons.
	IconDir string `toml:"icon_dir" json:"icon_dir" yaml:"icon_dir"`
}

// DictionaryConfig configures the dictionary.
type DictionaryConfig struct {
	// Path is an optional TSV user dictionary merged over the built-in one.
	Path string `toml:"path" json:"path" yaml:"path"`

	// PageSize is the number of candidates per page.
	PageSize int `toml:"page_size" json:"page_size" yaml:"page_size"`
}

// StoreConfig configures the SQLite database.
type StoreConfig struct {
	// Path is the database file. Empty disables persistence.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// BusyTimeout returns BusyTimeoutMs as a duration.
func (s StoreConfig) BusyTimeout() time.Duration {
	return time.Duration(s.BusyTimeoutMs) * time.Millisecond
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format (text, json).
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is where logs go (stdout, stderr, file, both).
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// Compress enables gzip compression of rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig configures where each process exposes its metrics.
type MetricsConfig struct {
	// Listen is the HTTP address of henkan-server. Empty disables the endpoint.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`

	// EngineListen is the HTTP address of henkan-ibus. Empty disables the
	// endpoint.
	EngineListen string `toml:"engine_listen" json:"engine_listen" yaml:"engine_listen"`

	// PushGateway is a Pushgateway URL henkan-quality pushes run results to.
	PushGateway string `toml:"push_gateway" json:"push_gateway" yaml:"push_gateway"`
}

// Duration is a time.Duration written as a string such as "5m" in config
// files.
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration {
	return Duration{d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir := PlatformDataDir()

	return &Config{
		Session: SessionConfig{
			Mode:           SessionModeIPC,
			SocketPath:     filepath.Join(PlatformRuntimeDir(), "session.sock"),
			ConnectTimeout: D(2 * time.Second),
			RequestTimeout: D(5 * time.Second),
			Encoding:       "msgpack",
			ConfigPath:     filepath.Join(PlatformConfigDir(), "session.toml"),
		},
		Engine: EngineConfig{
			Name:            "henkan",
			SyncInterval:    D(5 * time.Minute),
			InitialMode:     session.ModeDirect.String(),
			TurnOnKeys:      append([]string{}, keymap.DefaultTurnOnKeys...),
			SettingsSection: "engine/Henkan",
		},
		Dictionary: DictionaryConfig{
			PageSize: session.DefaultPageSize,
		},
		Store: StoreConfig{
			Path:          filepath.Join(dataDir, "henkan.db"),
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dataDir, "logs", "henkan.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
// Environment overrides are applied; the result is not validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FindConfigFile()
	}
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HENKAN_SESSION_MODE"); v != "" {
		c.Session.Mode = v
	}
	if v := os.Getenv("HENKAN_SOCKET"); v != "" {
		c.Session.SocketPath = v
	}
	if v := os.Getenv("HENKAN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HENKAN_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("HENKAN_PUSH_GATEWAY"); v != "" {
		c.Metrics.PushGateway = v
	}
}

// LoggerConfig converts the logging section for the given component.
func (l LoggingConfig) LoggerConfig(component string) (*logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:      level,
		Format:     format,
		Output:     l.Output,
		FilePath:   l.FilePath,
		MaxSize:    int64(l.MaxSizeMB),
		MaxBackups: l.MaxBackups,
		Compress:   l.Compress,
		Component:  component,
	}, nil
}

// NewLogger builds the logger described by the logging section.
func (c *Config) NewLogger(component string) (*logging.Logger, error) {
	lc, err := c.Logging.LoggerConfig(component)
	if err != nil {
		return nil, err
	}
	return logging.New(lc)
}

// WatchLogLevel keeps logger's level in step with the logging section of
// every configuration l reloads.
func (l *Loader) WatchLogLevel(logger *logging.Logger) {
	l.OnChange(func(c *Config) {
		level, err := logging.ParseLevel(c.Logging.Level)
		if err != nil {
			return
		}
		if level != logger.Level() {
			logger.Info("log level changed", "level", logging.LevelString(level))
			logger.SetLevel(level)
		}
	})
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Engine.TurnOnKeys = append([]string{}, c.Engine.TurnOnKeys...)
	return &clone
}

// InitialMode parses Engine.InitialMode.
func (c *Config) InitialMode() (session.CompositionMode, error) {
	return session.ParseCompositionMode(c.Engine.InitialMode)
}

// TurnOn builds the direct-mode key predicate from Engine.TurnOnKeys.
func (c *Config) TurnOn() (keymap.TurnOnFunc, error) {
	return keymap.NewTurnOnSet(c.Engine.TurnOnKeys)
}

// ToolsAvailable reports whether the configured tool program exists.
func (c *Config) ToolsAvailable() bool {
	if c.Session.ToolPath == "" {
		return false
	}
	_, err := os.Stat(c.Session.ToolPath)
	return err == nil
}

// EnsureDirectories creates the directories the configured paths live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Session.SocketPath),
		filepath.Dir(c.Session.ConfigPath),
	}
	if c.Store.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
