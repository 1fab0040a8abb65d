package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce collapses bursts of writes from editors.
const reloadDebounce = 100 * time.Millisecond

type codec struct {
	decode func(data []byte, cfg *Config) error
	encode func(w io.Writer, cfg *Config) error
}

var codecs = map[string]codec{
	"toml": {
		decode: func(data []byte, cfg *Config) error {
			_, err := toml.Decode(string(data), cfg)
			return err
		},
		encode: func(w io.Writer, cfg *Config) error {
			return toml.NewEncoder(w).Encode(cfg)
		},
	},
	"json": {
		decode: func(data []byte, cfg *Config) error {
			return json.Unmarshal(data, cfg)
		},
		encode: func(w io.Writer, cfg *Config) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	},
	"yaml": {
		decode: func(data []byte, cfg *Config) error {
			return yaml.Unmarshal(data, cfg)
		},
		encode: func(w io.Writer, cfg *Config) error {
			enc := yaml.NewEncoder(w)
			if err := enc.Encode(cfg); err != nil {
				enc.Close()
				return err
			}
			return enc.Close()
		},
	},
}

// FormatOf returns the config format implied by path's extension, or ""
// when the extension is not one of SupportedConfigFormats.
func FormatOf(path string) string {
	switch ext := strings.TrimPrefix(filepath.Ext(path), "."); ext {
	case "yml":
		return "yaml"
	case "toml", "json", "yaml":
		return ext
	default:
		return ""
	}
}

// Decode parses data in format over the defaults. An empty format tries
// TOML, JSON and YAML in turn.
func Decode(data []byte, format string) (*Config, error) {
	if format != "" {
		c, ok := codecs[format]
		if !ok {
			return nil, fmt.Errorf("unknown config format %q", format)
		}
		cfg := DefaultConfig()
		if err := c.decode(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", format, err)
		}
		return cfg, nil
	}
	for _, f := range []string{"toml", "json", "yaml"} {
		if cfg, err := Decode(data, f); err == nil {
			return cfg, nil
		}
	}
	return nil, errors.New("unable to parse config (tried toml, json, yaml)")
}

// Encode writes cfg to w in format. An empty format means TOML.
func Encode(w io.Writer, cfg *Config, format string) error {
	if format == "" {
		format = "toml"
	}
	c, ok := codecs[format]
	if !ok {
		return fmt.Errorf("unknown config format %q", format)
	}
	return c.encode(w, cfg)
}

// loadConfigFromFile reads path; a missing file yields the defaults.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Decode(data, FormatOf(path))
}

// SaveConfig atomically writes cfg to path in the format implied by its
// extension.
func SaveConfig(cfg *Config, path string) error {
	var buf bytes.Buffer
	if err := Encode(&buf, cfg, FormatOf(path)); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadOrCreate loads path, first writing the defaults there if it does
// not exist. created reports whether the file was written.
func LoadOrCreate(path string) (cfg *Config, created bool, err error) {
	if path == "" {
		path = ConfigPath()
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if err := SaveConfig(DefaultConfig(), path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		created = true
	}
	cfg, err = NewLoader(path).Load()
	if err != nil {
		return nil, created, err
	}
	return cfg, created, nil
}

// Loader holds the current configuration of one file and reloads it when
// the file changes. Only configurations that pass Validate replace the
// current one.
type Loader struct {
	path string

	mu       sync.RWMutex
	config   *Config
	onChange []func(*Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
	errs    chan error
}

// NewLoader creates a loader for path. An empty path uses FindConfigFile,
// then ConfigPath.
func NewLoader(path string) *Loader {
	if path == "" {
		path = FindConfigFile()
	}
	if path == "" {
		path = ConfigPath()
	}
	return &Loader{
		path: path,
		done: make(chan struct{}),
		errs: make(chan error, 1),
	}
}

// Path returns the configuration file.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the file, applies environment overrides and validates.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.read()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) read() (*Config, error) {
	cfg, err := loadConfigFromFile(l.path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers cb to run after every successful reload.
func (l *Loader) OnChange(cb func(*Config)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, cb)
	l.mu.Unlock()
}

// Errors delivers reload failures. Only the latest undelivered error is
// kept.
func (l *Loader) Errors() <-chan error {
	return l.errs
}

// Watch reloads the file whenever it is written. The directory is watched
// because editors replace files instead of writing them in place.
func (l *Loader) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = w
	go l.watchLoop(w)
	return nil
}

func (l *Loader) watchLoop(w *fsnotify.Watcher) {
	name := filepath.Base(l.path)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-l.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.report(err)
		case <-timer.C:
			l.reload()
		}
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

func (l *Loader) reload() {
	cfg, err := l.read()
	if err != nil {
		l.report(fmt.Errorf("reload %s: %w", l.path, err))
		return
	}

	l.mu.Lock()
	l.config = cfg
	callbacks := append([]func(*Config){}, l.onChange...)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

// Close stops watching.
func (l *Loader) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		if l.watcher != nil {
			err = l.watcher.Close()
		}
	})
	return err
}
