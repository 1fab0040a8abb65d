package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"henkan/internal/logging"
	"henkan/internal/session"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Session.Mode != SessionModeIPC {
		t.Errorf("expected ipc mode, got %s", cfg.Session.Mode)
	}
	if cfg.Engine.SyncInterval.Duration != 5*time.Minute {
		t.Errorf("expected 5m sync interval, got %s", cfg.Engine.SyncInterval)
	}
	if cfg.Engine.SettingsSection != "engine/Henkan" {
		t.Errorf("unexpected settings section %q", cfg.Engine.SettingsSection)
	}
	if cfg.Dictionary.PageSize != 9 {
		t.Errorf("expected page size 9, got %d", cfg.Dictionary.PageSize)
	}
	if !strings.Contains(cfg.Store.Path, "henkan") {
		t.Errorf("store path should contain henkan: %s", cfg.Store.Path)
	}

	mode, err := cfg.InitialMode()
	if err != nil || mode != session.ModeDirect {
		t.Errorf("expected direct initial mode, got %v (%v)", mode, err)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "henkan") {
		t.Errorf("config path should contain henkan: %s", path)
	}
}

func TestPlatformRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := PlatformRuntimeDir(); got != "/run/user/1000/henkan" {
		t.Errorf("unexpected runtime dir %s", got)
	}

	t.Setenv("XDG_RUNTIME_DIR", "")
	if got := PlatformRuntimeDir(); !strings.HasPrefix(filepath.Base(got), "henkan-") {
		t.Errorf("unexpected fallback runtime dir %s", got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.Name != "henkan" {
		t.Errorf("expected defaults, got engine name %q", cfg.Engine.Name)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
[session]
mode = "local"
request_timeout = "750ms"

[engine]
name = "henkan-jp"
sync_interval = "30s"
turn_on_keys = ["henkan", "ctrl+space"]

[dictionary]
page_size = 5
`,
		},
		{
			name: "json",
			file: "config.json",
			content: `{
  "session": {"mode": "local", "request_timeout": "750ms"},
  "engine": {"name": "henkan-jp", "sync_interval": "30s", "turn_on_keys": ["henkan", "ctrl+space"]},
  "dictionary": {"page_size": 5}
}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
session:
  mode: local
  request_timeout: 750ms
engine:
  name: henkan-jp
  sync_interval: 30s
  turn_on_keys: [henkan, ctrl+space]
dictionary:
  page_size: 5
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tc.file)
			if err := os.WriteFile(path, []byte(tc.content), 0600); err != nil {
				t.Fatalf("write config: %v", err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Session.Mode != SessionModeLocal {
				t.Errorf("mode = %q", cfg.Session.Mode)
			}
			if cfg.Session.RequestTimeout.Duration != 750*time.Millisecond {
				t.Errorf("request_timeout = %s", cfg.Session.RequestTimeout)
			}
			if cfg.Engine.Name != "henkan-jp" {
				t.Errorf("engine.name = %q", cfg.Engine.Name)
			}
			if cfg.Engine.SyncInterval.Duration != 30*time.Second {
				t.Errorf("sync_interval = %s", cfg.Engine.SyncInterval)
			}
			if cfg.Dictionary.PageSize != 5 {
				t.Errorf("page_size = %d", cfg.Dictionary.PageSize)
			}
			// Unset sections keep their defaults.
			if cfg.Logging.Level != "info" {
				t.Errorf("logging.level = %q", cfg.Logging.Level)
			}

			turnOn, err := cfg.TurnOn()
			if err != nil {
				t.Fatalf("TurnOn: %v", err)
			}
			if !turnOn(session.KeyEvent{SpecialKey: session.KeySpace, Modifiers: session.ModCtrl}) {
				t.Error("ctrl+space should turn on")
			}
			if turnOn(session.Special(session.KeyHankaku)) {
				t.Error("hankaku is not in the configured set")
			}
		})
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[session\nmode ="), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[engine]\nsync_interval = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HENKAN_SESSION_MODE", "local")
	t.Setenv("HENKAN_SOCKET", "/tmp/h.sock")
	t.Setenv("HENKAN_LOG_LEVEL", "debug")
	t.Setenv("HENKAN_DB", "/tmp/h.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.Mode != "local" || cfg.Session.SocketPath != "/tmp/h.sock" {
		t.Errorf("session overrides not applied: %+v", cfg.Session)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level override not applied: %s", cfg.Logging.Level)
	}
	if cfg.Store.Path != "/tmp/h.db" {
		t.Errorf("db override not applied: %s", cfg.Store.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"unknown session mode", func(c *Config) { c.Session.Mode = "grpc" }, "session.mode"},
		{"ipc without socket", func(c *Config) { c.Session.SocketPath = "" }, "session.socket_path"},
		{"zero request timeout", func(c *Config) { c.Session.RequestTimeout = D(0) }, "session.request_timeout"},
		{"unknown encoding", func(c *Config) { c.Session.Encoding = "cbor" }, "session.encoding"},
		{"zero sync interval", func(c *Config) { c.Engine.SyncInterval = D(0) }, "engine.sync_interval"},
		{"unknown initial mode", func(c *Config) { c.Engine.InitialMode = "romaji" }, "engine.initial_mode"},
		{"unknown turn-on key", func(c *Config) { c.Engine.TurnOnKeys = []string{"hyper+x"} }, "engine.turn_on_keys"},
		{"empty section", func(c *Config) { c.Engine.SettingsSection = "" }, "engine.settings_section"},
		{"page size too small", func(c *Config) { c.Dictionary.PageSize = 0 }, "dictionary.page_size"},
		{"page size too large", func(c *Config) { c.Dictionary.PageSize = 17 }, "dictionary.page_size"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"file output without path", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
		{"shared metrics address", func(c *Config) { c.Metrics.Listen = ":9464"; c.Metrics.EngineListen = ":9464" }, "metrics.engine_listen"},
		{"push gateway without scheme", func(c *Config) { c.Metrics.PushGateway = "localhost:9091" }, "metrics.push_gateway"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			if !verrs.Has(tc.field) {
				t.Errorf("expected error on %s, got %v", tc.field, verrs)
			}
		})
	}
}

func TestLocalModeNeedsNoSocket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.Mode = SessionModeLocal
	cfg.Session.SocketPath = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("local mode should not need a socket: %v", err)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, ext := range SupportedConfigFormats() {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", "config."+ext)
			cfg := DefaultConfig()
			cfg.Engine.SyncInterval = D(90 * time.Second)
			cfg.Engine.TurnOnKeys = []string{"on"}

			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.Engine.SyncInterval.Duration != 90*time.Second {
				t.Errorf("sync_interval = %s", got.Engine.SyncInterval)
			}
			if len(got.Engine.TurnOnKeys) != 1 || got.Engine.TurnOnKeys[0] != "on" {
				t.Errorf("turn_on_keys = %v", got.Engine.TurnOnKeys)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	_, created, err := LoadOrCreate(path)
	if err != nil || !created {
		t.Fatalf("expected creation, got created=%v err=%v", created, err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	_, created, err = LoadOrCreate(path)
	if err != nil || created {
		t.Fatalf("expected load, got created=%v err=%v", created, err)
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Engine.TurnOnKeys[0] = "f1"
	if cfg.Engine.TurnOnKeys[0] == "f1" {
		t.Error("Clone shares TurnOnKeys")
	}
}

func TestToolsAvailable(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ToolsAvailable() {
		t.Error("no tool path configured")
	}

	tool := filepath.Join(t.TempDir(), "henkan-tool")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\n"), 0700); err != nil {
		t.Fatal(err)
	}
	cfg.Session.ToolPath = tool
	if !cfg.ToolsAvailable() {
		t.Error("tool exists")
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[dictionary]\npage_size = 4\n"), 0600); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(path)
	defer l.Close()
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) { changed <- c })
	if err := l.Watch(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("[dictionary]\npage_size = 7\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changed:
		if c.Dictionary.PageSize != 7 {
			t.Errorf("page_size = %d", c.Dictionary.PageSize)
		}
		if l.Config().Dictionary.PageSize != 7 {
			t.Error("loader did not keep the new config")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload")
	}
}

func TestLoaderWatchLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"warn\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(path)
	defer l.Close()
	cfg, err := l.Load()
	if err != nil {
		t.Fatal(err)
	}
	lc, err := cfg.Logging.LoggerConfig("test")
	if err != nil {
		t.Fatal(err)
	}
	lc.Writer = io.Discard
	logger, err := logging.New(lc)
	if err != nil {
		t.Fatal(err)
	}

	l.WatchLogLevel(logger)
	changed := make(chan struct{}, 1)
	l.OnChange(func(*Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err := l.Watch(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
		if logger.Level() != logging.LevelDebug {
			t.Errorf("level = %v, want debug", logger.Level())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload")
	}
}

func TestLoaderRejectsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[dictionary]\npage_size = 4\n"), 0600); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(path)
	defer l.Close()
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if err := l.Watch(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("[dictionary]\npage_size = 99\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-l.Errors():
		if err == nil {
			t.Error("expected validation error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no error reported")
	}
	if l.Config().Dictionary.PageSize != 4 {
		t.Errorf("invalid reload replaced config: %d", l.Config().Dictionary.PageSize)
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"

	lc, err := cfg.Logging.LoggerConfig("henkan-server")
	if err != nil {
		t.Fatalf("LoggerConfig: %v", err)
	}
	if lc.Level != logging.LevelDebug || lc.Format != logging.FormatJSON {
		t.Errorf("level/format = %v/%v", lc.Level, lc.Format)
	}
	if lc.MaxSize != 20 || lc.MaxBackups != 3 || !lc.Compress {
		t.Errorf("rotation = %d/%d/%v", lc.MaxSize, lc.MaxBackups, lc.Compress)
	}
	if lc.Component != "henkan-server" {
		t.Errorf("Component = %q", lc.Component)
	}

	cfg.Logging.Level = "loud"
	if _, err := cfg.NewLogger("x"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestFormatOf(t *testing.T) {
	tests := map[string]string{
		"config.toml": "toml",
		"a/b.json":    "json",
		"c.yaml":      "yaml",
		"c.yml":       "yaml",
		"config":      "",
		"config.ini":  "",
	}
	for path, want := range tests {
		if got := FormatOf(path); got != want {
			t.Errorf("FormatOf(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestDecodeAutoDetect(t *testing.T) {
	cfg, err := Decode([]byte(`{"dictionary": {"page_size": 5}}`), "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Dictionary.PageSize != 5 {
		t.Errorf("page_size = %d", cfg.Dictionary.PageSize)
	}
	if cfg.Engine.Name != "henkan" {
		t.Errorf("defaults not kept: engine.name = %q", cfg.Engine.Name)
	}

	if _, err := Decode([]byte("{{{"), ""); err == nil {
		t.Error("expected error for garbage")
	}
	if _, err := Decode(nil, "ini"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, format := range []string{"toml", "json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Metrics.Listen = "127.0.0.1:9464"

			var buf strings.Builder
			if err := Encode(&buf, cfg, format); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode([]byte(buf.String()), format)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Metrics.Listen != cfg.Metrics.Listen {
				t.Errorf("metrics.listen = %q", got.Metrics.Listen)
			}
		})
	}
}
