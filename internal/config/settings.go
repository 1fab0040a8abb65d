package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// SettingsHandler receives one changed host setting.
type SettingsHandler func(section, name string, value any)

// Settings maps section name to setting name to value.
type Settings map[string]map[string]any

// ReadSettings parses a host settings file. Each top-level TOML table is a
// section; section names may contain slashes when quoted, for example
// ["engine/Henkan"]. Top-level values outside a table are ignored.
func ReadSettings(path string) (Settings, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	out := make(Settings, len(raw))
	for section, v := range raw {
		table, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out[section] = table
	}
	return out, nil
}

// SettingsWatcher watches a host settings file and reports every setting
// whose value changed since the previous read. The first read only
// establishes the baseline.
type SettingsWatcher struct {
	path    string
	handler SettingsHandler
	logger  *slog.Logger

	mu      sync.Mutex
	values  Settings
	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSettingsWatcher creates a watcher for path.
func NewSettingsWatcher(path string, handler SettingsHandler, logger *slog.Logger) *SettingsWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SettingsWatcher{
		path:    path,
		handler: handler,
		logger:  logger.With("component", "settings"),
		values:  Settings{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start reads the baseline and begins watching. A missing file is an empty
// baseline.
func (w *SettingsWatcher) Start() error {
	values, err := w.read()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.values = values
	w.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	w.watcher = watcher

	go w.watchLoop()
	return nil
}

func (w *SettingsWatcher) read() (Settings, error) {
	values, err := ReadSettings(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, nil
	}
	return values, err
}

func (w *SettingsWatcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				if err := w.Reload(); err != nil {
					w.logger.Error("reload settings", "path", w.path, "error", err)
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("settings watcher", "error", err)
		}
	}
}

// Reload rereads the file and reports changed settings in section, name
// order. On a parse error the previous values are kept.
func (w *SettingsWatcher) Reload() error {
	if w.ctx.Err() != nil {
		return nil
	}
	values, err := w.read()
	if err != nil {
		return err
	}

	w.mu.Lock()
	changes := diffSettings(w.values, values)
	w.values = values
	w.mu.Unlock()

	for _, c := range changes {
		w.logger.Debug("setting changed", "section", c.section, "name", c.name, "value", c.value)
		w.handler(c.section, c.name, c.value)
	}
	return nil
}

// Close stops watching.
func (w *SettingsWatcher) Close() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

type settingChange struct {
	section string
	name    string
	value   any
}

// diffSettings returns the settings added or changed in next. Removed
// settings are not reported.
func diffSettings(prev, next Settings) []settingChange {
	var changes []settingChange
	for section, table := range next {
		for name, value := range table {
			old, ok := prev[section][name]
			if ok && reflect.DeepEqual(old, value) {
				continue
			}
			changes = append(changes, settingChange{section: section, name: name, value: value})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].section != changes[j].section {
			return changes[i].section < changes[j].section
		}
		return changes[i].name < changes[j].name
	})
	return changes
}
