package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSetting struct {
	section string
	name    string
	value   any
}

type settingsRecorder struct {
	mu   sync.Mutex
	seen []recordedSetting
}

func (r *settingsRecorder) handle(section, name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, recordedSetting{section, name, value})
}

func (r *settingsRecorder) all() []recordedSetting {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedSetting{}, r.seen...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSettings(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestReadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeSettings(t, path, `
stray = 1

["engine/Henkan"]
preedit_method = "KANA"
suggestions_size = 3
incognito_mode = true

[general]
preload_engines = ["henkan"]
`)

	s, err := ReadSettings(path)
	require.NoError(t, err)
	assert.Len(t, s, 2)
	assert.Equal(t, "KANA", s["engine/Henkan"]["preedit_method"])
	assert.Equal(t, int64(3), s["engine/Henkan"]["suggestions_size"])
	assert.Equal(t, true, s["engine/Henkan"]["incognito_mode"])
}

func TestSettingsWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeSettings(t, path, `
["engine/Henkan"]
preedit_method = "ROMAN"
incognito_mode = false
`)

	rec := &settingsRecorder{}
	w := NewSettingsWatcher(path, rec.handle, quietLogger())
	require.NoError(t, w.Start())
	defer w.Close()
	assert.Empty(t, rec.all(), "baseline is not reported")

	writeSettings(t, path, `
["engine/Henkan"]
preedit_method = "KANA"
incognito_mode = false
suggestions_size = 5

[other]
x = "y"
`)
	require.NoError(t, w.Reload())

	assert.Equal(t, []recordedSetting{
		{"engine/Henkan", "preedit_method", "KANA"},
		{"engine/Henkan", "suggestions_size", int64(5)},
		{"other", "x", "y"},
	}, rec.all())

	// Nothing changed.
	require.NoError(t, w.Reload())
	assert.Len(t, rec.all(), 3)
}

func TestSettingsWatcherKeepsValuesOnParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeSettings(t, path, "[\"engine/Henkan\"]\nincognito_mode = false\n")

	rec := &settingsRecorder{}
	w := NewSettingsWatcher(path, rec.handle, quietLogger())
	require.NoError(t, w.Start())
	defer w.Close()

	writeSettings(t, path, "[\"engine/Henkan\"\nincognito_mode = ")
	assert.Error(t, w.Reload())

	writeSettings(t, path, "[\"engine/Henkan\"]\nincognito_mode = false\n")
	require.NoError(t, w.Reload())
	assert.Empty(t, rec.all())
}

func TestSettingsWatcherMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	rec := &settingsRecorder{}
	w := NewSettingsWatcher(path, rec.handle, quietLogger())
	require.NoError(t, w.Start())
	defer w.Close()

	writeSettings(t, path, "[\"engine/Henkan\"]\nincognito_mode = true\n")
	assert.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, recordedSetting{"engine/Henkan", "incognito_mode", true}, rec.all()[0])
}

func TestSettingsWatcherClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	rec := &settingsRecorder{}
	w := NewSettingsWatcher(path, rec.handle, quietLogger())
	require.NoError(t, w.Start())
	require.NoError(t, w.Close())

	writeSettings(t, path, "[\"engine/Henkan\"]\nincognito_mode = true\n")
	require.NoError(t, w.Reload())
	assert.Empty(t, rec.all())
}
