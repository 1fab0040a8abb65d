package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"ERROR", LevelError, false},
		{"invalid", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
	}

	for _, test := range tests {
		if got := LevelString(test.level); got != test.expected {
			t.Errorf("LevelString(%v) = %q, want %q", test.level, got, test.expected)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo {
		t.Errorf("expected info level, got %v", cfg.Level)
	}
	if cfg.Component != "henkan" {
		t.Errorf("expected component henkan, got %q", cfg.Component)
	}
	if !strings.HasSuffix(cfg.FilePath, filepath.Join("henkan", "henkan.log")) {
		t.Errorf("unexpected log path %q", cfg.FilePath)
	}
}

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBufferLogger(t *testing.T, format Format) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(&Config{
		Level:     LevelDebug,
		Format:    format,
		Output:    "stderr",
		Component: "engine",
		Writer:    &buf,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

func TestLoggerNew(t *testing.T) {
	l, buf := newBufferLogger(t, FormatText)
	l.Info("focus in", "engine", "henkan")

	out := buf.String()
	if !strings.Contains(out, "focus in") || !strings.Contains(out, "component=engine") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestLoggerWithComponent(t *testing.T) {
	l, buf := newBufferLogger(t, FormatJSON)
	l.WithComponent("ipc").Info("connected")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["component"] != "ipc" {
		t.Errorf("component = %v, want ipc", entry["component"])
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key    string
		redact bool
	}{
		{"password", true},
		{"db_password", true},
		{"auth_token", true},
		{"API_KEY", true},
		{"keycode", false},
		{"key", false},
		{"session", false},
		{"engine", false},
		{"preedit", false},
	}

	for _, test := range tests {
		if got := shouldRedact(test.key); got != test.redact {
			t.Errorf("shouldRedact(%q) = %v, want %v", test.key, got, test.redact)
		}
	}
}

func TestJSONFormatRedacts(t *testing.T) {
	l, buf := newBufferLogger(t, FormatJSON)
	l.Info("connect", "token", "abc123", "keysym", 0x61)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["token"] != "[REDACTED]" {
		t.Errorf("token = %v", entry["token"])
	}
	if entry["keysym"] != float64(0x61) {
		t.Errorf("keysym = %v", entry["keysym"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: LevelWarn, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: LevelWarn, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	child := l.WithComponent("engine")

	child.Debug("before")
	l.SetLevel(LevelDebug)
	if l.Level() != LevelDebug {
		t.Errorf("Level() = %v, want debug", l.Level())
	}
	child.Debug("after")

	out := buf.String()
	if strings.Contains(out, "before") || !strings.Contains(out, "after") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "henkan.log")
	l, err := New(&Config{Level: LevelInfo, Output: "file", FilePath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("written to file")
	if err := l.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing entry: %q", data)
	}
}

func TestFileRotatorRotation(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		FilePath:   filepath.Join(dir, "henkan.log"),
		MaxSize:    1,
		MaxBackups: 2,
		Compress:   true,
	}
	r, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 5; i++ {
		if _, err := r.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	files, err := r.LogFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("expected current file plus 2 backups, got %v", files)
	}
	for _, f := range files[1:] {
		if !strings.HasSuffix(f, ".log.gz") {
			t.Errorf("backup %s not compressed", f)
		}
	}

	info, err := os.Stat(cfg.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Errorf("current file size = %d, want %d", info.Size(), len(chunk))
	}
}

func TestCrashHandlerRecover(t *testing.T) {
	dir := t.TempDir()
	var got CrashReport
	h := NewCrashHandler(CrashHandlerConfig{
		CrashDir:  dir,
		Version:   "test",
		Component: "henkan-ibus",
		Logger:    newDiscardLogger(),
		OnCrash:   func(r CrashReport) { got = r },
	})

	h.Recover("sync", func() {
		panic("boom")
	})

	if got.PanicValue != "boom" || got.Goroutine != "sync" {
		t.Errorf("unexpected report %+v", got)
	}
	if !strings.Contains(got.StackTrace, "TestCrashHandlerRecover") {
		t.Error("stack trace does not include the panicking test")
	}

	reports, err := h.CrashReports()
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || reports[0].Version != "test" {
		t.Errorf("unexpected reports %+v", reports)
	}
}

func TestCrashHandlerGo(t *testing.T) {
	done := make(chan CrashReport, 1)
	h := NewCrashHandler(CrashHandlerConfig{
		Logger:  newDiscardLogger(),
		OnCrash: func(r CrashReport) { done <- r },
	})

	h.Go("watch", func() {
		var m map[string]int
		m["x"] = 1
	})

	select {
	case r := <-done:
		if r.Goroutine != "watch" {
			t.Errorf("goroutine = %q", r.Goroutine)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic in guarded goroutine was not recorded")
	}
}

func TestCrashHandlerRepanic(t *testing.T) {
	h := NewCrashHandler(CrashHandlerConfig{Logger: newDiscardLogger(), Repanic: true})
	defer func() {
		if recover() == nil {
			t.Error("expected panic to propagate")
		}
	}()
	h.Recover("main", func() { panic("again") })
}

func TestCrashHandlerCleanupOld(t *testing.T) {
	dir := t.TempDir()
	h := NewCrashHandler(CrashHandlerConfig{CrashDir: dir, Logger: newDiscardLogger()})

	old := filepath.Join(dir, "crash-old.json")
	if err := os.WriteFile(old, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	h.Recover("main", func() { panic("fresh") })

	if err := h.CleanupOldCrashReports(24 * time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old crash report was not removed")
	}
	reports, _ := h.CrashReports()
	if len(reports) != 1 {
		t.Errorf("expected fresh report to remain, got %d", len(reports))
	}
}

func TestCrashReportsMissingDir(t *testing.T) {
	h := NewCrashHandler(CrashHandlerConfig{CrashDir: filepath.Join(t.TempDir(), "none")})
	reports, err := h.CrashReports()
	if err != nil || reports != nil {
		t.Errorf("CrashReports() = %v, %v", reports, err)
	}
}
