package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"
)

// CrashReport is written to the crash directory when a guarded function
// panics.
type CrashReport struct {
	Timestamp    time.Time      `json:"timestamp"`
	Version      string         `json:"version"`
	Component    string         `json:"component,omitempty"`
	Goroutine    string         `json:"goroutine,omitempty"`
	GOOS         string         `json:"goos"`
	GOARCH       string         `json:"goarch"`
	NumGoroutine int            `json:"num_goroutine"`
	PanicValue   string         `json:"panic_value"`
	StackTrace   string         `json:"stack_trace"`
	Context      map[string]any `json:"context,omitempty"`
}

// CrashHandlerConfig configures the crash handler.
type CrashHandlerConfig struct {
	// CrashDir is the directory to write crash dumps. Empty disables dumps.
	CrashDir string

	Version   string
	Component string
	Logger    *slog.Logger

	// Repanic re-raises the panic after it has been recorded.
	Repanic bool

	// OnCrash is called after a crash is recorded.
	OnCrash func(CrashReport)
}

// CrashHandler records panics from the process main loop and its
// goroutines. An input method that dies silently leaves the user unable to
// type, so every panic is logged and dumped before the process exits.
type CrashHandler struct {
	mu     sync.Mutex
	config CrashHandlerConfig
	logger *slog.Logger
}

// DefaultCrashDir returns the platform-specific default crash directory.
func DefaultCrashDir() string {
	if runtime.GOOS == "darwin" {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "henkan", "crashes")
	}
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		homeDir, _ := os.UserHomeDir()
		stateHome = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateHome, "henkan", "crashes")
}

// NewCrashHandler creates a new crash handler.
func NewCrashHandler(cfg CrashHandlerConfig) *CrashHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CrashHandler{config: cfg, logger: logger}
}

// Recover runs fn and records a panic if one occurs.
func (h *CrashHandler) Recover(name string, fn func()) {
	defer h.recover(name, nil)
	fn()
}

// Go runs fn in a new goroutine guarded by the handler.
func (h *CrashHandler) Go(name string, fn func()) {
	go h.Recover(name, fn)
}

// RecoverWithContext is Recover with extra fields in the report.
func (h *CrashHandler) RecoverWithContext(name string, ctx map[string]any, fn func()) {
	defer h.recover(name, ctx)
	fn()
}

func (h *CrashHandler) recover(name string, ctx map[string]any) {
	r := recover()
	if r == nil {
		return
	}
	h.HandlePanic(name, r, ctx)
	if h.config.Repanic {
		panic(r)
	}
}

// HandlePanic records a recovered panic value.
func (h *CrashHandler) HandlePanic(name string, value any, ctx map[string]any) CrashReport {
	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      h.version(),
		Component:    h.config.Component,
		Goroutine:    name,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprint(value),
		StackTrace:   string(debug.Stack()),
		Context:      ctx,
	}

	h.logger.Error("panic recovered",
		"goroutine", name,
		"panic", report.PanicValue,
		"stack", report.StackTrace,
	)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.config.CrashDir != "" {
		if path, err := h.writeCrashDump(report); err != nil {
			h.logger.Error("write crash dump", "error", err)
		} else {
			h.logger.Info("crash dump written", "path", path)
		}
	}
	if h.config.OnCrash != nil {
		h.config.OnCrash(report)
	}
	return report
}

func (h *CrashHandler) version() string {
	if h.config.Version != "" {
		return h.config.Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.Main.Version
	}
	return "unknown"
}

func (h *CrashHandler) writeCrashDump(report CrashReport) (string, error) {
	if err := os.MkdirAll(h.config.CrashDir, 0700); err != nil {
		return "", err
	}
	name := fmt.Sprintf("crash-%s.json", report.Timestamp.Format("20060102-150405.000000000"))
	path := filepath.Join(h.config.CrashDir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0600)
}

// CrashReports returns the reports in the crash directory, newest first.
func (h *CrashHandler) CrashReports() ([]CrashReport, error) {
	entries, err := os.ReadDir(h.config.CrashDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var reports []CrashReport
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "crash-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(h.config.CrashDir, entry.Name()))
		if err != nil {
			continue
		}
		var report CrashReport
		if json.Unmarshal(data, &report) == nil {
			reports = append(reports, report)
		}
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Timestamp.After(reports[j].Timestamp)
	})
	return reports, nil
}

// CleanupOldCrashReports removes crash reports older than maxAge.
func (h *CrashHandler) CleanupOldCrashReports(maxAge time.Duration) error {
	entries, err := os.ReadDir(h.config.CrashDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "crash-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(h.config.CrashDir, entry.Name()))
		}
	}
	return nil
}
