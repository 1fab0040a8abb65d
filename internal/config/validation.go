package config

import (
	"fmt"
	"net/url"
	"strings"

	"henkan/internal/keymap"
	"henkan/internal/session"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether any error concerns field.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Page size bounds.
const (
	MinPageSize = 1
	MaxPageSize = 16
)

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateSession(&c.Session)...)
	errs = append(errs, validateEngine(&c.Engine)...)
	errs = append(errs, validateDictionary(&c.Dictionary)...)
	errs = append(errs, validateStore(&c.Store)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateSession(s *SessionConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Mode {
	case SessionModeIPC:
		if s.SocketPath == "" {
			errs = append(errs, *RequiredFieldError("session.socket_path"))
		}
	case SessionModeLocal:
	default:
		errs = append(errs, ValidationError{
			Field:   "session.mode",
			Message: fmt.Sprintf("invalid mode %q (must be ipc or local)", s.Mode),
		})
	}

	if s.ConnectTimeout.Duration <= 0 {
		errs = append(errs, ValidationError{Field: "session.connect_timeout", Message: "must be positive"})
	}
	if s.RequestTimeout.Duration <= 0 {
		errs = append(errs, ValidationError{Field: "session.request_timeout", Message: "must be positive"})
	}

	switch s.Encoding {
	case "msgpack", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "session.encoding",
			Message: fmt.Sprintf("invalid encoding %q (must be msgpack or json)", s.Encoding),
		})
	}
	return errs
}

func validateEngine(e *EngineConfig) ValidationErrors {
	var errs ValidationErrors

	if e.Name == "" {
		errs = append(errs, *RequiredFieldError("engine.name"))
	}
	if e.SyncInterval.Duration <= 0 {
		errs = append(errs, ValidationError{Field: "engine.sync_interval", Message: "must be positive"})
	}
	if _, err := session.ParseCompositionMode(e.InitialMode); err != nil {
		errs = append(errs, ValidationError{Field: "engine.initial_mode", Message: err.Error()})
	}
	if _, err := keymap.NewTurnOnSet(e.TurnOnKeys); err != nil {
		errs = append(errs, ValidationError{Field: "engine.turn_on_keys", Message: err.Error()})
	}
	if e.SettingsSection == "" {
		errs = append(errs, *RequiredFieldError("engine.settings_section"))
	}
	return errs
}

func validateDictionary(d *DictionaryConfig) ValidationErrors {
	if d.PageSize < MinPageSize || d.PageSize > MaxPageSize {
		return ValidationErrors{*RangeError("dictionary.page_size", MinPageSize, MaxPageSize)}
	}
	return nil
}

func validateStore(s *StoreConfig) ValidationErrors {
	if s.BusyTimeoutMs < 0 {
		return ValidationErrors{{Field: "store.busy_timeout_ms", Message: "cannot be negative"}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level %q (must be debug, info, warn, or error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format %q (must be text or json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, *RequiredFieldError("logging.file_path"))
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid output %q (must be stdout, stderr, file, or both)", l.Output),
		})
	}

	if l.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Message: "cannot be negative"})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_backups", Message: "cannot be negative"})
	}
	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if m.EngineListen != "" && m.EngineListen == m.Listen {
		errs = append(errs, ValidationError{
			Field:   "metrics.engine_listen",
			Message: fmt.Sprintf("%q is already used by metrics.listen", m.EngineListen),
		})
	}
	if m.PushGateway != "" {
		u, err := url.Parse(m.PushGateway)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "metrics.push_gateway",
				Message: fmt.Sprintf("invalid URL %q (must be http or https)", m.PushGateway),
			})
		}
	}
	return errs
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "is required",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be between %v and %v", min, max),
	}
}
