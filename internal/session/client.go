package session

import "errors"

// Common errors
var (
	ErrNotConnected = errors.New("session: not connected")
	ErrToolNotFound = errors.New("session: tool not available")
	ErrClosed       = errors.New("session: closed")
)

// Client is a synchronous request/response channel to a conversion session.
// Every call blocks the caller until a response or a failure is obtained.
// Implementations report failure through the returned error and never panic
// out of a call.
type Client interface {
	// SendKey forwards an abstract key event.
	SendKey(key KeyEvent) (*Output, error)

	// SendCommand issues a session command.
	SendCommand(cmd SessionCommand) (*Output, error)

	// GetConfig returns a copy of the session configuration.
	GetConfig() (*Config, error)

	// SetConfig replaces the session configuration.
	SetConfig(cfg *Config) error

	// SyncData flushes learned data and configuration to persistent storage.
	SyncData() error

	// EnsureConnection makes sure the session is live, reconnecting or
	// launching the service if necessary.
	EnsureConnection() error

	// LaunchTool starts an auxiliary tool (configuration dialog, dictionary
	// tool and so on) by name.
	LaunchTool(name, arg string) error

	// Close releases the session.
	Close() error
}
