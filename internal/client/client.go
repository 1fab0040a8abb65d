// Package client selects the session.Client strategy named by the
// configuration: a connection to henkan-server, or an in-process session.
package client

import (
	"errors"
	"fmt"
	"log/slog"

	"henkan/internal/config"
	"henkan/internal/dictionary"
	"henkan/internal/ipc"
	"henkan/internal/session"
	"henkan/internal/store"
)

// Open returns the session client for cfg.Session.Mode. The caller owns the
// client and must Close it. No connection is attempted; the engine calls
// EnsureConnection when it is enabled.
func Open(cfg *config.Config, logger *slog.Logger) (session.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Session.Mode {
	case config.SessionModeIPC, "":
		return NewIPC(cfg.Session, logger)
	case config.SessionModeLocal:
		return OpenLocal(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown session mode %q", cfg.Session.Mode)
	}
}

// NewIPC builds an IPC client from the session section.
func NewIPC(sc config.SessionConfig, logger *slog.Logger) (*ipc.Client, error) {
	enc, err := ipc.ParseEncoding(sc.Encoding)
	if err != nil {
		return nil, err
	}
	cc := ipc.DefaultClientConfig()
	cc.SocketPath = sc.SocketPath
	cc.ServerPath = sc.ServerPath
	cc.Encoding = enc
	cc.ConnectTimeout = sc.ConnectTimeout.Duration
	cc.RequestTimeout = sc.RequestTimeout.Duration
	return ipc.NewClient(cc, logger), nil
}

// LoadDictionary returns the built-in dictionary merged with the user
// dictionary at cfg.Path, if set.
func LoadDictionary(cfg config.DictionaryConfig, logger *slog.Logger) (*dictionary.Dictionary, error) {
	dict := dictionary.Builtin()
	if cfg.Path == "" {
		return dict, nil
	}
	n, err := dict.LoadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("load user dictionary: %w", err)
	}
	logger.Info("user dictionary loaded", "path", cfg.Path, "entries", n)
	return dict, nil
}

// NewLocal builds an in-process session sharing dict and history. Servers
// call it once per connection.
func NewLocal(cfg *config.Config, dict *dictionary.Dictionary, history session.HistoryStore, logger *slog.Logger) *session.Local {
	return session.NewLocal(session.LocalOptions{
		Dictionary: dict,
		History:    history,
		ConfigPath: cfg.Session.ConfigPath,
		ToolPath:   cfg.Session.ToolPath,
		PageSize:   cfg.Dictionary.PageSize,
		Logger:     logger,
	})
}

// localClient owns the history store behind an in-process session.
type localClient struct {
	*session.Local
	store *store.Store
}

func (c *localClient) Close() error {
	return errors.Join(c.Local.Close(), c.store.Close())
}

// OpenLocal opens the history database and returns an in-process session
// backed by it. Without a store path the session keeps history in memory.
func OpenLocal(cfg *config.Config, logger *slog.Logger) (session.Client, error) {
	dict, err := LoadDictionary(cfg.Dictionary, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Path == "" {
		return NewLocal(cfg, dict, nil, logger), nil
	}
	st, err := store.Open(cfg.Store.Path, cfg.Store.BusyTimeout())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &localClient{
		Local: NewLocal(cfg, dict, st, logger),
		store: st,
	}, nil
}
