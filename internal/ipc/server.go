package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"henkan/internal/metrics"
	"henkan/internal/session"
)

// Server accepts engine connections and serves one session per connection.
type Server struct {
	mu         sync.RWMutex
	listener   net.Listener
	socketPath string
	handler    Handler
	newSession SessionFactory
	conns      map[string]*Conn
	config     ServerConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
	startedAt  time.Time

	// Shutdown coordination
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextRequestID atomic.Uint32
}

// Conn represents a connected engine.
type Conn struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	Session      session.Client
	Name         string
	Version      string
	ConnectedAt  time.Time
	LastActivity time.Time

	// Write serialization
	writeMu sync.Mutex
}

// ServerConfig configures the IPC server
type ServerConfig struct {
	SocketPath     string // Unix socket path
	Version        string // Server version
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
	// SameUserOnly rejects peers running as another user where peer
	// credentials are available.
	SameUserOnly bool
}

// DefaultSocketPath returns $XDG_RUNTIME_DIR/henkan/session.sock, falling
// back to the temp dir.
func DefaultSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = filepath.Join(os.TempDir(), fmt.Sprintf("henkan-%d", os.Getuid()))
	} else {
		dir = filepath.Join(dir, "henkan")
	}
	return filepath.Join(dir, "session.sock")
}

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SocketPath:     DefaultSocketPath(),
		Version:        "1.0.0",
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxConnections: 64,
		SameUserOnly:   true,
	}
}

// NewServer creates a new IPC server. newSession is called once per
// accepted connection.
func NewServer(cfg ServerConfig, newSession SessionFactory, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 64
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		socketPath: cfg.SocketPath,
		handler:    SessionHandler{},
		newSession: newSession,
		conns:      make(map[string]*Conn),
		config:     cfg,
		logger:     logger.With("component", "ipc-server"),
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening for connections
func (s *Server) Start() error {
	// Ensure socket directory exists
	socketDir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(socketDir, 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if IsSocketListening(s.socketPath) {
		return fmt.Errorf("server already listening on %s", s.socketPath)
	}
	if err := CleanupSocket(s.socketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	// Owner only
	if err := SetSocketPermissions(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("listening", "socket", s.socketPath)
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil // Already stopped
	}

	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, c := range s.conns {
		c.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timed out waiting for connections to close")
	}

	os.Remove(s.socketPath)
	return nil
}

// SocketPath returns the socket path
func (s *Server) SocketPath() string {
	return s.socketPath
}

// ConnCount returns the number of connected engines
func (s *Server) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Uptime returns how long the server has been listening.
func (s *Server) Uptime() time.Duration {
	if !s.running.Load() {
		return 0
	}
	return time.Since(s.startedAt)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept", "error", err)
			continue
		}

		if s.config.SameUserOnly {
			ok, err := VerifyPeerIsCurrentUser(nc)
			if err != nil && !errors.Is(err, ErrPeerCredUnsupported) {
				s.logger.Warn("peer credentials", "error", err)
				nc.Close()
				continue
			}
			if err == nil && !ok {
				s.logger.Warn("rejecting connection from another user")
				nc.Close()
				continue
			}
		}

		s.mu.RLock()
		count := len(s.conns)
		s.mu.RUnlock()
		if count >= s.config.MaxConnections {
			s.logger.Warn("connection limit reached", "max", s.config.MaxConnections)
			nc.Close()
			continue
		}

		c := &Conn{
			ID:           uuid.NewString(),
			conn:         nc,
			Session:      s.newSession(),
			ConnectedAt:  time.Now(),
			LastActivity: time.Now(),
		}

		s.mu.Lock()
		s.conns[c.ID] = c
		s.mu.Unlock()
		s.metrics.ConnectionOpened()
		s.logger.Debug("connection opened", "conn", c.ID)

		s.wg.Add(1)
		go s.handleConnection(c)
	}
}

func (s *Server) handleConnection(c *Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c.ID)
		s.mu.Unlock()
		c.conn.Close()
		if c.Session != nil {
			if err := c.Session.Close(); err != nil {
				s.logger.Error("close session", "conn", c.ID, "error", err)
			}
		}
		s.metrics.ConnectionClosed()
		s.logger.Debug("connection closed", "conn", c.ID)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		msg, err := ReadMessage(c.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Keep idle engines alive.
				if err := s.sendPing(c); err != nil {
					return
				}
				continue
			}
			s.logger.Warn("read message", "conn", c.ID, "error", err)
			return
		}

		c.mu.Lock()
		c.LastActivity = time.Now()
		c.mu.Unlock()

		start := time.Now()
		response, err := s.processMessage(c, msg)
		if err != nil {
			response = NewErrorMessage(msg, ErrCodeInternal, err.Error())
		}
		status := "ok"
		if response != nil && response.Header.Type == MsgError {
			status = "error"
		}
		if msg.Header.Type != MsgPong {
			s.metrics.IPCRequest(msg.Header.Type.String(), status, time.Since(start))
		}

		if response != nil {
			if err := s.sendMessage(c, response); err != nil {
				return
			}
		}
	}
}

func (s *Server) processMessage(c *Conn, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, msg.Header.Flags, nil), nil
	case MsgPong:
		return nil, nil
	case MsgHandshake:
		return s.handleHandshake(c, msg)
	default:
		return s.handler.HandleMessage(s.ctx, c, msg)
	}
}

func (s *Server) handleHandshake(c *Conn, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg, &req); err != nil {
		return NewErrorMessage(msg, ErrCodeInvalidRequest, "invalid handshake"), nil
	}
	if req.ProtocolVersion > ProtocolVersion {
		return NewErrorMessage(msg, ErrCodeInvalidRequest, fmt.Sprintf("unsupported protocol version %d", req.ProtocolVersion)), nil
	}

	c.mu.Lock()
	c.Name = req.ClientName
	c.Version = req.ClientVersion
	c.mu.Unlock()

	return NewResponse(msg, MsgHandshakeAck, &HandshakeResponse{
		ServerVersion:   s.config.Version,
		ProtocolVersion: ProtocolVersion,
		ConnectionID:    c.ID,
	})
}

func (s *Server) sendMessage(c *Conn, msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return msg.Write(c.conn)
}

func (s *Server) sendPing(c *Conn) error {
	return s.sendMessage(c, NewMessage(MsgPing, s.nextRequestID.Add(1), 0, nil))
}
