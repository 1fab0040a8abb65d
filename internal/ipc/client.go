package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"henkan/internal/session"
)

// Common errors
var (
	ErrConnectionLost   = errors.New("ipc: connection to server lost")
	ErrTimeout          = errors.New("ipc: request timeout")
	ErrServerNotRunning = errors.New("ipc: server is not running")
)

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath string
	// ServerPath is started by EnsureConnection when the socket cannot be
	// dialed. Empty disables launching.
	ServerPath     string
	ServerArgs     []string
	ClientName     string
	ClientVersion  string
	Encoding       Encoding
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	// LaunchWait bounds how long EnsureConnection waits for a launched
	// server to start listening.
	LaunchWait time.Duration
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SocketPath:     DefaultSocketPath(),
		ClientName:     "henkan-ibus",
		ClientVersion:  "1.0.0",
		Encoding:       EncodingMsgpack,
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 5 * time.Second,
		LaunchWait:     3 * time.Second,
	}
}

// Client is a session.Client talking to a server over a Unix socket.
// Requests are synchronous; a background reader matches responses to
// requests and answers server pings.
type Client struct {
	mu     sync.RWMutex
	conn   net.Conn
	config ClientConfig
	logger *slog.Logger

	connID    string
	connected atomic.Bool
	closed    atomic.Bool

	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32
	writeMu   sync.Mutex

	// launch starts the server; replaced in tests.
	launch func(path string, args []string) error
}

var _ session.Client = (*Client)(nil)

// NewClient creates a new IPC client. No connection is made until
// EnsureConnection.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.SocketPath == "" {
		cfg.SocketPath = def.SocketPath
	}
	if cfg.Encoding == "" {
		cfg.Encoding = def.Encoding
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.LaunchWait <= 0 {
		cfg.LaunchWait = def.LaunchWait
	}
	return &Client{
		config:  cfg,
		logger:  logger.With("component", "ipc-client"),
		pending: make(map[uint32]chan *Message),
		launch:  launchDetached,
	}
}

// ConnectionID returns the id the server assigned to this connection.
func (c *Client) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connID
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// EnsureConnection connects if necessary. When the server is not running
// and ServerPath is set, the server is launched and the dial retried until
// LaunchWait expires.
func (c *Client) EnsureConnection() error {
	if c.closed.Load() {
		return session.ErrClosed
	}
	if c.connected.Load() {
		return nil
	}

	err := c.connect()
	if err == nil {
		return nil
	}
	if c.config.ServerPath == "" {
		return err
	}

	c.logger.Info("launching server", "path", c.config.ServerPath, "dial_error", err)
	if lerr := c.launch(c.config.ServerPath, c.config.ServerArgs); lerr != nil {
		return fmt.Errorf("launch server: %w", lerr)
	}

	deadline := time.Now().Add(c.config.LaunchWait)
	wait := 50 * time.Millisecond
	for time.Now().Before(deadline) {
		time.Sleep(wait)
		if err = c.connect(); err == nil {
			return nil
		}
		if wait < 400*time.Millisecond {
			wait *= 2
		}
	}
	return fmt.Errorf("server did not come up: %w", err)
}

func launchDetached(path string, args []string) error {
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected.Load() {
		return nil
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.Dial("unix", c.config.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrServerNotRunning, err)
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.conn = conn
	c.connected.Store(true)
	go c.readLoop(conn)

	c.mu.Unlock()
	err = c.handshake()
	c.mu.Lock()
	if err != nil {
		c.dropLocked(conn)
		return fmt.Errorf("handshake: %w", err)
	}
	return nil
}

func (c *Client) handshake() error {
	resp, err := c.request(MsgHandshake, &HandshakeRequest{
		ClientName:      c.config.ClientName,
		ClientVersion:   c.config.ClientVersion,
		ProtocolVersion: ProtocolVersion,
	}, MsgHandshakeAck)
	if err != nil {
		return err
	}
	var ack HandshakeResponse
	if err := Decode(resp, &ack); err != nil {
		return err
	}
	c.mu.Lock()
	c.connID = ack.ConnectionID
	c.mu.Unlock()
	return nil
}

// drop closes conn if it is still current and fails pending requests.
func (c *Client) drop(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked(conn)
}

func (c *Client) dropLocked(conn net.Conn) {
	if c.conn != conn {
		return
	}
	conn.Close()
	c.conn = nil
	c.connected.Store(false)

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func (c *Client) readLoop(conn net.Conn) {
	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("connection lost", "error", err)
			}
			c.drop(conn)
			return
		}

		switch msg.Header.Type {
		case MsgPing:
			c.write(conn, NewMessage(MsgPong, msg.Header.RequestID, msg.Header.Flags, nil))
		default:
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.Header.RequestID]; ok {
				ch <- msg
				delete(c.pending, msg.Header.RequestID)
			}
			c.pendingMu.Unlock()
		}
	}
}

func (c *Client) write(conn net.Conn, msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.RequestTimeout))
	return msg.Write(conn)
}

// request sends payload and waits for a response of type want. A MsgError
// response is returned as *RemoteError.
func (c *Client) request(msgType MessageType, payload any, want MessageType) (*Message, error) {
	if c.closed.Load() {
		return nil, session.ErrClosed
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, session.ErrNotConnected
	}

	data, flags, err := Encode(c.config.Encoding, payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, flags, data)

	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(conn, msg); err != nil {
		c.drop(conn)
		return nil, fmt.Errorf("write message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
	defer cancel()

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		if resp.Header.Type == MsgError {
			var e ErrorResponse
			if err := Decode(resp, &e); err != nil {
				return nil, err
			}
			return nil, &RemoteError{Code: e.Code, Message: e.Message}
		}
		if resp.Header.Type != want {
			return nil, fmt.Errorf("%w: unexpected response %s to %s", ErrProtocol, resp.Header.Type, msgType)
		}
		return resp, nil
	case <-ctx.Done():
		// Session state on the server is unknown after a lost reply.
		c.drop(conn)
		return nil, ErrTimeout
	}
}

func (c *Client) output(msgType MessageType, payload any, want MessageType) (*session.Output, error) {
	resp, err := c.request(msgType, payload, want)
	if err != nil {
		return nil, err
	}
	var out OutputResponse
	if err := Decode(resp, &out); err != nil {
		return nil, err
	}
	if out.Output == nil {
		return nil, fmt.Errorf("%w: empty output", ErrProtocol)
	}
	return out.Output, nil
}

// SendKey implements session.Client.
func (c *Client) SendKey(key session.KeyEvent) (*session.Output, error) {
	return c.output(MsgSendKey, &SendKeyRequest{Key: key}, MsgSendKeyResp)
}

// SendCommand implements session.Client.
func (c *Client) SendCommand(cmd session.SessionCommand) (*session.Output, error) {
	return c.output(MsgSendCommand, &SendCommandRequest{Command: cmd}, MsgSendCommandResp)
}

// GetConfig implements session.Client.
func (c *Client) GetConfig() (*session.Config, error) {
	resp, err := c.request(MsgGetConfig, nil, MsgGetConfigResp)
	if err != nil {
		return nil, err
	}
	var cr ConfigResponse
	if err := Decode(resp, &cr); err != nil {
		return nil, err
	}
	if cr.Config == nil {
		return nil, fmt.Errorf("%w: empty config", ErrProtocol)
	}
	return cr.Config, nil
}

// SetConfig implements session.Client.
func (c *Client) SetConfig(cfg *session.Config) error {
	_, err := c.request(MsgSetConfig, &SetConfigRequest{Config: cfg}, MsgSetConfigResp)
	return err
}

// SyncData implements session.Client.
func (c *Client) SyncData() error {
	_, err := c.request(MsgSyncData, nil, MsgSyncDataResp)
	return err
}

// LaunchTool implements session.Client.
func (c *Client) LaunchTool(name, arg string) error {
	_, err := c.request(MsgLaunchTool, &LaunchToolRequest{Name: name, Arg: arg}, MsgLaunchToolResp)
	return err
}

// Ping checks the connection.
func (c *Client) Ping() error {
	_, err := c.request(MsgPing, nil, MsgPong)
	return err
}

// Close closes the connection. The server closes the session, which
// syncs it.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.dropLocked(c.conn)
	}
	return nil
}
