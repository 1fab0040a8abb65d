package ipc

import (
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"henkan/internal/metrics"
	"henkan/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// socketPath returns a short path; t.TempDir can exceed the sun_path limit.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "hkn")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

type testServer struct {
	*Server
	mu       sync.Mutex
	sessions []*session.Local
}

func (ts *testServer) session(i int) *session.Local {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.sessions[i]
}

func (ts *testServer) sessionCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.sessions)
}

func startServer(t *testing.T, path string) *testServer {
	t.Helper()
	ts := &testServer{}
	cfg := DefaultServerConfig()
	cfg.SocketPath = path
	ts.Server = NewServer(cfg, func() session.Client {
		l := session.NewLocal(session.LocalOptions{Logger: testLogger()})
		ts.mu.Lock()
		ts.sessions = append(ts.sessions, l)
		ts.mu.Unlock()
		return l
	}, testLogger(), metrics.New(prometheus.NewRegistry()))
	require.NoError(t, ts.Start())
	t.Cleanup(func() { ts.Stop() })
	return ts
}

func newTestClient(t *testing.T, path string, enc Encoding) *Client {
	t.Helper()
	c := NewClient(ClientConfig{SocketPath: path, Encoding: enc, RequestTimeout: 2 * time.Second}, testLogger())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientServerRoundTrip(t *testing.T) {
	for _, enc := range []Encoding{EncodingMsgpack, EncodingJSON} {
		t.Run(string(enc), func(t *testing.T) {
			path := socketPath(t)
			srv := startServer(t, path)
			c := newTestClient(t, path, enc)

			require.NoError(t, c.EnsureConnection())
			assert.True(t, c.IsConnected())
			assert.NotEmpty(t, c.ConnectionID())
			assert.Equal(t, 1, srv.ConnCount())

			out, err := c.SendKey(session.Special(session.KeyOn))
			require.NoError(t, err)
			assert.True(t, out.Consumed)

			for _, r := range "ka" {
				out, err = c.SendKey(session.Key(r))
				require.NoError(t, err)
			}
			require.True(t, out.HasPreedit())
			assert.Equal(t, "か", out.Preedit.Text())

			out, err = c.SendKey(session.Special(session.KeyEnter))
			require.NoError(t, err)
			require.NotNil(t, out.Result)
			assert.Equal(t, "か", out.Result.Value)

			out, err = c.SendCommand(session.SwitchInputMode(session.ModeFullKatakana))
			require.NoError(t, err)
			assert.True(t, out.Consumed)
			assert.Equal(t, session.ModeFullKatakana, srv.session(0).Mode())

			require.NoError(t, c.Ping())
		})
	}
}

func TestClientConfigAndSync(t *testing.T) {
	path := socketPath(t)
	startServer(t, path)
	c := newTestClient(t, path, EncodingMsgpack)
	require.NoError(t, c.EnsureConnection())

	cfg, err := c.GetConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Set("incognito_mode", true))
	require.NoError(t, c.SetConfig(cfg))

	got, err := c.GetConfig()
	require.NoError(t, err)
	assert.True(t, got.IncognitoMode)

	assert.NoError(t, c.SyncData())
}

func TestClientRemoteErrors(t *testing.T) {
	path := socketPath(t)
	startServer(t, path)
	c := newTestClient(t, path, EncodingJSON)
	require.NoError(t, c.EnsureConnection())

	err := c.LaunchTool("config_dialog", "")
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrCodeToolNotFound, remote.Code)
	assert.ErrorIs(t, err, session.ErrToolNotFound)

	err = c.SetConfig(nil)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrCodeInvalidRequest, remote.Code)

	// The connection survives remote errors.
	_, err = c.SendKey(session.Key('a'))
	assert.NoError(t, err)
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient(ClientConfig{SocketPath: socketPath(t)}, testLogger())

	_, err := c.SendKey(session.Key('a'))
	assert.ErrorIs(t, err, session.ErrNotConnected)

	err = c.EnsureConnection()
	assert.ErrorIs(t, err, ErrServerNotRunning)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.EnsureConnection(), session.ErrClosed)
	assert.ErrorIs(t, c.SyncData(), session.ErrClosed)
}

func TestClientLaunchesServer(t *testing.T) {
	path := socketPath(t)
	c := NewClient(ClientConfig{SocketPath: path, ServerPath: "/usr/bin/henkan-server", LaunchWait: 2 * time.Second}, testLogger())
	t.Cleanup(func() { c.Close() })

	var launched []string
	c.launch = func(p string, args []string) error {
		launched = append(launched, p)
		startServer(t, path)
		return nil
	}

	require.NoError(t, c.EnsureConnection())
	assert.Equal(t, []string{"/usr/bin/henkan-server"}, launched)

	// Already connected: no second launch.
	require.NoError(t, c.EnsureConnection())
	assert.Len(t, launched, 1)
}

func TestClientDetectsServerShutdown(t *testing.T) {
	path := socketPath(t)
	srv := startServer(t, path)
	c := newTestClient(t, path, EncodingMsgpack)
	require.NoError(t, c.EnsureConnection())

	require.NoError(t, srv.Stop())
	assert.Eventually(t, func() bool { return !c.IsConnected() }, 2*time.Second, 10*time.Millisecond)

	_, err := c.SendKey(session.Key('a'))
	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestServerClosesSessionOnDisconnect(t *testing.T) {
	path := socketPath(t)
	srv := startServer(t, path)
	c := NewClient(ClientConfig{SocketPath: path}, testLogger())
	require.NoError(t, c.EnsureConnection())
	require.NoError(t, c.Close())

	require.Equal(t, 1, srv.sessionCount())
	assert.Eventually(t, func() bool {
		return srv.ConnCount() == 0 && srv.session(0).EnsureConnection() != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerRefusesSecondListener(t *testing.T) {
	path := socketPath(t)
	startServer(t, path)

	cfg := DefaultServerConfig()
	cfg.SocketPath = path
	other := NewServer(cfg, nil, testLogger(), nil)
	assert.Error(t, other.Start())
}

func TestServerRefusesNonSocketPath(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg := DefaultServerConfig()
	cfg.SocketPath = path
	assert.Error(t, NewServer(cfg, nil, testLogger(), nil).Start())
	assert.FileExists(t, path)
}

func TestServerRemovesStaleSocket(t *testing.T) {
	path := socketPath(t)
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, l.Close())
	require.FileExists(t, path)

	srv := startServer(t, path)
	assert.True(t, IsSocketListening(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, srv.Stop())
	assert.NoFileExists(t, path)
}

func TestPeerCredentials(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("peer credentials unsupported on " + runtime.GOOS)
	}
	path := socketPath(t)
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer client.Close()
	server := <-accepted
	require.NotNil(t, server)
	defer server.Close()

	cred, err := GetPeerCredentials(server)
	require.NoError(t, err)
	assert.Equal(t, os.Getuid(), cred.UID)

	ok, err := VerifyPeerIsCurrentUser(server)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPeerCredentialsNotUnix(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	_, err := GetPeerCredentials(a)
	assert.Error(t, err)
}
