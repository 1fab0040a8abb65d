package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// ErrPeerCredUnsupported is returned where the platform cannot report the
// credentials of a socket peer.
var ErrPeerCredUnsupported = errors.New("ipc: peer credentials not supported")

// PeerCredentials identifies the process on the other end of the socket.
// Fields the platform does not report are zero.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// GetPeerCredentials returns the credentials of the process connected to
// a Unix socket.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("peer credentials: %T is not a unix connection", conn)
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("peer credentials: %w", err)
	}

	var cred *PeerCredentials
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = peerCredentials(int(fd))
	}); err != nil {
		return nil, fmt.Errorf("peer credentials: %w", err)
	}
	if credErr != nil {
		if errors.Is(credErr, ErrPeerCredUnsupported) {
			return nil, credErr
		}
		return nil, fmt.Errorf("peer credentials: %w", credErr)
	}
	return cred, nil
}

// VerifyPeerIsCurrentUser reports whether the peer runs as this process's
// user.
func VerifyPeerIsCurrentUser(conn net.Conn) (bool, error) {
	cred, err := GetPeerCredentials(conn)
	if err != nil {
		return false, err
	}
	return cred.UID == os.Getuid(), nil
}

// SetSocketPermissions restricts the socket file mode.
func SetSocketPermissions(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}

// CleanupSocket removes a socket left behind by a server that did not shut
// down. Anything other than a socket at path is an error.
func CleanupSocket(path string) error {
	info, err := os.Lstat(path)
	switch {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return err
	case info.Mode()&os.ModeSocket == 0:
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}

// IsSocketListening reports whether a server accepts connections on path.
func IsSocketListening(path string) bool {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
