//go:build linux

package ipc

import "golang.org/x/sys/unix"

// peerCredentials reads SO_PEERCRED.
func peerCredentials(fd int) (*PeerCredentials, error) {
	cred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return nil, err
	}
	return &PeerCredentials{PID: int(cred.Pid), UID: int(cred.Uid), GID: int(cred.Gid)}, nil
}
