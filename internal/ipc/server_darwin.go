//go:build darwin

package ipc

import "golang.org/x/sys/unix"

// peerCredentials reads LOCAL_PEERCRED. Darwin does not report the PID.
func peerCredentials(fd int) (*PeerCredentials, error) {
	cred, err := unix.GetsockoptXucred(fd, unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
	if err != nil {
		return nil, err
	}
	pc := &PeerCredentials{UID: int(cred.Uid)}
	if cred.Ngroups > 0 {
		pc.GID = int(cred.Groups[0])
	}
	return pc, nil
}
