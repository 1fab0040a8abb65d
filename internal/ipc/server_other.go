//go:build !linux && !darwin

package ipc

func peerCredentials(int) (*PeerCredentials, error) {
	return nil, ErrPeerCredUnsupported
}
