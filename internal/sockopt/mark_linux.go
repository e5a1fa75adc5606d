//go:build linux

// Package sockopt applies the optional per-tunnel SO_MARK socket option
// (spec.md's "Supplemented features": socket_so_mark on -L specs) to both
// local listener sockets and the server's downstream dial sockets, via the
// net.Dialer/ListenConfig Control hook.
package sockopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Control returns a Control callback that sets SO_MARK to mark on the
// underlying file descriptor before it is used to listen or connect.
func Control(mark int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		if err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, mark)
		}); err != nil {
			return err
		}
		return sockErr
	}
}
