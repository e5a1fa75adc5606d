//go:build !linux

package sockopt

import "syscall"

// Control is a no-op outside Linux: SO_MARK has no equivalent on other
// platforms, so a configured socket_so_mark is accepted but has no effect.
func Control(mark int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error { return nil }
}
