//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package transport

import (
	"syscall"
)

// reuseControl is a no-op on platforms without SO_REUSEPORT; only one group
// per address and port can be bound there.
func reuseControl(network, address string, c syscall.RawConn) error {
	return nil
}
