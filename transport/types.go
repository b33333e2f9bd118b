package transport

import (
	"net"
)

// Transport moves raw datagrams for one group channel.
// Implementations must allow Send and SendTo to be called concurrently with a
// blocked Receive, and Close to unblock Receive.
type Transport interface {
	// Send multicasts data to the group.
	Send(data []byte) error

	// SendTo sends data to a single address.
	SendTo(data []byte, addr net.Addr) error

	// Receive blocks until a datagram arrives and returns a copy of it along
	// with the sender's address. It returns ErrClosed once the transport is closed.
	Receive() ([]byte, net.Addr, error)

	// LocalAddr returns the local address the transport is bound to.
	LocalAddr() net.Addr

	// Close shuts down the transport. It is safe to call more than once.
	Close() error
}
