package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed indicates the transport has been closed
	ErrClosed = errors.New("transport closed")

	// ErrMalformed indicates a datagram that is not a well-formed packet
	ErrMalformed = errors.New("malformed packet")

	// ErrInvalidPacket indicates a packet that cannot be framed
	ErrInvalidPacket = errors.New("invalid packet")

	// ErrNotMulticast indicates the configured group address is not an IPv4 multicast address
	ErrNotMulticast = errors.New("not an IPv4 multicast address")
)

// BindError reports a failure to open the group socket. It is fatal to Group
// creation.
type BindError struct {
	Addr string // group address
	Err  error  // underlying error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// IOError reports a failed send or receive on an open transport.
type IOError struct {
	Op   string // "send", "sendto" or "receive"
	Addr string // remote address if relevant
	Err  error  // underlying error
}

func (e *IOError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// MismatchError reports a packet that belongs to another group sharing the
// same multicast channel. It is a benign, expected condition.
type MismatchError struct {
	ProtocolID    int32
	GroupMagic    int32
	GotProtocolID int32
	GotGroupMagic int32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("protocol mismatch: want %d/%08x, got %d/%08x",
		e.ProtocolID, uint32(e.GroupMagic), e.GotProtocolID, uint32(e.GotGroupMagic))
}

// IsMismatch reports whether err is, or wraps, a *MismatchError.
func IsMismatch(err error) bool {
	var m *MismatchError
	return errors.As(err, &m)
}
