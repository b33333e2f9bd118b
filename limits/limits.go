package limits

import (
	"errors"
	"fmt"
)

const (
	// PacketHeaderSize is the length of the fixed packet header:
	// protocol id (4) + group magic (4) + kind (1) + sender id (16) +
	// sequence (8) + message id (8) + fragment index (2) + fragment count (2) +
	// payload length (4).
	PacketHeaderSize = 49

	// MaxDatagramSize is the largest payload an IPv4 UDP datagram can carry.
	MaxDatagramSize = 65507

	// MaxPacketPayload is the largest payload a single packet can carry.
	MaxPacketPayload = MaxDatagramSize - PacketHeaderSize

	// DefaultPacketPayload keeps a full packet below a 1500 byte MTU.
	DefaultPacketPayload = 1200

	// MaxFragments is the largest fragment count the uint16 header field can express.
	MaxFragments = 65535

	// MaxRetransmitBatch caps how many packets a single retransmit request may
	// ask for, so one request cannot trigger an unbounded burst.
	MaxRetransmitBatch = 256
)

var (
	// ErrMessageTooLarge indicates a message cannot be expressed within MaxFragments packets
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidPacketPayload indicates a per-packet payload size outside [1, MaxPacketPayload]
	ErrInvalidPacketPayload = errors.New("invalid packet payload size")
)

// ValidatePacketPayload validates a configured per-packet payload size.
func ValidatePacketPayload(size int) error {
	if size < 1 || size > MaxPacketPayload {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidPacketPayload, size, MaxPacketPayload)
	}
	return nil
}

// MaxMessageSize returns the largest message that fits into MaxFragments
// packets of packetPayload bytes each.
func MaxMessageSize(packetPayload int) int {
	if packetPayload <= 0 {
		return 0
	}
	return packetPayload * MaxFragments
}

// ValidateMessageSize validates a message against the fragment budget for the
// given per-packet payload. Empty messages are valid and travel as a single
// empty fragment.
func ValidateMessageSize(message []byte, packetPayload int) error {
	if err := ValidatePacketPayload(packetPayload); err != nil {
		return err
	}
	if max := MaxMessageSize(packetPayload); len(message) > max {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), max)
	}
	return nil
}
