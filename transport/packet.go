package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/opd-ai/langroup/limits"
)

// Kind identifies the type of a langroup packet.
type Kind uint8

const (
	// KindData carries one fragment of an application message.
	KindData Kind = iota
	// KindHeartbeat keeps an idle member alive in everyone's member table.
	KindHeartbeat
	// KindLeave announces an orderly departure.
	KindLeave
	// KindRetransmitRequest asks a sender to resend a range of sequence numbers.
	KindRetransmitRequest
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindLeave:
		return "LEAVE"
	case KindRetransmitRequest:
		return "RETRANSMIT_REQUEST"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k <= KindRetransmitRequest
}

// header field offsets
const (
	offProtocolID    = 0
	offGroupMagic    = 4
	offKind          = 8
	offSender        = 9
	offSequence      = 25
	offMessageID     = 33
	offFragmentIndex = 41
	offFragmentCount = 43
	offPayloadLength = 45
	offPayload       = limits.PacketHeaderSize
)

// Packet is one framed datagram. Packets only exist on the wire and while
// being processed; they are never persisted.
type Packet struct {
	ProtocolID    int32
	GroupMagic    int32
	Kind          Kind
	Sender        uuid.UUID
	Sequence      uint64
	MessageID     uint64
	FragmentIndex uint16
	FragmentCount uint16
	Payload       []byte
}

// Size returns the framed size of the packet in bytes.
func (p *Packet) Size() int {
	return limits.PacketHeaderSize + len(p.Payload)
}

// Codec frames and parses packets for one protocol id and group magic.
type Codec struct {
	ProtocolID int32
	GroupMagic int32
}

// NewCodec returns a Codec for the given protocol id, deriving the group magic
// from the group name.
func NewCodec(protocolID int32, groupName string) Codec {
	return Codec{
		ProtocolID: protocolID,
		GroupMagic: GroupMagic(groupName),
	}
}

// Frame encodes p into a datagram. The protocol id and group magic always come
// from the codec; the corresponding fields of p are ignored.
func (c Codec) Frame(p *Packet) ([]byte, error) {
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidPacket, uint8(p.Kind))
	}
	if p.FragmentCount == 0 {
		return nil, fmt.Errorf("%w: fragment count is zero", ErrInvalidPacket)
	}
	if p.FragmentIndex >= p.FragmentCount {
		return nil, fmt.Errorf("%w: fragment index %d >= count %d", ErrInvalidPacket, p.FragmentIndex, p.FragmentCount)
	}
	if len(p.Payload) > limits.MaxPacketPayload {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds %d", ErrInvalidPacket, len(p.Payload), limits.MaxPacketPayload)
	}

	buf := make([]byte, limits.PacketHeaderSize+len(p.Payload))
	binary.BigEndian.PutUint32(buf[offProtocolID:], uint32(c.ProtocolID))
	binary.BigEndian.PutUint32(buf[offGroupMagic:], uint32(c.GroupMagic))
	buf[offKind] = byte(p.Kind)
	copy(buf[offSender:offSequence], p.Sender[:])
	binary.BigEndian.PutUint64(buf[offSequence:], p.Sequence)
	binary.BigEndian.PutUint64(buf[offMessageID:], p.MessageID)
	binary.BigEndian.PutUint16(buf[offFragmentIndex:], p.FragmentIndex)
	binary.BigEndian.PutUint16(buf[offFragmentCount:], p.FragmentCount)
	binary.BigEndian.PutUint32(buf[offPayloadLength:], uint32(len(p.Payload)))
	copy(buf[offPayload:], p.Payload)

	return buf, nil
}

// Parse decodes a datagram. The protocol id and group magic are checked before
// anything else; a datagram for another group yields a *MismatchError.
func (c Codec) Parse(data []byte) (*Packet, error) {
	if len(data) < offKind {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the group prefix", ErrMalformed, len(data))
	}

	protocolID := int32(binary.BigEndian.Uint32(data[offProtocolID:]))
	magic := int32(binary.BigEndian.Uint32(data[offGroupMagic:]))
	if protocolID != c.ProtocolID || magic != c.GroupMagic {
		return nil, &MismatchError{
			ProtocolID:    c.ProtocolID,
			GroupMagic:    c.GroupMagic,
			GotProtocolID: protocolID,
			GotGroupMagic: magic,
		}
	}

	if len(data) < limits.PacketHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(data))
	}

	p := &Packet{
		ProtocolID:    protocolID,
		GroupMagic:    magic,
		Kind:          Kind(data[offKind]),
		Sequence:      binary.BigEndian.Uint64(data[offSequence:]),
		MessageID:     binary.BigEndian.Uint64(data[offMessageID:]),
		FragmentIndex: binary.BigEndian.Uint16(data[offFragmentIndex:]),
		FragmentCount: binary.BigEndian.Uint16(data[offFragmentCount:]),
	}
	copy(p.Sender[:], data[offSender:offSequence])

	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, data[offKind])
	}
	if p.FragmentCount == 0 {
		return nil, fmt.Errorf("%w: fragment count is zero", ErrMalformed)
	}
	if p.FragmentIndex >= p.FragmentCount {
		return nil, fmt.Errorf("%w: fragment index %d >= count %d", ErrMalformed, p.FragmentIndex, p.FragmentCount)
	}

	payloadLen := binary.BigEndian.Uint32(data[offPayloadLength:])
	if int64(payloadLen) != int64(len(data)-limits.PacketHeaderSize) {
		return nil, fmt.Errorf("%w: payload length %d, %d bytes present", ErrMalformed, payloadLen, len(data)-limits.PacketHeaderSize)
	}

	p.Payload = make([]byte, payloadLen)
	copy(p.Payload, data[offPayload:])

	return p, nil
}

// RetransmitRequest is the payload of a KindRetransmitRequest packet. It names
// the sender being asked and the inclusive range of missing sequence numbers.
type RetransmitRequest struct {
	Target uuid.UUID
	From   uint64
	To     uint64
}

// retransmitRequestSize is 16 bytes of target id plus two uint64 bounds.
const retransmitRequestSize = 32

// Marshal encodes the request.
func (r RetransmitRequest) Marshal() []byte {
	buf := make([]byte, retransmitRequestSize)
	copy(buf[0:16], r.Target[:])
	binary.BigEndian.PutUint64(buf[16:24], r.From)
	binary.BigEndian.PutUint64(buf[24:32], r.To)
	return buf
}

// Count returns the number of sequence numbers in the range.
func (r RetransmitRequest) Count() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// ParseRetransmitRequest decodes a retransmit request payload.
func ParseRetransmitRequest(payload []byte) (RetransmitRequest, error) {
	if len(payload) != retransmitRequestSize {
		return RetransmitRequest{}, fmt.Errorf("%w: retransmit request is %d bytes, want %d", ErrMalformed, len(payload), retransmitRequestSize)
	}

	var r RetransmitRequest
	copy(r.Target[:], payload[0:16])
	r.From = binary.BigEndian.Uint64(payload[16:24])
	r.To = binary.BigEndian.Uint64(payload[24:32])
	if r.To < r.From {
		return RetransmitRequest{}, fmt.Errorf("%w: retransmit range %d-%d is inverted", ErrMalformed, r.From, r.To)
	}
	return r, nil
}
