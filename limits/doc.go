// Package limits provides centralized size limits for the langroup wire protocol.
//
// Every component that frames, fragments or buffers data validates against the
// constants defined here, so that a change to the header layout or datagram
// budget only has to be made in one place.
//
// # Packet Budget
//
// A packet is a fixed [PacketHeaderSize] header followed by a payload. The
// whole datagram must fit into a single IPv4 UDP datagram:
//
//	PacketHeaderSize + payload <= MaxDatagramSize
//
// The per-packet payload used by a Group is configurable; [DefaultPacketPayload]
// keeps datagrams below a typical 1500 byte Ethernet MTU so that multicast
// packets are not fragmented at the IP layer.
//
// # Message Budget
//
// Messages larger than the per-packet payload are split into at most
// [MaxFragments] fragments, so the largest message a Group can send is
// [MaxMessageSize] for its configured packet payload.
//
// # Usage
//
//	if err := limits.ValidateMessageSize(payload, opts.MaxPacketPayload); err != nil {
//	    return err // errors.Is(err, limits.ErrMessageTooLarge)
//	}
package limits
