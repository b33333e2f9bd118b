// Package transport implements the wire layer of the langroup protocol: the
// multicast socket every Group talks through and the framer/parser that turns
// packets into datagrams and back.
//
// # Architecture
//
// The core abstraction is the Transport interface, which moves raw datagrams
// and knows nothing about packets:
//
//	type Transport interface {
//	    Send(data []byte) error
//	    SendTo(data []byte, addr net.Addr) error
//	    Receive() ([]byte, net.Addr, error)
//	    LocalAddr() net.Addr
//	    Close() error
//	}
//
// MulticastTransport is the production implementation. It binds an IPv4 UDP
// socket with SO_REUSEADDR and SO_REUSEPORT (on Unix) so several groups can
// share one address and port, joins the multicast group and enables loopback
// so members on the same host see each other. The simnet package provides an
// in-memory implementation for tests.
//
// Receive blocks until a datagram arrives. There is no polling deadline:
// closing the transport from another goroutine unblocks the reader, which then
// observes ErrClosed and shuts down cleanly.
//
// # Wire Format
//
// Every packet is a fixed 49 byte big-endian header followed by the payload:
//
//	int32  protocolId
//	int32  groupMagic
//	uint8  kind            (0=DATA, 1=HEARTBEAT, 2=LEAVE, 3=RETRANSMIT_REQUEST)
//	16B    senderId
//	uint64 sequenceNumber
//	uint64 messageId
//	uint16 fragmentIndex
//	uint16 fragmentCount
//	uint32 payloadLength
//	bytes  payload[payloadLength]
//
// A Codec is bound to one protocol id and one group magic. Parse reports a
// packet for another group on the same channel as a *MismatchError, which is
// expected when groups are multiplexed and should be discarded quietly:
//
//	codec := transport.NewCodec(7, "config-sync")
//	pkt, err := codec.Parse(datagram)
//	if transport.IsMismatch(err) {
//	    return // someone else's group
//	}
//
// Messages larger than one packet are cut with Split and each fragment is
// framed with its index and the total count.
package transport
