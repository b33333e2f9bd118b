package simnet

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/langroup/transport"
)

// DefaultInboxSize is the number of datagrams a Transport buffers before
// further deliveries are dropped.
const DefaultInboxSize = 4096

// Addr is the synthetic address of a simulated transport.
type Addr struct {
	ID int
}

// Network implements net.Addr.
func (a Addr) Network() string { return "sim" }

func (a Addr) String() string { return fmt.Sprintf("sim:%d", a.ID) }

// DropFunc decides whether a single delivery is lost.
type DropFunc func(from, to net.Addr, data []byte) bool

// DeliveryRecord represents one delivery attempt on the network.
type DeliveryRecord struct {
	From      net.Addr
	To        net.Addr
	Size      int
	Unicast   bool
	Timestamp int64
	Delivered bool
	Reason    string
}

// Stats summarises the delivery log.
type Stats struct {
	Transports int
	Deliveries int
	Delivered  int
	Dropped    int
}

// Network is an in-memory multicast bus.
type Network struct {
	mu         sync.RWMutex
	transports map[int]*Transport
	nextID     int
	loopback   bool
	drop       DropFunc
	inboxSize  int
	log        []DeliveryRecord
}

// NewNetwork creates an empty network with loopback enabled.
func NewNetwork() *Network {
	return &Network{
		transports: make(map[int]*Transport),
		loopback:   true,
		inboxSize:  DefaultInboxSize,
	}
}

// SetLoopback controls whether Send also delivers to the sending transport.
func (n *Network) SetLoopback(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loopback = enabled
}

// SetDropFunc installs a loss predicate. A nil func disables loss.
func (n *Network) SetDropFunc(f DropFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = f
}

// NewTransport attaches a new transport to the network.
func (n *Network) NewTransport() *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	t := &Transport{
		network: n,
		addr:    Addr{ID: n.nextID},
		inbox:   make(chan datagram, n.inboxSize),
		done:    make(chan struct{}),
	}
	n.transports[t.addr.ID] = t

	logrus.WithFields(logrus.Fields{
		"function":   "Network.NewTransport",
		"addr":       t.addr.String(),
		"transports": len(n.transports),
	}).Debug("Attached simulated transport")

	return t
}

func (n *Network) detach(t *Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.transports, t.addr.ID)
}

func (n *Network) multicast(from *Transport, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, to := range n.transports {
		if to == from && !n.loopback {
			continue
		}
		n.deliverLocked(from, to, data, false)
	}
}

func (n *Network) unicast(from *Transport, addr net.Addr, data []byte) error {
	a, ok := addr.(Addr)
	if !ok {
		return fmt.Errorf("simnet: unsupported address type %T", addr)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	to, ok := n.transports[a.ID]
	if !ok {
		// Like UDP, sending to an address nobody listens on is not an error.
		n.log = append(n.log, DeliveryRecord{
			From:      from.addr,
			To:        addr,
			Size:      len(data),
			Unicast:   true,
			Timestamp: time.Now().UnixNano(),
			Reason:    "no listener",
		})
		return nil
	}
	n.deliverLocked(from, to, data, true)
	return nil
}

func (n *Network) deliverLocked(from, to *Transport, data []byte, unicast bool) {
	rec := DeliveryRecord{
		From:      from.addr,
		To:        to.addr,
		Size:      len(data),
		Unicast:   unicast,
		Timestamp: time.Now().UnixNano(),
	}

	switch {
	case n.drop != nil && n.drop(from.addr, to.addr, data):
		rec.Reason = "dropped"
	default:
		buf := make([]byte, len(data))
		copy(buf, data)
		select {
		case to.inbox <- datagram{data: buf, from: from.addr}:
			rec.Delivered = true
		default:
			rec.Reason = "inbox full"
		}
	}
	n.log = append(n.log, rec)
}

// GetDeliveryLog returns a copy of the delivery log.
func (n *Network) GetDeliveryLog() []DeliveryRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()

	log := make([]DeliveryRecord, len(n.log))
	copy(log, n.log)
	return log
}

// ClearDeliveryLog empties the delivery log.
func (n *Network) ClearDeliveryLog() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.log = nil
}

// GetStats returns statistics about the network.
func (n *Network) GetStats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	s := Stats{Transports: len(n.transports), Deliveries: len(n.log)}
	for _, rec := range n.log {
		if rec.Delivered {
			s.Delivered++
		} else {
			s.Dropped++
		}
	}
	return s
}

type datagram struct {
	data []byte
	from net.Addr
}

// Transport is a simulated group socket attached to a Network.
type Transport struct {
	network *Network
	addr    Addr
	inbox   chan datagram

	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Send delivers data to every transport on the network.
func (t *Transport) Send(data []byte) error {
	if t.closed() {
		return &transport.IOError{Op: "send", Addr: t.addr.String(), Err: transport.ErrClosed}
	}
	t.network.multicast(t, data)
	return nil
}

// SendTo delivers data to the transport at addr.
func (t *Transport) SendTo(data []byte, addr net.Addr) error {
	if t.closed() {
		return &transport.IOError{Op: "sendto", Addr: addr.String(), Err: transport.ErrClosed}
	}
	if err := t.network.unicast(t, addr, data); err != nil {
		return &transport.IOError{Op: "sendto", Addr: addr.String(), Err: err}
	}
	return nil
}

// Receive blocks until a datagram arrives or the transport is closed.
func (t *Transport) Receive() ([]byte, net.Addr, error) {
	select {
	case <-t.done:
		return nil, nil, transport.ErrClosed
	case d := <-t.inbox:
		return d.data, d.from, nil
	}
}

// LocalAddr returns the synthetic address of t.
func (t *Transport) LocalAddr() net.Addr {
	return t.addr
}

// Close detaches t from the network and unblocks Receive.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.network.detach(t)
		close(t.done)
	})
	return nil
}
