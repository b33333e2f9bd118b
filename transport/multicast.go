package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/opd-ai/langroup/limits"
)

// MulticastConfig describes the group channel a MulticastTransport binds to.
type MulticastConfig struct {
	// Address is the IPv4 multicast group, e.g. "239.255.42.1".
	Address string
	// Port is the UDP port shared by every member of the channel.
	Port uint16
	// Interface optionally names the network interface to join on.
	// The system default is used when empty.
	Interface string
	// TTL is the multicast hop limit; values below 1 are treated as 1.
	TTL int
	// Loopback delivers our own datagrams back to sockets on this host.
	Loopback bool
}

// MulticastTransport is an IPv4 UDP multicast implementation of Transport.
type MulticastTransport struct {
	conn  *net.UDPConn
	pconn *ipv4.PacketConn
	group *net.UDPAddr
	iface *net.Interface

	readMu sync.Mutex
	buf    []byte

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// OpenMulticast binds the group port, joins the multicast group and returns a
// ready transport. Any failure is reported as a *BindError.
func OpenMulticast(cfg MulticastConfig) (*MulticastTransport, error) {
	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(int(cfg.Port)))

	ip := net.ParseIP(cfg.Address)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return nil, &BindError{Addr: addr, Err: ErrNotMulticast}
	}
	if cfg.Port == 0 {
		return nil, &BindError{Addr: addr, Err: errors.New("port cannot be 0")}
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		var err error
		if iface, err = net.InterfaceByName(cfg.Interface); err != nil {
			return nil, &BindError{Addr: addr, Err: err}
		}
	}

	lc := net.ListenConfig{Control: reuseControl}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, &BindError{Addr: addr, Err: fmt.Errorf("unexpected packet conn type %T", pc)}
	}

	group := &net.UDPAddr{IP: ip.To4(), Port: int(cfg.Port)}
	pconn := ipv4.NewPacketConn(conn)

	if err := pconn.JoinGroup(iface, &net.UDPAddr{IP: group.IP}); err != nil {
		_ = conn.Close()
		return nil, &BindError{Addr: addr, Err: fmt.Errorf("join group: %w", err)}
	}
	if iface != nil {
		if err := pconn.SetMulticastInterface(iface); err != nil {
			_ = conn.Close()
			return nil, &BindError{Addr: addr, Err: fmt.Errorf("set multicast interface: %w", err)}
		}
	}

	ttl := cfg.TTL
	if ttl < 1 {
		ttl = 1
	}
	if err := pconn.SetMulticastTTL(ttl); err != nil {
		_ = conn.Close()
		return nil, &BindError{Addr: addr, Err: fmt.Errorf("set multicast ttl: %w", err)}
	}
	if err := pconn.SetMulticastLoopback(cfg.Loopback); err != nil {
		_ = conn.Close()
		return nil, &BindError{Addr: addr, Err: fmt.Errorf("set multicast loopback: %w", err)}
	}

	t := &MulticastTransport{
		conn:  conn,
		pconn: pconn,
		group: group,
		iface: iface,
		buf:   make([]byte, limits.MaxDatagramSize),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "OpenMulticast",
		"group":      group.String(),
		"local_addr": conn.LocalAddr().String(),
		"interface":  cfg.Interface,
		"ttl":        ttl,
		"loopback":   cfg.Loopback,
	}).Info("Joined multicast group")

	return t, nil
}

// Send multicasts data to the group.
func (t *MulticastTransport) Send(data []byte) error {
	if t.closed.Load() {
		return &IOError{Op: "send", Addr: t.group.String(), Err: ErrClosed}
	}
	if _, err := t.conn.WriteToUDP(data, t.group); err != nil {
		return &IOError{Op: "send", Addr: t.group.String(), Err: err}
	}
	return nil
}

// SendTo sends data to a single address.
func (t *MulticastTransport) SendTo(data []byte, addr net.Addr) error {
	if t.closed.Load() {
		return &IOError{Op: "sendto", Addr: addr.String(), Err: ErrClosed}
	}
	if _, err := t.conn.WriteTo(data, addr); err != nil {
		return &IOError{Op: "sendto", Addr: addr.String(), Err: err}
	}
	return nil
}

// Receive blocks until a datagram arrives or the transport is closed.
func (t *MulticastTransport) Receive() ([]byte, net.Addr, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	n, addr, err := t.conn.ReadFromUDP(t.buf)
	if err != nil {
		if t.closed.Load() || errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrClosed
		}
		return nil, nil, &IOError{Op: "receive", Err: err}
	}

	data := make([]byte, n)
	copy(data, t.buf[:n])
	return data, addr, nil
}

// LocalAddr returns the local address of the group socket.
func (t *MulticastTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// GroupAddr returns the multicast group address datagrams are sent to.
func (t *MulticastTransport) GroupAddr() net.Addr {
	return t.group
}

// Close leaves the multicast group and closes the socket, unblocking any
// pending Receive.
func (t *MulticastTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if err := t.pconn.LeaveGroup(t.iface, &net.UDPAddr{IP: t.group.IP}); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "MulticastTransport.Close",
				"group":    t.group.String(),
				"error":    err.Error(),
			}).Debug("Leave group failed")
		}
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
