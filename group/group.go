package group

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/langroup/membership"
	"github.com/opd-ai/langroup/metrics"
	"github.com/opd-ai/langroup/reassembly"
	"github.com/opd-ai/langroup/sequence"
	"github.com/opd-ai/langroup/transport"
)

// inboxSize bounds the datagrams queued between the reader and dispatcher.
const inboxSize = 1024

// Group is a joined (or joinable) membership in one named group.
type Group struct {
	opts  *Options
	id    uuid.UUID
	codec transport.Codec
	clock TimeProvider
	log   logrus.FieldLogger

	members *membership.Manager
	history *history

	// owned by the dispatch goroutine
	seq   *sequence.Sequencer
	reasm *reassembly.Reassembler

	stateMu sync.Mutex
	state   State
	tr      transport.Transport
	cancel  context.CancelFunc
	eg      *errgroup.Group
	// closed when the heartbeat loop has stopped sending
	heartbeatDone chan struct{}

	sendMu  sync.Mutex
	lastSeq atomic.Uint64
	lastMsg atomic.Uint64

	handlersMu sync.RWMutex
	handlers   []subscription
	nextSubID  SubscriptionID

	inbox chan datagram
}

type datagram struct {
	data []byte
	from net.Addr
}

// New validates opts and prepares a Group in the JOINING state. Nothing is
// bound or sent until Join.
func New(opts *Options) (*Group, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	id := uuid.New()
	log := logger.WithFields(logrus.Fields{
		"group":    opts.Group,
		"local_id": id.String(),
	})

	hist, err := newHistory(opts.RetransmitHistory)
	if err != nil {
		return nil, fmt.Errorf("create retransmit history: %w", err)
	}

	return &Group{
		opts:  opts,
		id:    id,
		codec: transport.NewCodec(opts.ProtocolID, opts.Group),
		clock: getTimeProvider(opts.TimeProvider),
		log:   log,
		members: membership.NewManager(membership.Config{
			Timeout: opts.MemberTimeout,
			Logger:  log,
		}),
		history: hist,
		seq: sequence.New(sequence.Config{
			Policy:      opts.GapPolicy,
			GapWait:     opts.GapWait,
			MaxHoldback: opts.MaxPendingMessages,
		}),
		reasm: reassembly.New(reassembly.Config{
			Timeout:    opts.ReassemblyTimeout,
			MaxPending: opts.MaxPendingMessages,
			Logger:     log,
		}),
		state: StateJoining,
		inbox: make(chan datagram, inboxSize),
	}, nil
}

// Join creates a Group from opts and joins it.
func Join(opts *Options) (*Group, error) {
	g, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := g.Join(); err != nil {
		return nil, err
	}
	return g, nil
}

// Join binds the transport, starts the receive, dispatch and heartbeat
// goroutines and announces this member with an immediate heartbeat.
// A bind failure is returned as *transport.BindError and leaves the group
// in JOINING so Join may be retried.
func (g *Group) Join() error {
	g.stateMu.Lock()
	switch g.state {
	case StateJoined, StateLeaving:
		g.stateMu.Unlock()
		return ErrAlreadyJoined
	case StateClosed:
		g.stateMu.Unlock()
		return ErrGroupClosed
	}

	tr := g.opts.Transport
	if tr == nil {
		mt, err := transport.OpenMulticast(transport.MulticastConfig{
			Address:   g.opts.Address,
			Port:      g.opts.Port,
			Interface: g.opts.Interface,
			TTL:       g.opts.MulticastTTL,
			Loopback:  g.opts.Loopback,
		})
		if err != nil {
			g.stateMu.Unlock()
			g.log.WithFields(logrus.Fields{
				"function": "Join",
				"address":  g.opts.Address,
				"port":     g.opts.Port,
			}).WithError(err).Error("Failed to bind group transport")
			return err
		}
		tr = mt
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)

	heartbeatDone := make(chan struct{})

	g.tr = tr
	g.cancel = cancel
	g.eg = eg
	g.heartbeatDone = heartbeatDone
	g.state = StateJoined
	g.stateMu.Unlock()

	eg.Go(func() error { return g.receiveLoop(ctx, tr) })
	eg.Go(func() error { return g.dispatchLoop(ctx) })
	eg.Go(func() error {
		defer close(heartbeatDone)
		return g.heartbeatLoop(ctx, tr)
	})

	g.log.WithFields(logrus.Fields{
		"function":    "Join",
		"protocol_id": g.opts.ProtocolID,
		"local_addr":  tr.LocalAddr().String(),
		"gap_policy":  g.opts.GapPolicy.String(),
	}).Info("Joined group")

	if err := g.sendControl(tr, transport.KindHeartbeat, nil); err != nil {
		g.log.WithError(err).Warn("Initial heartbeat failed")
	}
	return nil
}

// Send multicasts payload to the group, fragmenting it if necessary. It
// returns once every fragment has been handed to the transport. Delivery is
// best effort; the message is never sent again automatically.
func (g *Group) Send(payload []byte) error {
	tr, err := g.joinedTransport()
	if err != nil {
		return err
	}

	fragments, err := transport.Split(payload, g.opts.MaxPacketPayload)
	if err != nil {
		return err
	}

	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	msgID := g.lastMsg.Add(1)
	count := uint16(len(fragments))

	for i, frag := range fragments {
		p := &transport.Packet{
			Kind:          transport.KindData,
			Sender:        g.id,
			Sequence:      g.lastSeq.Add(1),
			MessageID:     msgID,
			FragmentIndex: uint16(i),
			FragmentCount: count,
			Payload:       frag,
		}

		frame, err := g.codec.Frame(p)
		if err != nil {
			return fmt.Errorf("frame fragment %d of message %d: %w", i, msgID, err)
		}
		g.history.add(p.Sequence, frame)

		if err := tr.Send(frame); err != nil {
			g.log.WithFields(logrus.Fields{
				"function":   "Send",
				"message_id": msgID,
				"fragment":   i,
				"fragments":  count,
			}).WithError(err).Warn("Failed to send fragment")
			return err
		}
		metrics.PacketsSentTotal.WithLabelValues(transport.KindData.String()).Inc()
	}

	metrics.MessagesSentTotal.Inc()
	metrics.BytesSentTotal.Add(float64(len(payload)))

	g.log.WithFields(logrus.Fields{
		"function":   "Send",
		"message_id": msgID,
		"size":       len(payload),
		"fragments":  count,
	}).Debug("Sent message")
	return nil
}

func (g *Group) joinedTransport() (transport.Transport, error) {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	if g.state != StateJoined {
		return nil, ErrNotJoined
	}
	return g.tr, nil
}

// sendControl sends a single-fragment control packet. Control packets carry
// the current outgoing sequence number without consuming one.
func (g *Group) sendControl(tr transport.Transport, kind transport.Kind, payload []byte) error {
	frame, err := g.codec.Frame(&transport.Packet{
		Kind:          kind,
		Sender:        g.id,
		Sequence:      g.lastSeq.Load(),
		FragmentCount: 1,
		Payload:       payload,
	})
	if err != nil {
		return err
	}
	if err := tr.Send(frame); err != nil {
		return err
	}
	metrics.PacketsSentTotal.WithLabelValues(kind.String()).Inc()
	return nil
}

// Subscribe registers h for messages and membership events and returns an id
// for Unsubscribe. Handlers are called in subscription order.
func (g *Group) Subscribe(h Handler) SubscriptionID {
	g.handlersMu.Lock()
	defer g.handlersMu.Unlock()

	g.nextSubID++
	g.handlers = append(g.handlers, subscription{id: g.nextSubID, handler: h})
	return g.nextSubID
}

// Unsubscribe removes the handler registered under id. It reports whether
// such a handler existed.
func (g *Group) Unsubscribe(id SubscriptionID) bool {
	g.handlersMu.Lock()
	defer g.handlersMu.Unlock()

	for i, s := range g.handlers {
		if s.id == id {
			g.handlers = append(g.handlers[:i:i], g.handlers[i+1:]...)
			return true
		}
	}
	return false
}

func (g *Group) subscribers() []subscription {
	g.handlersMu.RLock()
	defer g.handlersMu.RUnlock()
	return g.handlers
}

// Leave announces departure, stops every goroutine and closes the transport.
// It is idempotent: only the first call sends a LEAVE packet.
func (g *Group) Leave() error {
	g.stateMu.Lock()
	switch g.state {
	case StateJoining:
		g.state = StateClosed
		g.stateMu.Unlock()
		return nil
	case StateLeaving, StateClosed:
		g.stateMu.Unlock()
		return nil
	}
	g.state = StateLeaving
	tr, cancel, eg := g.tr, g.cancel, g.eg
	g.stateMu.Unlock()

	// no heartbeat may follow the LEAVE
	cancel()
	<-g.heartbeatDone

	if err := g.sendControl(tr, transport.KindLeave, nil); err != nil {
		g.log.WithError(err).Warn("Failed to send leave announcement")
	}

	closeErr := tr.Close()
	waitErr := eg.Wait()

	g.stateMu.Lock()
	g.state = StateClosed
	g.stateMu.Unlock()

	metrics.Members.DeleteLabelValues(g.opts.Group, g.id.String())

	g.log.WithField("function", "Leave").Info("Left group")

	if waitErr != nil {
		return waitErr
	}
	return closeErr
}

// Members returns the currently known remote members sorted by id. The local
// member is never included.
func (g *Group) Members() []membership.Member {
	return g.members.Members()
}

// LocalID returns the random identifier of this member.
func (g *Group) LocalID() uuid.UUID {
	return g.id
}

// Name returns the group name.
func (g *Group) Name() string {
	return g.opts.Group
}

// State returns the current lifecycle state.
func (g *Group) State() State {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	return g.state
}
