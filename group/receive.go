package group

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/langroup/limits"
	"github.com/opd-ai/langroup/membership"
	"github.com/opd-ai/langroup/metrics"
	"github.com/opd-ai/langroup/sequence"
	"github.com/opd-ai/langroup/transport"
)

// Receive errors other than ErrClosed are retried with an exponential
// backoff between these bounds.
const (
	minReceiveBackoff = 5 * time.Millisecond
	maxReceiveBackoff = time.Second
)

// receiveBackoff returns the pause after the given number of consecutive
// receive failures.
func receiveBackoff(failures int) time.Duration {
	d := minReceiveBackoff
	for i := 1; i < failures && d < maxReceiveBackoff; i++ {
		d *= 2
	}
	if d > maxReceiveBackoff {
		d = maxReceiveBackoff
	}
	return d
}

// receiveLoop blocks in Receive and hands datagrams to the dispatcher. Closing
// the transport ends it cleanly; any other error is logged and retried.
func (g *Group) receiveLoop(ctx context.Context, tr transport.Transport) error {
	failures := 0
	for {
		data, addr, err := tr.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}

			failures++
			metrics.ReceiveErrorsTotal.Inc()
			entry := g.log.WithFields(logrus.Fields{
				"function": "receiveLoop",
				"failures": failures,
			}).WithError(err)
			if failures == 1 || failures%100 == 0 {
				entry.Warn("Transient receive error")
			} else {
				entry.Debug("Transient receive error")
			}

			wait := time.NewTimer(receiveBackoff(failures))
			select {
			case <-ctx.Done():
				wait.Stop()
				return nil
			case <-wait.C:
			}
			continue
		}
		if failures > 0 {
			g.log.WithFields(logrus.Fields{
				"function": "receiveLoop",
				"failures": failures,
			}).Info("Receive recovered")
			failures = 0
		}

		select {
		case g.inbox <- datagram{data: data, from: addr}:
		case <-ctx.Done():
			return nil
		}
	}
}

// dispatchLoop owns the sequencer and reassembler. It processes datagrams in
// arrival order and runs the periodic sweep.
func (g *Group) dispatchLoop(ctx context.Context) error {
	ticker := g.clock.NewTicker(g.opts.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-g.inbox:
			g.handleDatagram(d.data, d.from)
		case <-ticker.C:
			g.sweep()
		}
	}
}

func (g *Group) heartbeatLoop(ctx context.Context, tr transport.Transport) error {
	ticker := g.clock.NewTicker(g.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := g.sendControl(tr, transport.KindHeartbeat, nil); err != nil {
				if errors.Is(err, transport.ErrClosed) {
					return nil
				}
				g.log.WithField("function", "heartbeatLoop").WithError(err).Warn("Heartbeat failed")
			}
		}
	}
}

func (g *Group) handleDatagram(data []byte, from net.Addr) {
	now := g.clock.Now()

	p, err := g.codec.Parse(data)
	if err != nil {
		if transport.IsMismatch(err) {
			metrics.PacketsDroppedTotal.WithLabelValues(metrics.DropMismatch).Inc()
			return
		}
		metrics.PacketsDroppedTotal.WithLabelValues(metrics.DropMalformed).Inc()
		g.log.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"from":     addrString(from),
			"size":     len(data),
		}).WithError(err).Debug("Dropping malformed datagram")
		return
	}

	if p.Sender == g.id {
		metrics.PacketsDroppedTotal.WithLabelValues(metrics.DropOwn).Inc()
		return
	}
	metrics.PacketsReceivedTotal.WithLabelValues(p.Kind.String()).Inc()

	if p.Kind == transport.KindLeave {
		if ev := g.members.Leave(p.Sender, now); ev != nil {
			g.onMembership(*ev)
		}
		return
	}

	member, events := g.members.Observe(p.Sender, from, now)
	for _, ev := range events {
		g.onMembership(ev)
	}

	switch p.Kind {
	case transport.KindData:
		g.admit(p, member, now)
	case transport.KindRetransmitRequest:
		g.serveRetransmit(p, from)
	}
}

func (g *Group) admit(p *transport.Packet, sender membership.Member, now time.Time) {
	res := g.seq.Admit(p, now)

	switch res.Verdict {
	case sequence.Duplicate:
		metrics.PacketsDroppedTotal.WithLabelValues(metrics.DropDuplicate).Inc()
		g.log.WithFields(logrus.Fields{
			"sender":   p.Sender.String(),
			"sequence": p.Sequence,
		}).Debug("Dropping duplicate packet")
	case sequence.Stale:
		metrics.PacketsDroppedTotal.WithLabelValues(metrics.DropStale).Inc()
	case sequence.Gap:
		if res.Request != nil || g.seq.Policy() == sequence.Tolerate {
			metrics.SequenceGapsTotal.WithLabelValues(g.seq.Policy().String()).Inc()
			g.log.WithFields(logrus.Fields{
				"sender":   p.Sender.String(),
				"missing":  res.Missing.String(),
				"sequence": p.Sequence,
				"policy":   g.seq.Policy().String(),
			}).Info("Sequence gap detected")
		}
	}

	if res.Request != nil {
		g.requestRetransmit(p.Sender, sender.Addr, *res.Request)
	}
	g.recordLost(p.Sender, res.Lost)

	for _, q := range res.Deliver {
		g.reassemble(q, now)
	}
}

func (g *Group) recordLost(sender uuid.UUID, lost []sequence.Range) {
	for _, r := range lost {
		metrics.SequenceLostTotal.Add(float64(r.Count()))
		if g.seq.Policy() == sequence.Retransmit {
			g.log.WithFields(logrus.Fields{
				"sender": sender.String(),
				"lost":   r.String(),
			}).Info("Accepting sequence gap as lost")
		}
	}
}

func (g *Group) reassemble(p *transport.Packet, now time.Time) {
	msg, err := g.reasm.Accept(p, now)
	if err != nil {
		metrics.PacketsDroppedTotal.WithLabelValues(metrics.DropReassembly).Inc()
		g.log.WithFields(logrus.Fields{
			"sender":     p.Sender.String(),
			"message_id": p.MessageID,
		}).WithError(err).Warn("Dropping fragment")
		return
	}
	if msg == nil {
		return
	}

	metrics.MessagesDeliveredTotal.Inc()
	g.deliver(Message{
		Sender:    msg.Sender,
		ID:        msg.ID,
		Payload:   msg.Payload,
		Fragments: msg.Fragments,
		Received:  now,
	})
}

// onMembership keeps per-sender state in step with the member table and
// notifies subscribers.
func (g *Group) onMembership(ev membership.Event) {
	id := ev.Member.ID
	g.seq.Reset(id)
	if ev.Type != membership.EventJoined {
		g.reasm.DropSender(id)
	}

	metrics.MembershipEventsTotal.WithLabelValues(ev.Type.String()).Inc()
	metrics.Members.WithLabelValues(g.opts.Group, g.id.String()).Set(float64(len(ev.Members)))

	for _, s := range g.subscribers() {
		g.callMembership(s, ev)
	}
}

func (g *Group) deliver(msg Message) {
	for _, s := range g.subscribers() {
		g.callMessage(s, msg)
	}
}

func (g *Group) callMessage(s subscription, msg Message) {
	defer g.recoverHandler(s.id, "HandleMessage")
	s.handler.HandleMessage(msg)
}

func (g *Group) callMembership(s subscription, ev membership.Event) {
	defer g.recoverHandler(s.id, "HandleMembership")
	s.handler.HandleMembership(ev)
}

func (g *Group) recoverHandler(id SubscriptionID, method string) {
	if r := recover(); r != nil {
		g.log.WithFields(logrus.Fields{
			"subscription": uint64(id),
			"method":       method,
			"panic":        fmt.Sprint(r),
		}).Error("Handler panicked")
	}
}

// sweep expires silent members, stale reassembly buffers and gaps that were
// waited on long enough.
func (g *Group) sweep() {
	now := g.clock.Now()

	for _, ev := range g.members.Sweep(now) {
		g.onMembership(ev)
	}

	for range g.reasm.Expire(now) {
		metrics.ReassemblyExpiredTotal.Inc()
	}

	released, lost := g.seq.Expire(now)
	for _, r := range lost {
		metrics.SequenceLostTotal.Add(float64(r.Count()))
	}
	if len(lost) > 0 {
		g.log.WithFields(logrus.Fields{
			"function": "sweep",
			"ranges":   len(lost),
			"released": len(released),
		}).Info("Accepted expired sequence gaps as lost")
	}
	for _, p := range released {
		g.reassemble(p, now)
	}
}

// requestRetransmit asks target, at its last known address, to multicast the
// missing range again.
func (g *Group) requestRetransmit(target uuid.UUID, addr net.Addr, r sequence.Range) {
	if addr == nil {
		return
	}
	tr, err := g.joinedTransport()
	if err != nil {
		return
	}

	req := transport.RetransmitRequest{Target: target, From: r.From, To: r.To}
	frame, err := g.codec.Frame(&transport.Packet{
		Kind:          transport.KindRetransmitRequest,
		Sender:        g.id,
		Sequence:      g.lastSeq.Load(),
		FragmentCount: 1,
		Payload:       req.Marshal(),
	})
	if err != nil {
		return
	}

	log := g.log.WithFields(logrus.Fields{
		"function": "requestRetransmit",
		"target":   target.String(),
		"addr":     addr.String(),
		"range":    r.String(),
	})
	if err := tr.SendTo(frame, addr); err != nil {
		log.WithError(err).Warn("Failed to send retransmit request")
		return
	}
	metrics.PacketsSentTotal.WithLabelValues(transport.KindRetransmitRequest.String()).Inc()
	metrics.RetransmitRequestsTotal.WithLabelValues(metrics.DirectionSent).Inc()
	log.Debug("Requested retransmission")
}

// serveRetransmit multicasts the requested frames still held in history.
func (g *Group) serveRetransmit(p *transport.Packet, from net.Addr) {
	req, err := transport.ParseRetransmitRequest(p.Payload)
	if err != nil {
		metrics.PacketsDroppedTotal.WithLabelValues(metrics.DropMalformed).Inc()
		return
	}
	// Several groups may share a port, so a unicast request can reach the
	// wrong socket.
	if req.Target != g.id {
		return
	}
	metrics.RetransmitRequestsTotal.WithLabelValues(metrics.DirectionReceived).Inc()

	tr, err := g.joinedTransport()
	if err != nil {
		return
	}

	count := req.Count()
	if count > limits.MaxRetransmitBatch {
		count = limits.MaxRetransmitBatch
	}

	served := 0
	for i := uint64(0); i < count; i++ {
		frame, ok := g.history.get(req.From + i)
		if !ok {
			continue
		}
		if err := tr.Send(frame); err != nil {
			g.log.WithField("function", "serveRetransmit").WithError(err).Warn("Failed to retransmit")
			return
		}
		served++
		metrics.RetransmitRequestsTotal.WithLabelValues(metrics.DirectionServed).Inc()
	}

	g.log.WithFields(logrus.Fields{
		"function":  "serveRetransmit",
		"requester": p.Sender.String(),
		"from":      addrString(from),
		"range":     fmt.Sprintf("%d..%d", req.From, req.To),
		"served":    served,
	}).Debug("Answered retransmit request")
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
