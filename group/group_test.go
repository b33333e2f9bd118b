package group

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/langroup/limits"
	"github.com/opd-ai/langroup/membership"
	"github.com/opd-ai/langroup/sequence"
	"github.com/opd-ai/langroup/simnet"
	"github.com/opd-ai/langroup/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type testMember struct {
	g   *Group
	tr  *recordingTransport
	rec *recorder
}

func newTestOptions(clock TimeProvider) *Options {
	opts := NewOptions()
	opts.Group = "test-group"
	opts.Logger = quietLogger()
	opts.HeartbeatInterval = 20 * time.Millisecond
	opts.MemberTimeout = 300 * time.Millisecond
	opts.GapWait = 200 * time.Millisecond
	opts.TimeProvider = clock
	return opts
}

func joinTestMember(t *testing.T, n *simnet.Network, clock TimeProvider, mutate func(*Options)) *testMember {
	t.Helper()

	tr := &recordingTransport{Transport: n.NewTransport()}
	opts := newTestOptions(clock)
	opts.Transport = tr
	if mutate != nil {
		mutate(opts)
	}

	g, err := New(opts)
	require.NoError(t, err)

	rec := &recorder{}
	g.Subscribe(rec)
	require.NoError(t, g.Join())
	t.Cleanup(func() { _ = g.Leave() })

	return &testMember{g: g, tr: tr, rec: rec}
}

func sendAll(t *testing.T, g *Group, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		require.NoError(t, g.Send([]byte(p)))
	}
}

func TestSendReceive(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()
	b := joinTestMember(t, n, clock, nil)
	a := joinTestMember(t, n, clock, nil)

	sendAll(t, a.g, "hello", "world")

	require.Eventually(t, func() bool { return len(b.rec.payloads()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"hello", "world"}, b.rec.payloads())

	msg := b.rec.message(0)
	assert.Equal(t, a.g.LocalID(), msg.Sender)
	assert.Equal(t, 1, msg.Fragments)
	assert.Equal(t, epoch, msg.Received)

	assert.Empty(t, a.rec.payloads(), "own messages are not delivered back")

	require.Eventually(t, func() bool { return len(b.g.Members()) == 1 }, waitFor, tick)
	assert.Equal(t, a.g.LocalID(), b.g.Members()[0].ID)
	assert.Equal(t, []membership.EventType{membership.EventJoined}, b.rec.eventsFor(a.g.LocalID()))
}

func TestMembershipRefreshCarriesSnapshot(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()
	observer := joinTestMember(t, n, clock, nil)
	first := joinTestMember(t, n, clock, nil)
	second := joinTestMember(t, n, clock, nil)

	require.Eventually(t, func() bool {
		return len(observer.rec.eventsFor(first.g.LocalID())) == 1 &&
			len(observer.rec.eventsFor(second.g.LocalID())) == 1
	}, waitFor, tick)

	observer.rec.mu.Lock()
	defer observer.rec.mu.Unlock()
	require.Len(t, observer.rec.events, 2)
	last := observer.rec.events[1]
	assert.Equal(t, membership.EventJoined, last.Type)
	assert.Len(t, last.Members, 2)

	ids := map[string]bool{}
	for _, m := range last.Members {
		ids[m.ID.String()] = true
	}
	assert.True(t, ids[first.g.LocalID().String()])
	assert.True(t, ids[second.g.LocalID().String()])
}

func TestProtocolIsolation(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()

	a := joinTestMember(t, n, clock, func(o *Options) { o.ProtocolID = 1 })
	peer := joinTestMember(t, n, clock, func(o *Options) { o.ProtocolID = 1 })
	otherProtocol := joinTestMember(t, n, clock, func(o *Options) { o.ProtocolID = 2 })
	otherName := joinTestMember(t, n, clock, func(o *Options) {
		o.ProtocolID = 1
		o.Group = "another-group"
	})

	sendAll(t, a.g, "for protocol 1 only")

	require.Eventually(t, func() bool { return len(peer.rec.payloads()) == 1 }, waitFor, tick)

	// heartbeats keep flowing; give the other groups time to see them
	time.Sleep(100 * time.Millisecond)
	for _, m := range []*testMember{otherProtocol, otherName} {
		assert.Empty(t, m.rec.payloads())
		assert.Empty(t, m.g.Members())
		m.rec.mu.Lock()
		assert.Empty(t, m.rec.events)
		m.rec.mu.Unlock()
	}
}

func TestFragmentedMessage(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()
	b := joinTestMember(t, n, clock, nil)
	a := joinTestMember(t, n, clock, func(o *Options) { o.MaxPacketPayload = 100 })

	payload := make([]byte, 350)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	require.NoError(t, a.g.Send(payload))

	require.Eventually(t, func() bool { return len(b.rec.payloads()) == 1 }, waitFor, tick)
	msg := b.rec.message(0)
	assert.True(t, bytes.Equal(payload, msg.Payload))
	assert.Equal(t, 4, msg.Fragments)

	data := a.tr.sentKinds(a.g.codec, transport.KindData)
	require.Len(t, data, 4)
	for i, p := range data {
		assert.Equal(t, uint16(i), p.FragmentIndex)
		assert.Equal(t, uint16(4), p.FragmentCount)
		assert.Equal(t, uint64(i+1), p.Sequence, "each fragment consumes a sequence number")
		assert.Equal(t, data[0].MessageID, p.MessageID)
	}
	assert.Len(t, data[3].Payload, 50)
}

func TestEmptyMessage(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()
	b := joinTestMember(t, n, clock, nil)
	a := joinTestMember(t, n, clock, nil)

	require.NoError(t, a.g.Send(nil))
	require.Eventually(t, func() bool { return len(b.rec.payloads()) == 1 }, waitFor, tick)
	assert.Empty(t, b.rec.message(0).Payload)
}

// dropSequence drops DATA packets from sender with the given sequence on
// their way to receiver. With once set only the first copy is dropped.
func dropSequence(codec transport.Codec, receiver net.Addr, seq uint64, once bool) simnet.DropFunc {
	var dropped atomic.Bool
	return func(from, to net.Addr, data []byte) bool {
		if to != receiver {
			return false
		}
		p, err := codec.Parse(data)
		if err != nil || p.Kind != transport.KindData || p.Sequence != seq {
			return false
		}
		if once {
			return dropped.CompareAndSwap(false, true)
		}
		return true
	}
}

func TestGapTolerated(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()
	b := joinTestMember(t, n, clock, nil)
	a := joinTestMember(t, n, clock, nil)

	n.SetDropFunc(dropSequence(a.g.codec, b.tr.LocalAddr(), 3, false))
	sendAll(t, a.g, "m1", "m2", "m3", "m4")

	require.Eventually(t, func() bool { return len(b.rec.payloads()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"m1", "m2", "m4"}, b.rec.payloads())
	assert.Empty(t, b.tr.sentKinds(b.g.codec, transport.KindRetransmitRequest))
}

func TestGapFilledByRetransmission(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()
	retransmit := func(o *Options) { o.GapPolicy = sequence.Retransmit }
	b := joinTestMember(t, n, clock, retransmit)
	a := joinTestMember(t, n, clock, retransmit)

	n.SetDropFunc(dropSequence(a.g.codec, b.tr.LocalAddr(), 3, true))
	sendAll(t, a.g, "m1", "m2", "m3", "m4")

	require.Eventually(t, func() bool { return len(b.rec.payloads()) == 4 }, waitFor, tick)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, b.rec.payloads())

	requests := b.tr.sentKinds(b.g.codec, transport.KindRetransmitRequest)
	require.Len(t, requests, 1)
	req, err := transport.ParseRetransmitRequest(requests[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, a.g.LocalID(), req.Target)
	assert.Equal(t, uint64(3), req.From)
	assert.Equal(t, uint64(3), req.To)
}

func TestGapAcceptedAfterWait(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()
	retransmit := func(o *Options) { o.GapPolicy = sequence.Retransmit }
	b := joinTestMember(t, n, clock, retransmit)
	a := joinTestMember(t, n, clock, retransmit)

	n.SetDropFunc(dropSequence(a.g.codec, b.tr.LocalAddr(), 3, false))
	sendAll(t, a.g, "m1", "m2", "m3", "m4")

	require.Eventually(t, func() bool {
		return len(b.tr.sentKinds(b.g.codec, transport.KindRetransmitRequest)) == 1
	}, waitFor, tick)
	require.Eventually(t, func() bool { return len(b.rec.payloads()) == 2 }, waitFor, tick)

	// m4 stays held back until the gap wait has passed
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"m1", "m2"}, b.rec.payloads())

	clock.Advance(200 * time.Millisecond)

	require.Eventually(t, func() bool { return len(b.rec.payloads()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"m1", "m2", "m4"}, b.rec.payloads())
	assert.Len(t, b.tr.sentKinds(b.g.codec, transport.KindRetransmitRequest), 1,
		"the gap is requested exactly once")
}

func TestMemberTimeout(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()
	b := joinTestMember(t, n, clock, nil)
	a := joinTestMember(t, n, clock, nil)

	require.Eventually(t, func() bool { return len(b.g.Members()) == 1 }, waitFor, tick)

	// a crashes without saying goodbye
	require.NoError(t, a.tr.Close())

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, b.g.Members(), 1, "no timeout while the clock stands still")

	clock.Advance(time.Second)

	require.Eventually(t, func() bool { return len(b.rec.eventsFor(a.g.LocalID())) == 2 }, waitFor, tick)
	assert.Empty(t, b.g.Members())
	assert.Equal(t,
		[]membership.EventType{membership.EventJoined, membership.EventTimedOut},
		b.rec.eventsFor(a.g.LocalID()))
}

func TestLeaveIsIdempotent(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()
	b := joinTestMember(t, n, clock, nil)
	a := joinTestMember(t, n, clock, nil)

	require.Eventually(t, func() bool { return len(b.g.Members()) == 1 }, waitFor, tick)

	require.NoError(t, a.g.Leave())
	require.NoError(t, a.g.Leave())
	assert.Equal(t, StateClosed, a.g.State())

	assert.Len(t, a.tr.sentKinds(a.g.codec, transport.KindLeave), 1)

	require.Eventually(t, func() bool { return len(b.rec.eventsFor(a.g.LocalID())) == 2 }, waitFor, tick)
	assert.Empty(t, b.g.Members())
	assert.Equal(t,
		[]membership.EventType{membership.EventJoined, membership.EventLeft},
		b.rec.eventsFor(a.g.LocalID()))

	assert.True(t, errors.Is(a.g.Send([]byte("late")), ErrNotJoined))
	assert.True(t, errors.Is(a.g.Join(), ErrGroupClosed))
}

func TestJoinTwice(t *testing.T) {
	n := simnet.NewNetwork()
	a := joinTestMember(t, n, newMockTimeProvider(), nil)

	assert.Equal(t, StateJoined, a.g.State())
	assert.True(t, errors.Is(a.g.Join(), ErrAlreadyJoined))
}

func TestLeaveBeforeJoin(t *testing.T) {
	opts := newTestOptions(newMockTimeProvider())
	opts.Transport = simnet.NewNetwork().NewTransport()

	g, err := New(opts)
	require.NoError(t, err)
	assert.Equal(t, StateJoining, g.State())
	assert.True(t, errors.Is(g.Send([]byte("x")), ErrNotJoined))

	require.NoError(t, g.Leave())
	assert.Equal(t, StateClosed, g.State())
	assert.True(t, errors.Is(g.Join(), ErrGroupClosed))
}

func TestJoinBindFailure(t *testing.T) {
	opts := newTestOptions(nil)
	opts.Address = "239.255.42.99"
	opts.Port = 45588
	opts.Interface = "no-such-interface0"

	g, err := New(opts)
	require.NoError(t, err)

	err = g.Join()
	var bindErr *transport.BindError
	require.True(t, errors.As(err, &bindErr), "got %v", err)
	assert.Equal(t, StateJoining, g.State())
}

func TestSendErrors(t *testing.T) {
	n := simnet.NewNetwork()
	a := joinTestMember(t, n, newMockTimeProvider(), func(o *Options) { o.MaxPacketPayload = 1 })

	err := a.g.Send(make([]byte, limits.MaxFragments+1))
	assert.True(t, errors.Is(err, limits.ErrMessageTooLarge))

	a.tr.setFail(true)
	err = a.g.Send([]byte("x"))
	var ioErr *transport.IOError
	assert.True(t, errors.As(err, &ioErr), "got %v", err)
	a.tr.setFail(false)
}

func TestConcurrentSendersKeepSequenceOrder(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()
	b := joinTestMember(t, n, clock, nil)
	a := joinTestMember(t, n, clock, func(o *Options) { o.MaxPacketPayload = 4 })

	const senders, perSender = 4, 10
	errs := make(chan error, senders*perSender)
	for s := 0; s < senders; s++ {
		go func(s int) {
			for i := 0; i < perSender; i++ {
				errs <- a.g.Send([]byte(fmt.Sprintf("sender-%d-msg-%d", s, i)))
			}
		}(s)
	}
	for i := 0; i < senders*perSender; i++ {
		require.NoError(t, <-errs)
	}

	require.Eventually(t, func() bool { return len(b.rec.payloads()) == senders*perSender }, waitFor, tick)

	data := a.tr.sentKinds(a.g.codec, transport.KindData)
	for i, p := range data {
		assert.Equal(t, uint64(i+1), p.Sequence)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()
	b := joinTestMember(t, n, clock, nil)
	a := joinTestMember(t, n, clock, nil)

	// subscribed after b's recorder, so it runs second; a third handler must
	// still be reached
	b.g.Subscribe(HandlerFuncs{OnMessage: func(Message) { panic("boom") }})
	late := &recorder{}
	b.g.Subscribe(late)

	sendAll(t, a.g, "survives")
	require.Eventually(t, func() bool { return len(late.payloads()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"survives"}, b.rec.payloads())
}

func TestUnsubscribe(t *testing.T) {
	n := simnet.NewNetwork()
	clock := newMockTimeProvider()
	b := joinTestMember(t, n, clock, nil)
	a := joinTestMember(t, n, clock, nil)

	extra := &recorder{}
	id := b.g.Subscribe(extra)

	sendAll(t, a.g, "one")
	require.Eventually(t, func() bool { return len(extra.payloads()) == 1 }, waitFor, tick)

	assert.True(t, b.g.Unsubscribe(id))
	assert.False(t, b.g.Unsubscribe(id))

	sendAll(t, a.g, "two")
	require.Eventually(t, func() bool { return len(b.rec.payloads()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"one"}, extra.payloads())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "JOINING", StateJoining.String())
	assert.Equal(t, "JOINED", StateJoined.String())
	assert.Equal(t, "LEAVING", StateLeaving.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
}
