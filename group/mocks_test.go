package group

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/langroup/membership"
	"github.com/opd-ai/langroup/transport"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// mockTimeProvider is a manually advanced clock. Tickers are real so the
// group's loops keep running; only Now is controlled.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{now: epoch}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// recordingTransport wraps a transport and keeps every frame sent through it.
type recordingTransport struct {
	transport.Transport

	mu   sync.Mutex
	sent [][]byte
	fail bool
}

func (r *recordingTransport) record(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return &transport.IOError{Op: "send", Err: errors.New("network unreachable")}
	}
	r.sent = append(r.sent, append([]byte(nil), data...))
	return nil
}

func (r *recordingTransport) Send(data []byte) error {
	if err := r.record(data); err != nil {
		return err
	}
	return r.Transport.Send(data)
}

func (r *recordingTransport) SendTo(data []byte, addr net.Addr) error {
	if err := r.record(data); err != nil {
		return err
	}
	return r.Transport.SendTo(data, addr)
}

func (r *recordingTransport) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

// sentKinds parses every recorded frame with codec and returns those of kind.
func (r *recordingTransport) sentKinds(codec transport.Codec, kind transport.Kind) []*transport.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*transport.Packet
	for _, frame := range r.sent {
		p, err := codec.Parse(frame)
		if err == nil && p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// recorder is a Handler that keeps everything it is given.
type recorder struct {
	mu       sync.Mutex
	messages []Message
	events   []membership.Event
}

func (r *recorder) HandleMessage(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) HandleMembership(ev membership.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, string(m.Payload))
	}
	return out
}

func (r *recorder) message(i int) Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[i]
}

func (r *recorder) eventsFor(id uuid.UUID) []membership.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []membership.EventType
	for _, ev := range r.events {
		if ev.Member.ID == id {
			out = append(out, ev.Type)
		}
	}
	return out
}
