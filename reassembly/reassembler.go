package reassembly

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/langroup/transport"
)

const (
	// DefaultTimeout is how long an incomplete message is kept by default.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxPending bounds the number of incomplete messages held at once.
	DefaultMaxPending = 1024
)

var (
	// ErrInconsistentFragment indicates a fragment whose count disagrees with
	// earlier fragments of the same message
	ErrInconsistentFragment = errors.New("inconsistent fragment")

	// ErrTooManyPending indicates the pending buffer is full
	ErrTooManyPending = errors.New("too many pending messages")

	// ErrNotData indicates a non-DATA packet was offered for reassembly
	ErrNotData = errors.New("not a data packet")
)

// Config configures a Reassembler.
type Config struct {
	Timeout    time.Duration
	MaxPending int
	Logger     logrus.FieldLogger
}

// Message is a fully reassembled application message.
type Message struct {
	Sender    uuid.UUID
	ID        uint64
	Payload   []byte
	Fragments int
}

type key struct {
	sender uuid.UUID
	id     uint64
}

// PendingMessage is an incomplete message waiting for more fragments.
type PendingMessage struct {
	Sender    uuid.UUID
	MessageID uint64
	Total     uint16
	Received  map[uint16][]byte
	FirstSeen time.Time
	Bytes     int
}

// Complete reports whether every fragment has arrived.
func (p *PendingMessage) Complete() bool {
	return len(p.Received) == int(p.Total)
}

func (p *PendingMessage) assemble() []byte {
	out := make([]byte, 0, p.Bytes)
	for i := uint16(0); i < p.Total; i++ {
		out = append(out, p.Received[i]...)
	}
	return out
}

// Expired describes a pending message dropped by Expire.
type Expired struct {
	Sender    uuid.UUID
	MessageID uint64
	Received  int
	Total     uint16
	Age       time.Duration
}

// Reassembler accumulates fragments into messages.
type Reassembler struct {
	timeout    time.Duration
	maxPending int
	pending    map[key]*PendingMessage
	log        logrus.FieldLogger
}

// New creates a Reassembler.
func New(cfg Config) *Reassembler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &Reassembler{
		timeout:    cfg.Timeout,
		maxPending: cfg.MaxPending,
		pending:    make(map[key]*PendingMessage),
		log:        cfg.Logger.WithField("component", "reassembly"),
	}
}

// Accept adds a DATA fragment. It returns the message once the last missing
// fragment arrives, and (nil, nil) while the message is still incomplete or the
// fragment is a duplicate.
func (r *Reassembler) Accept(p *transport.Packet, now time.Time) (*Message, error) {
	if p.Kind != transport.KindData {
		return nil, fmt.Errorf("%w: %s", ErrNotData, p.Kind)
	}

	if p.FragmentCount == 1 {
		return &Message{
			Sender:    p.Sender,
			ID:        p.MessageID,
			Payload:   p.Payload,
			Fragments: 1,
		}, nil
	}

	k := key{sender: p.Sender, id: p.MessageID}
	pm, ok := r.pending[k]
	if !ok {
		if len(r.pending) >= r.maxPending {
			return nil, fmt.Errorf("%w: %d buffered", ErrTooManyPending, len(r.pending))
		}
		pm = &PendingMessage{
			Sender:    p.Sender,
			MessageID: p.MessageID,
			Total:     p.FragmentCount,
			Received:  make(map[uint16][]byte),
			FirstSeen: now,
		}
		r.pending[k] = pm
	}

	if p.FragmentCount != pm.Total {
		return nil, fmt.Errorf("%w: message %d from %s has %d fragments, got fragment claiming %d",
			ErrInconsistentFragment, p.MessageID, p.Sender, pm.Total, p.FragmentCount)
	}

	if _, dup := pm.Received[p.FragmentIndex]; dup {
		r.log.WithFields(logrus.Fields{
			"sender":     p.Sender.String(),
			"message_id": p.MessageID,
			"fragment":   p.FragmentIndex,
		}).Debug("Ignoring duplicate fragment")
		return nil, nil
	}

	pm.Received[p.FragmentIndex] = p.Payload
	pm.Bytes += len(p.Payload)

	if !pm.Complete() {
		return nil, nil
	}

	delete(r.pending, k)
	return &Message{
		Sender:    pm.Sender,
		ID:        pm.MessageID,
		Payload:   pm.assemble(),
		Fragments: int(pm.Total),
	}, nil
}

// Expire drops every pending message at least Timeout old and returns what
// was dropped, oldest first.
func (r *Reassembler) Expire(now time.Time) []Expired {
	var expired []Expired
	for k, pm := range r.pending {
		age := now.Sub(pm.FirstSeen)
		if age < r.timeout {
			continue
		}
		delete(r.pending, k)
		expired = append(expired, Expired{
			Sender:    pm.Sender,
			MessageID: pm.MessageID,
			Received:  len(pm.Received),
			Total:     pm.Total,
			Age:       age,
		})
	}

	sort.Slice(expired, func(i, j int) bool {
		if expired[i].Age != expired[j].Age {
			return expired[i].Age > expired[j].Age
		}
		return expired[i].MessageID < expired[j].MessageID
	})

	for _, e := range expired {
		r.log.WithFields(logrus.Fields{
			"sender":     e.Sender.String(),
			"message_id": e.MessageID,
			"received":   e.Received,
			"total":      e.Total,
			"age":        e.Age.String(),
		}).Warn("Dropping incomplete message after reassembly timeout")
	}
	return expired
}

// DropSender discards every pending message from sender and returns how many
// were dropped.
func (r *Reassembler) DropSender(sender uuid.UUID) int {
	dropped := 0
	for k := range r.pending {
		if k.sender == sender {
			delete(r.pending, k)
			dropped++
		}
	}
	return dropped
}

// Pending returns the number of incomplete messages held.
func (r *Reassembler) Pending() int {
	return len(r.pending)
}
