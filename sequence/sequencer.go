package sequence

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/langroup/transport"
)

const (
	// DefaultGapWait is how long a gap may stay open under Retransmit.
	DefaultGapWait = 500 * time.Millisecond

	// DefaultMaxHoldback bounds the packets held back per sender.
	DefaultMaxHoldback = 1024
)

// Verdict is the classification of an arriving sequence number.
type Verdict int

const (
	InOrder Verdict = iota
	Gap
	Duplicate
	Stale
)

func (v Verdict) String() string {
	switch v {
	case InOrder:
		return "in_order"
	case Gap:
		return "gap"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Range is an inclusive range of sequence numbers.
type Range struct {
	From uint64
	To   uint64
}

// Count returns the number of sequence numbers in r.
func (r Range) Count() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// Contains reports whether seq lies in r.
func (r Range) Contains(seq uint64) bool {
	return seq >= r.From && seq <= r.To
}

func (r Range) String() string {
	if r.From == r.To {
		return fmt.Sprintf("[%d]", r.From)
	}
	return fmt.Sprintf("[%d..%d]", r.From, r.To)
}

// Observation is the pure classification of a sequence number.
type Observation struct {
	Verdict Verdict
	// Missing is set for Gap: the sequence numbers between the next expected
	// value and the observed one.
	Missing Range
}

// Result is the outcome of admitting a packet.
type Result struct {
	Verdict Verdict
	Missing Range
	// Deliver holds the packets now ready for the application, in sequence order.
	Deliver []*transport.Packet
	// Request is set when a new gap should be requested from the sender.
	Request *Range
	// Lost lists ranges given up on while admitting this packet.
	Lost []Range
}

// Config configures a Sequencer.
type Config struct {
	Policy      Policy
	GapWait     time.Duration
	MaxHoldback int
}

type openGap struct {
	Range
	since time.Time
}

type senderState struct {
	next        uint64
	highestSeen uint64
	held        map[uint64]*transport.Packet
	gaps        []openGap
	lost        []Range
}

func (st *senderState) isLost(seq uint64) bool {
	for _, r := range st.lost {
		if r.Contains(seq) {
			return true
		}
	}
	return false
}

// markLost records seq as lost, merging it into the last range when adjacent.
func (st *senderState) markLost(r Range) {
	if n := len(st.lost); n > 0 && st.lost[n-1].To+1 == r.From {
		st.lost[n-1].To = r.To
		return
	}
	st.lost = append(st.lost, r)
	if len(st.lost) > maxLostRanges {
		st.lost = st.lost[len(st.lost)-maxLostRanges:]
	}
}

// maxLostRanges bounds the lost-range memory kept per sender.
const maxLostRanges = 64

// Sequencer tracks sequence state for every sender of one group.
type Sequencer struct {
	policy      Policy
	gapWait     time.Duration
	maxHoldback int
	senders     map[uuid.UUID]*senderState
}

// New creates a Sequencer.
func New(cfg Config) *Sequencer {
	if cfg.GapWait <= 0 {
		cfg.GapWait = DefaultGapWait
	}
	if cfg.MaxHoldback <= 0 {
		cfg.MaxHoldback = DefaultMaxHoldback
	}
	return &Sequencer{
		policy:      cfg.Policy,
		gapWait:     cfg.GapWait,
		maxHoldback: cfg.MaxHoldback,
		senders:     make(map[uuid.UUID]*senderState),
	}
}

// Policy returns the configured gap policy.
func (s *Sequencer) Policy() Policy {
	return s.policy
}

// Observe classifies seq for sender without changing any state.
func (s *Sequencer) Observe(sender uuid.UUID, seq uint64) Observation {
	st, ok := s.senders[sender]
	if !ok {
		return Observation{Verdict: InOrder}
	}
	return classify(st, seq)
}

func classify(st *senderState, seq uint64) Observation {
	switch {
	case seq == st.next:
		return Observation{Verdict: InOrder}
	case seq < st.next:
		if st.isLost(seq) {
			return Observation{Verdict: Stale}
		}
		return Observation{Verdict: Duplicate}
	default:
		if _, held := st.held[seq]; held {
			return Observation{Verdict: Duplicate}
		}
		return Observation{Verdict: Gap, Missing: Range{From: st.next, To: seq - 1}}
	}
}

// Admit classifies p and applies the gap policy.
func (s *Sequencer) Admit(p *transport.Packet, now time.Time) Result {
	st, ok := s.senders[p.Sender]
	if !ok {
		s.senders[p.Sender] = &senderState{
			next:        p.Sequence + 1,
			highestSeen: p.Sequence,
			held:        make(map[uint64]*transport.Packet),
		}
		return Result{Verdict: InOrder, Deliver: []*transport.Packet{p}}
	}

	obs := classify(st, p.Sequence)
	res := Result{Verdict: obs.Verdict, Missing: obs.Missing}

	switch obs.Verdict {
	case Duplicate, Stale:
		return res

	case InOrder:
		res.Deliver = append(res.Deliver, p)
		st.next++
		if p.Sequence > st.highestSeen {
			st.highestSeen = p.Sequence
		}
		res.Deliver = s.release(st, res.Deliver)
		return res
	}

	if s.policy == Tolerate {
		st.markLost(obs.Missing)
		st.next = p.Sequence + 1
		st.highestSeen = p.Sequence
		res.Deliver = append(res.Deliver, p)
		res.Lost = []Range{obs.Missing}
		return res
	}

	st.held[p.Sequence] = p
	if p.Sequence > st.highestSeen+1 {
		gap := Range{From: st.highestSeen + 1, To: p.Sequence - 1}
		st.gaps = append(st.gaps, openGap{Range: gap, since: now})
		res.Request = &gap
	}
	if p.Sequence > st.highestSeen {
		st.highestSeen = p.Sequence
	}

	for len(st.held) > s.maxHoldback && len(st.gaps) > 0 {
		res.Deliver, res.Lost = s.acceptOldestGap(st, res.Deliver, res.Lost)
	}
	return res
}

// release appends the contiguous run of held packets starting at next and
// forgets gaps that are now fully behind next.
func (s *Sequencer) release(st *senderState, out []*transport.Packet) []*transport.Packet {
	for {
		p, ok := st.held[st.next]
		if !ok {
			break
		}
		delete(st.held, st.next)
		out = append(out, p)
		st.next++
	}

	i := 0
	for i < len(st.gaps) && st.gaps[i].To < st.next {
		i++
	}
	st.gaps = st.gaps[i:]
	return out
}

// acceptOldestGap gives up on the first open gap: every sequence up to its end
// that is not held is marked lost and the held packets are released.
func (s *Sequencer) acceptOldestGap(st *senderState, out []*transport.Packet, lost []Range) ([]*transport.Packet, []Range) {
	g := st.gaps[0]
	st.gaps = st.gaps[1:]

	var run *Range
	for st.next <= g.To {
		if p, ok := st.held[st.next]; ok {
			delete(st.held, st.next)
			out = append(out, p)
			if run != nil {
				st.markLost(*run)
				lost = append(lost, *run)
				run = nil
			}
		} else if run == nil {
			run = &Range{From: st.next, To: st.next}
		} else {
			run.To = st.next
		}
		st.next++
	}
	if run != nil {
		st.markLost(*run)
		lost = append(lost, *run)
	}

	return s.release(st, out), lost
}

// Expire accepts every gap that has been open for at least GapWait and returns
// the packets released as a result along with the ranges given up on. It does
// nothing under Tolerate.
func (s *Sequencer) Expire(now time.Time) ([]*transport.Packet, []Range) {
	var (
		out  []*transport.Packet
		lost []Range
	)
	for _, st := range s.senders {
		for len(st.gaps) > 0 && now.Sub(st.gaps[0].since) >= s.gapWait {
			out, lost = s.acceptOldestGap(st, out, lost)
		}
	}
	return out, lost
}

// Held returns the number of packets currently held back for sender.
func (s *Sequencer) Held(sender uuid.UUID) int {
	st, ok := s.senders[sender]
	if !ok {
		return 0
	}
	return len(st.held)
}

// Reset forgets all state for sender, so its next packet sets a new baseline.
func (s *Sequencer) Reset(sender uuid.UUID) {
	delete(s.senders, sender)
}
