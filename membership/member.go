package membership

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// State is the liveness state of a member record.
type State uint8

const (
	// StateActive means the member has been heard from within the timeout.
	StateActive State = iota + 1
	// StateDeparted means the member left or timed out. It is terminal.
	StateDeparted
)

// String returns a readable state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateDeparted:
		return "DEPARTED"
	default:
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
}

// Member is one participant of a group as seen by the local process.
type Member struct {
	ID          uuid.UUID
	Addr        net.Addr
	JoinedAt    time.Time
	LastSeen    time.Time
	State       State
	Incarnation uint64
}

// ActiveAt reports whether the member is still live at now for the given timeout.
func (m Member) ActiveAt(now time.Time, timeout time.Duration) bool {
	return m.State == StateActive && now.Sub(m.LastSeen) < timeout
}

// EventType classifies a membership change.
type EventType uint8

const (
	// EventJoined is emitted when a new logical member is first observed.
	EventJoined EventType = iota + 1
	// EventLeft is emitted when a member announces its departure.
	EventLeft
	// EventTimedOut is emitted when a member is evicted by a sweep.
	EventTimedOut
)

// String returns a readable event name.
func (t EventType) String() string {
	switch t {
	case EventJoined:
		return "joined"
	case EventLeft:
		return "left"
	case EventTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("event(%d)", uint8(t))
	}
}

// Event describes one membership change together with the resulting set of
// active members.
type Event struct {
	Type    EventType
	Member  Member
	Members []Member
	At      time.Time
}
