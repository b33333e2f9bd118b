package group

import "fmt"

// State is the lifecycle state of a Group.
type State int32

const (
	// StateJoining is the state of a Group that has not finished joining.
	StateJoining State = iota
	// StateJoined means the group is sending and receiving.
	StateJoined
	// StateLeaving means Leave is in progress.
	StateLeaving
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "JOINING"
	case StateJoined:
		return "JOINED"
	case StateLeaving:
		return "LEAVING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}
