package group

import "errors"

var (
	// ErrNotJoined is returned by Send outside the JOINED state
	ErrNotJoined = errors.New("group not joined")

	// ErrAlreadyJoined is returned by a second call to Join
	ErrAlreadyJoined = errors.New("group already joined")

	// ErrGroupClosed is returned by Join after Leave
	ErrGroupClosed = errors.New("group closed")
)
