// Package membership tracks which processes currently belong to a group.
//
// A Manager owns the member table of one Group. Members are created the first
// time a packet from an unknown sender is observed, refreshed by every later
// packet, and removed when they send LEAVE or stay silent for the configured
// timeout.
//
// # Lifecycle
//
// Each member record moves through
//
//	ABSENT -> ACTIVE -> DEPARTED
//
// DEPARTED is terminal for that record. If a departed id shows up again it is
// treated as a new logical member: a fresh record with a new incarnation
// number is created and an EventJoined is emitted, so that per-sender state
// kept elsewhere (sequence numbers, reassembly buffers) can be reset.
//
// # Events
//
// Observe, Leave and Sweep return Event values describing membership changes.
// Every event carries a snapshot of the ACTIVE members taken right after the
// change, which is what subscribers see as a member refresh:
//
//	mgr := membership.NewManager(membership.Config{Timeout: 5 * time.Second})
//	if _, ev := mgr.Observe(id, addr, time.Now()); ev != nil {
//	    fmt.Printf("%s joined, %d members\n", ev.Member.ID, len(ev.Members))
//	}
//
// The Manager never looks at the wall clock itself; callers pass the current
// time in, which keeps timeout handling deterministic under test.
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use.
package membership
