// Package sequence classifies per-sender sequence numbers and applies the
// group's gap policy.
//
// Every DATA fragment a member sends consumes the next value of that member's
// sequence counter. Receivers track, per sender, the next sequence they expect
// and classify each arriving packet as one of:
//
//	InOrder    seq is exactly the next expected value (or the first seen)
//	Gap        seq skips ahead; Missing names the skipped range
//	Duplicate  seq was already delivered or is already held back
//	Stale      seq lies in a range that was given up as lost
//
// Two policies decide what happens on a gap. Tolerate, the default, delivers
// the packet immediately and records the skipped range as lost. Retransmit
// holds the packet back, asks for the missing range exactly once, and waits up
// to GapWait for it to be filled before accepting the loss and releasing the
// held packets in order. Holdback is bounded by MaxHoldback; overflowing it
// forces the oldest gap to be accepted.
//
// A Sequencer is not safe for concurrent use.
package sequence
