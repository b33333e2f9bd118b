// Package group implements best-effort group communication over a shared
// multicast channel, with membership tracking, fragmentation and per-sender
// ordering.
//
// # Overview
//
// A Group is one member of a named group. Members discover each other purely
// from traffic: every member multicasts a HEARTBEAT at a fixed interval, and
// any packet from an unknown sender makes it a member. A member that stays
// silent for the member timeout, or that multicasts LEAVE, is removed.
//
// Several groups can share one address and port. Each packet carries the
// group's protocol id and a magic number derived from the group name, and
// packets that do not match both are discarded before anything else looks at
// them.
//
// # Joining
//
//	opts := group.NewOptions()
//	opts.Group = "inventory"
//	opts.Address = "239.255.42.99"
//	opts.Port = 45588
//
//	g, err := group.Join(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer g.Leave()
//
// Options may also be read from YAML with LoadOptions.
//
// # Messaging
//
// Send accepts payloads of any size up to limits.MaxMessageSize; larger
// payloads are split into fragments that consume consecutive sequence
// numbers. Receivers reassemble them and hand complete messages to every
// subscribed Handler:
//
//	id := g.Subscribe(group.HandlerFuncs{
//	    OnMessage: func(msg group.Message) {
//	        fmt.Printf("%s: %s\n", msg.Sender, msg.Payload)
//	    },
//	    OnMembership: func(ev membership.Event) {
//	        fmt.Printf("%s %s, %d members\n", ev.Member.ID, ev.Type, len(ev.Members))
//	    },
//	})
//	defer g.Unsubscribe(id)
//
//	err = g.Send([]byte("hello"))
//
// Handlers run on a single dispatch goroutine, so they observe messages and
// membership changes in the order they were detected. A handler must not call
// Leave.
//
// # Gap Policy
//
// With sequence.Tolerate (the default) a missing sequence number is logged
// and forgotten, and later packets are delivered immediately. With
// sequence.Retransmit the receiver holds later packets back, unicasts a single
// RETRANSMIT_REQUEST to the sender and waits up to GapWait; the sender
// answers by multicasting the frames it still holds in its retransmit
// history.
//
// Requests travel by unicast to the port the whole group shares. When several
// members on one Linux host bind that port with SO_REUSEPORT, the kernel may
// hand a request to a sibling socket; that member ignores it because the
// request names another target, and the requester falls back to accepting
// the gap after GapWait. Between members on one host retransmission is
// therefore less dependable than between hosts.
//
// # Testing
//
// Set Options.Transport to a simnet transport to run groups in memory, and
// Options.TimeProvider to control the clock used for timeouts.
package group
