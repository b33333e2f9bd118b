// Package simnet provides an in-memory multicast network for deterministic
// testing of groups without binding real sockets.
//
// # Overview
//
// A Network is a shared bus. Each call to NewTransport attaches a Transport
// with its own synthetic address; Send on any transport delivers a copy of the
// datagram to every attached transport (including the sender when loopback is
// enabled), and SendTo delivers to exactly one. Transport implements
// transport.Transport, so a Group can run on it unchanged:
//
//	net := simnet.NewNetwork()
//	opts := group.NewOptions()
//	opts.Transport = net.NewTransport()
//	g, err := group.Join(opts)
//
// # Loss Injection
//
// SetDropFunc installs a predicate consulted for every delivery. Returning
// true drops that copy, which lets tests lose a specific sequence number on
// the way to a specific receiver.
//
// # Delivery Logs
//
// Every attempted delivery is appended to the network's log as a
// DeliveryRecord. Use GetDeliveryLog to inspect it and ClearDeliveryLog to
// reset between steps.
//
// # Thread Safety
//
// All methods on Network and Transport are safe for concurrent use.
package simnet
