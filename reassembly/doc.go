// Package reassembly rebuilds application messages from DATA fragments.
//
// A Reassembler buffers fragments per (sender, message id) until every index
// 0..count-1 has arrived, then concatenates them in index order. Single
// fragment messages are returned straight away without touching the buffer.
//
// Delivery is best effort. A message whose fragments do not all arrive within
// the reassembly timeout is dropped by Expire and logged at warn level; the
// loss is never reported to the sender.
//
//	r := reassembly.New(reassembly.Config{Timeout: 30 * time.Second})
//	msg, err := r.Accept(pkt, time.Now())
//	if err == nil && msg != nil {
//	    deliver(msg)
//	}
//
// A Reassembler is not safe for concurrent use; each Group drives its own from
// a single goroutine.
package reassembly
