package group

import (
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/langroup/membership"
)

// Message is a complete message delivered to subscribers.
type Message struct {
	Sender    uuid.UUID
	ID        uint64
	Payload   []byte
	Fragments int
	Received  time.Time
}

// Handler receives group traffic. Both methods run on the group's dispatch
// goroutine, one call at a time, in the order events were detected. A
// handler must not block for long and must not call Leave.
type Handler interface {
	HandleMessage(msg Message)
	HandleMembership(ev membership.Event)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	OnMessage    func(msg Message)
	OnMembership func(ev membership.Event)
}

// HandleMessage calls h.OnMessage if set.
func (h HandlerFuncs) HandleMessage(msg Message) {
	if h.OnMessage != nil {
		h.OnMessage(msg)
	}
}

// HandleMembership calls h.OnMembership if set.
func (h HandlerFuncs) HandleMembership(ev membership.Event) {
	if h.OnMembership != nil {
		h.OnMembership(ev)
	}
}

// SubscriptionID identifies a subscribed Handler.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}
