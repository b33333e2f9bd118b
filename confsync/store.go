package confsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/langroup/group"
	"github.com/opd-ai/langroup/membership"
)

// Envelope types.
const (
	TypeSync          = "SYNC"
	TypeMemberRefresh = "MEMBER_REFRESH"
)

// ErrEmptyKey is returned by Set and Delete for an empty key.
var ErrEmptyKey = errors.New("empty key")

// Group is the part of *group.Group a Store needs.
type Group interface {
	LocalID() uuid.UUID
	Send(payload []byte) error
	Subscribe(h group.Handler) group.SubscriptionID
	Unsubscribe(id group.SubscriptionID) bool
}

// Entry is one replicated value.
type Entry struct {
	Value   string    `json:"value,omitempty"`
	Version uint64    `json:"version"`
	Origin  uuid.UUID `json:"origin"`
	Deleted bool      `json:"deleted,omitempty"`
}

// newer reports whether e wins over cur.
func (e Entry) newer(cur Entry) bool {
	if e.Version != cur.Version {
		return e.Version > cur.Version
	}
	return bytes.Compare(e.Origin[:], cur.Origin[:]) > 0
}

type envelope struct {
	Type    string           `json:"type"`
	Entries map[string]Entry `json:"entries"`
}

// ChangeFunc is called after a key changed, locally or remotely.
type ChangeFunc func(key string, e Entry)

// Store is a replicated key-value map bound to one group.
type Store struct {
	g   Group
	log logrus.FieldLogger
	sub group.SubscriptionID

	mu       sync.RWMutex
	entries  map[string]Entry
	onChange ChangeFunc
}

// New creates a Store and subscribes it to g.
func New(g Group, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Store{
		g:       g,
		log:     logger.WithField("component", "confsync"),
		entries: make(map[string]Entry),
	}
	s.sub = g.Subscribe(s)
	return s
}

// Close unsubscribes the Store from its group.
func (s *Store) Close() {
	s.g.Unsubscribe(s.sub)
}

// OnChange registers f to be called for every applied change.
func (s *Store) OnChange(f ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = f
}

// Set stores value under key and multicasts the change.
func (s *Store) Set(key, value string) error {
	return s.write(key, Entry{Value: value})
}

// Delete removes key and multicasts the removal.
func (s *Store) Delete(key string) error {
	return s.write(key, Entry{Deleted: true})
}

func (s *Store) write(key string, e Entry) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	e.Version = s.entries[key].Version + 1
	e.Origin = s.g.LocalID()
	s.entries[key] = e
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(key, e)
	}
	return s.broadcast(TypeSync, map[string]Entry{key: e})
}

// Get returns the live entry for key.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.Deleted {
		return Entry{}, false
	}
	return e, true
}

// Keys returns the live keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if !e.Deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of every entry, tombstones included.
func (s *Store) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.entries))
	for k, e := range s.entries {
		out[k] = e
	}
	return out
}

func (s *Store) broadcast(typ string, entries map[string]Entry) error {
	data, err := json.Marshal(envelope{Type: typ, Entries: entries})
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	if err := s.g.Send(data); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// Apply merges entries last-writer-wins and returns the keys that changed.
func (s *Store) Apply(entries map[string]Entry) []string {
	s.mu.Lock()
	var changed []string
	for k, e := range entries {
		if k == "" {
			continue
		}
		if cur, ok := s.entries[k]; ok && !e.newer(cur) {
			continue
		}
		s.entries[k] = e
		changed = append(changed, k)
	}
	onChange := s.onChange
	sort.Strings(changed)
	applied := make([]Entry, len(changed))
	for i, k := range changed {
		applied[i] = s.entries[k]
	}
	s.mu.Unlock()

	if onChange != nil {
		for i, k := range changed {
			onChange(k, applied[i])
		}
	}
	return changed
}

// HandleMessage implements group.Handler.
func (s *Store) HandleMessage(msg group.Message) {
	var env envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		s.log.WithFields(logrus.Fields{
			"sender":     msg.Sender.String(),
			"message_id": msg.ID,
		}).WithError(err).Debug("Ignoring non-envelope message")
		return
	}

	switch env.Type {
	case TypeSync, TypeMemberRefresh:
	default:
		s.log.WithField("type", env.Type).Debug("Ignoring unknown envelope type")
		return
	}

	changed := s.Apply(env.Entries)
	if len(changed) > 0 {
		s.log.WithFields(logrus.Fields{
			"type":    env.Type,
			"sender":  msg.Sender.String(),
			"changed": len(changed),
		}).Debug("Applied remote entries")
	}
}

// HandleMembership implements group.Handler. A joining member is sent the
// full snapshot.
func (s *Store) HandleMembership(ev membership.Event) {
	if ev.Type != membership.EventJoined {
		return
	}

	snap := s.Snapshot()
	if len(snap) == 0 {
		return
	}
	if err := s.broadcast(TypeMemberRefresh, snap); err != nil {
		s.log.WithField("member", ev.Member.ID.String()).WithError(err).Warn("Failed to send member refresh")
	}
}
