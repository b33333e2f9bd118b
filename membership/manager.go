package membership

import (
	"bytes"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout is used when Config.Timeout is not positive.
const DefaultTimeout = 5 * time.Second

// Config configures a Manager.
type Config struct {
	// Timeout is how long a member may stay silent before it is evicted.
	Timeout time.Duration
	// Logger receives membership change logs. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// Manager maintains the member table of one group.
type Manager struct {
	mu              sync.RWMutex
	timeout         time.Duration
	members         map[uuid.UUID]*Member
	nextIncarnation uint64
	log             logrus.FieldLogger
}

// NewManager creates an empty member table.
func NewManager(cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &Manager{
		timeout: cfg.Timeout,
		members: make(map[uuid.UUID]*Member),
		log:     cfg.Logger.WithField("component", "membership"),
	}
}

// Timeout returns the configured member timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Observe records traffic from id. A known, live member is refreshed without an
// event. An unknown member, or a member whose record expired before the next
// sweep ran, yields a fresh record and an EventJoined; in the latter case an
// EventTimedOut for the old record precedes it.
func (m *Manager) Observe(id uuid.UUID, addr net.Addr, now time.Time) (Member, []Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event

	if rec, ok := m.members[id]; ok {
		if rec.ActiveAt(now, m.timeout) {
			rec.LastSeen = now
			if addr != nil {
				rec.Addr = addr
			}
			return *rec, nil
		}
		events = append(events, m.departLocked(rec, EventTimedOut, now))
	}

	m.nextIncarnation++
	rec := &Member{
		ID:          id,
		Addr:        addr,
		JoinedAt:    now,
		LastSeen:    now,
		State:       StateActive,
		Incarnation: m.nextIncarnation,
	}
	m.members[id] = rec

	m.log.WithFields(logrus.Fields{
		"member":      id.String(),
		"addr":        addrString(addr),
		"incarnation": rec.Incarnation,
		"members":     len(m.members),
	}).Info("Member joined")

	events = append(events, Event{
		Type:    EventJoined,
		Member:  *rec,
		Members: m.snapshotLocked(),
		At:      now,
	})
	return *rec, events
}

// Leave marks id as departed after an explicit LEAVE. It returns nil if id is
// not a known member.
func (m *Manager) Leave(id uuid.UUID, now time.Time) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.members[id]
	if !ok {
		return nil
	}

	ev := m.departLocked(rec, EventLeft, now)
	return &ev
}

// Sweep evicts every member whose last packet is at least Timeout old and
// returns one EventTimedOut per eviction, oldest first.
func (m *Manager) Sweep(now time.Time) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []*Member
	for _, rec := range m.members {
		if !rec.ActiveAt(now, m.timeout) {
			stale = append(stale, rec)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	sort.Slice(stale, func(i, j int) bool {
		if !stale[i].LastSeen.Equal(stale[j].LastSeen) {
			return stale[i].LastSeen.Before(stale[j].LastSeen)
		}
		return bytes.Compare(stale[i].ID[:], stale[j].ID[:]) < 0
	})

	events := make([]Event, 0, len(stale))
	for _, rec := range stale {
		events = append(events, m.departLocked(rec, EventTimedOut, now))
	}
	return events
}

// departLocked removes rec from the table and builds the departure event.
func (m *Manager) departLocked(rec *Member, typ EventType, now time.Time) Event {
	delete(m.members, rec.ID)

	departed := *rec
	departed.State = StateDeparted

	m.log.WithFields(logrus.Fields{
		"member":      rec.ID.String(),
		"reason":      typ.String(),
		"silent_for":  now.Sub(rec.LastSeen).String(),
		"incarnation": rec.Incarnation,
		"members":     len(m.members),
	}).Info("Member departed")

	return Event{
		Type:    typ,
		Member:  departed,
		Members: m.snapshotLocked(),
		At:      now,
	}
}

// Get returns the record for id if it is a current member.
func (m *Manager) Get(id uuid.UUID) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.members[id]
	if !ok {
		return Member{}, false
	}
	return *rec, true
}

// Members returns the current members sorted by id.
func (m *Manager) Members() []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Len returns the number of current members.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

func (m *Manager) snapshotLocked() []Member {
	out := make([]Member, 0, len(m.members))
	for _, rec := range m.members {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
