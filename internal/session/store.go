// Package session owns the per-person session lifecycle: created lazily
// on the first ENTRY crossing, closed by an EXIT crossing or by the
// inactivity sweep, and kept forever as the run's historical record.
package session

import (
	"fmt"
	"sync"
	"time"
)

// Event log markers. Repeats are allowed; the log is an append-only
// trace of what the person did, not a state machine.
const (
	EventEntry    = "ENTRY"
	EventExit     = "EXIT"
	EventAutoExit = "AUTO_EXIT"
)

// DefaultInactivityTimeout closes a session when its person has not been
// seen in the frame for this long.
const DefaultInactivityTimeout = 5 * time.Second

// ZoneVisit records one visit to a zone. ExitTime is nil while the
// visit is open; at most one visit per (session, zone) is open at once.
type ZoneVisit struct {
	ZoneName  string     `json:"zone_name"`
	EntryTime time.Time  `json:"entry_time"`
	ExitTime  *time.Time `json:"exit_time"`
}

// Session is the per-person presence record. EntryTime is nil until the
// first ENTRY; ExitTime is nil while the session is open and, once set,
// is never cleared — a later ENTRY for the same person only appends to
// the event log of this same record.
type Session struct {
	SessionID    string      `json:"session_id"`
	EntryTime    *time.Time  `json:"entry_time"`
	ExitTime     *time.Time  `json:"exit_time"`
	Events       []string    `json:"events"`
	LastSeenTime *time.Time  `json:"last_seen_time"`
	ZoneVisits   []ZoneVisit `json:"zone_visits"`
}

// Clone returns a deep copy safe to publish outside the worker.
func (s *Session) Clone() *Session {
	out := &Session{
		SessionID:    s.SessionID,
		EntryTime:    copyTime(s.EntryTime),
		ExitTime:     copyTime(s.ExitTime),
		LastSeenTime: copyTime(s.LastSeenTime),
		Events:       append([]string(nil), s.Events...),
	}
	out.ZoneVisits = make([]ZoneVisit, len(s.ZoneVisits))
	for i, zv := range s.ZoneVisits {
		out.ZoneVisits[i] = ZoneVisit{
			ZoneName:  zv.ZoneName,
			EntryTime: zv.EntryTime,
			ExitTime:  copyTime(zv.ExitTime),
		}
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Closed reports whether the session has an exit time set.
func (s *Session) Closed() bool { return s.ExitTime != nil }

// ClosedSink receives a snapshot of each session when it transitions to
// closed (EXIT or AUTO_EXIT). Used to archive finished visits; the
// store never reads anything back. Runs with the store lock held, so
// the sink must not call back into the store.
type ClosedSink func(personID int, s *Session)

// Store owns all sessions for one run, keyed by global person ID.
// Only the pipeline worker mutates it, with one consistent "now" per
// frame; the lock exists so the HTTP surface can read concurrently.
type Store struct {
	mu sync.RWMutex

	inactivityTimeout time.Duration

	nextSessionNum int
	sessions       map[int]*Session
	lastSeen       map[int]time.Time
	order          []int // person IDs in session creation order

	onClosed ClosedSink
}

// NewStore creates a session store with the given inactivity timeout;
// zero or negative selects DefaultInactivityTimeout.
func NewStore(inactivityTimeout time.Duration) *Store {
	if inactivityTimeout <= 0 {
		inactivityTimeout = DefaultInactivityTimeout
	}
	return &Store{
		inactivityTimeout: inactivityTimeout,
		nextSessionNum:    1,
		sessions:          make(map[int]*Session),
		lastSeen:          make(map[int]time.Time),
	}
}

// SetInactivityTimeout updates the timeout between frames.
func (st *Store) SetInactivityTimeout(d time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if d > 0 {
		st.inactivityTimeout = d
	}
}

// SetClosedSink installs the archive hook. Pass nil to disable.
func (st *Store) SetClosedSink(sink ClosedSink) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onClosed = sink
}

// Touch records that the person was observed in a frame at now,
// independent of any entry/exit event. This timestamp alone drives the
// inactivity sweep.
func (st *Store) Touch(personID int, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastSeen[personID] = now
	if s, ok := st.sessions[personID]; ok && !s.Closed() {
		s.LastSeenTime = copyTime(&now)
	}
}

// OnEntry handles an ENTRY crossing. The first entry for a person
// creates their session with the next human-readable sequential ID;
// every entry appends to the log and refreshes last-seen.
func (st *Store) OnEntry(personID int, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[personID]
	if !ok {
		s = &Session{SessionID: fmt.Sprintf("CUST_%03d", st.nextSessionNum)}
		st.nextSessionNum++
		st.sessions[personID] = s
		st.order = append(st.order, personID)
	}
	if s.EntryTime == nil {
		s.EntryTime = copyTime(&now)
	}
	s.LastSeenTime = copyTime(&now)
	st.lastSeen[personID] = now
	s.Events = append(s.Events, EventEntry)
}

// OnExit handles an EXIT crossing. A person with no session is a no-op
// — exiting without ever entering creates nothing.
func (st *Store) OnExit(personID int, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[personID]
	if !ok {
		return
	}
	if s.ExitTime == nil {
		s.ExitTime = copyTime(&now)
		st.notifyClosed(personID, s)
	}
	s.Events = append(s.Events, EventExit)
}

// OnZoneEntry opens a zone visit. Idempotent while a visit to that zone
// is already open; a no-op for a person with no session.
func (st *Store) OnZoneEntry(personID int, zoneName string, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[personID]
	if !ok {
		return
	}
	for _, zv := range s.ZoneVisits {
		if zv.ZoneName == zoneName && zv.ExitTime == nil {
			return
		}
	}
	s.ZoneVisits = append(s.ZoneVisits, ZoneVisit{ZoneName: zoneName, EntryTime: now})
}

// OnZoneExit closes the most recently opened still-open visit to the
// zone (last-in-first-out); a no-op when none is open.
func (st *Store) OnZoneExit(personID int, zoneName string, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[personID]
	if !ok {
		return
	}
	for i := len(s.ZoneVisits) - 1; i >= 0; i-- {
		zv := &s.ZoneVisits[i]
		if zv.ZoneName == zoneName && zv.ExitTime == nil {
			zv.ExitTime = copyTime(&now)
			return
		}
	}
}

// SessionID returns the person's session ID, or "" when they have not
// entered yet.
func (st *Store) SessionID(personID int) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if s, ok := st.sessions[personID]; ok {
		return s.SessionID
	}
	return ""
}

// MarkInactiveIfNotSeen auto-closes every open session whose person has
// not been observed within the inactivity timeout. The exit time is the
// last-observed timestamp, not now — the person left the field of view
// back then, we only notice now. Entry time stands in when the person
// was somehow never touched.
func (st *Store) MarkInactiveIfNotSeen(now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.markInactive(now)
}

func (st *Store) markInactive(now time.Time) {
	for _, personID := range st.order {
		s := st.sessions[personID]
		if s.Closed() {
			continue
		}
		lastSeen, ok := st.lastSeen[personID]
		if !ok {
			if s.EntryTime != nil {
				lastSeen = *s.EntryTime
			} else if s.LastSeenTime != nil {
				lastSeen = *s.LastSeenTime
			} else {
				continue
			}
		}
		if now.Sub(lastSeen) > st.inactivityTimeout {
			s.ExitTime = copyTime(&lastSeen)
			s.Events = append(s.Events, EventAutoExit)
			st.notifyClosed(personID, s)
		}
	}
}

// ActiveSessions runs the inactivity sweep and returns the sessions of
// people considered currently present: entered, not exited, and seen
// within the timeout window. Keyed by person ID; values are deep copies.
func (st *Store) ActiveSessions(now time.Time) map[int]*Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.markInactive(now)

	out := make(map[int]*Session)
	for _, personID := range st.order {
		s := st.sessions[personID]
		if s.EntryTime == nil || s.Closed() {
			continue
		}
		if lastSeen, ok := st.lastSeen[personID]; ok && now.Sub(lastSeen) > st.inactivityTimeout {
			continue
		}
		out[personID] = s.Clone()
	}
	return out
}

// AllSessions returns every session ever created this run, in creation
// order, as deep copies.
func (st *Store) AllSessions() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, 0, len(st.order))
	for _, personID := range st.order {
		out = append(out, st.sessions[personID].Clone())
	}
	return out
}

// PersonIDs returns the person IDs with sessions, in creation order.
func (st *Store) PersonIDs() []int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]int(nil), st.order...)
}

func (st *Store) notifyClosed(personID int, s *Session) {
	if st.onClosed != nil {
		st.onClosed(personID, s.Clone())
	}
}
