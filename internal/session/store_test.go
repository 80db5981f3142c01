package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func TestFirstEntryCreatesSequentialSessionIDs(t *testing.T) {
	st := NewStore(0)

	st.OnEntry(7, at(0))
	st.OnEntry(12, at(time.Second))

	assert.Equal(t, "CUST_001", st.SessionID(7))
	assert.Equal(t, "CUST_002", st.SessionID(12))

	all := st.AllSessions()
	require.Len(t, all, 2)
	assert.Equal(t, "CUST_001", all[0].SessionID)
	require.NotNil(t, all[0].EntryTime)
	assert.Equal(t, at(0), *all[0].EntryTime)
	assert.Equal(t, []string{EventEntry}, all[0].Events)
}

func TestRepeatEntryAppendsToSameSession(t *testing.T) {
	st := NewStore(0)

	st.OnEntry(1, at(0))
	st.OnEntry(1, at(2*time.Second))

	all := st.AllSessions()
	require.Len(t, all, 1)
	assert.Equal(t, []string{EventEntry, EventEntry}, all[0].Events)
	// entry time stays at the first entry
	assert.Equal(t, at(0), *all[0].EntryTime)
}

func TestExitWithoutSessionIsNoOp(t *testing.T) {
	st := NewStore(0)

	st.OnExit(99, at(0))

	assert.Empty(t, st.AllSessions())
	assert.Equal(t, "", st.SessionID(99))
}

func TestExitClosesSession(t *testing.T) {
	st := NewStore(0)

	st.OnEntry(1, at(0))
	st.Touch(1, at(time.Second))
	st.OnExit(1, at(2*time.Second))

	all := st.AllSessions()
	require.Len(t, all, 1)
	require.NotNil(t, all[0].ExitTime)
	assert.Equal(t, at(2*time.Second), *all[0].ExitTime)
	assert.Equal(t, []string{EventEntry, EventExit}, all[0].Events)

	assert.Empty(t, st.ActiveSessions(at(2*time.Second)))
}

func TestExitTimeIsNeverOverwritten(t *testing.T) {
	st := NewStore(0)

	st.OnEntry(1, at(0))
	st.OnExit(1, at(time.Second))
	st.OnExit(1, at(5*time.Second))

	all := st.AllSessions()
	assert.Equal(t, at(time.Second), *all[0].ExitTime)
	assert.Equal(t, []string{EventEntry, EventExit, EventExit}, all[0].Events)
}

func TestInactivityAutoExitUsesLastSeenTime(t *testing.T) {
	st := NewStore(5 * time.Second)

	st.OnEntry(1, at(0))
	st.Touch(1, at(2*time.Second))

	// idle for 6s: closed with exit_time = last seen, not sweep time
	st.MarkInactiveIfNotSeen(at(8 * time.Second))

	all := st.AllSessions()
	require.NotNil(t, all[0].ExitTime)
	assert.Equal(t, at(2*time.Second), *all[0].ExitTime)
	assert.Equal(t, []string{EventEntry, EventAutoExit}, all[0].Events)
}

func TestSweepSparesRecentlySeen(t *testing.T) {
	st := NewStore(5 * time.Second)

	st.OnEntry(1, at(0))
	st.Touch(1, at(4*time.Second))

	st.MarkInactiveIfNotSeen(at(8 * time.Second))

	active := st.ActiveSessions(at(8 * time.Second))
	require.Contains(t, active, 1)
	assert.Nil(t, active[1].ExitTime)
}

func TestActiveSessionsRunsSweep(t *testing.T) {
	st := NewStore(5 * time.Second)

	st.OnEntry(1, at(0))
	st.OnEntry(2, at(0))
	st.Touch(2, at(9*time.Second))

	active := st.ActiveSessions(at(10 * time.Second))
	assert.NotContains(t, active, 1)
	require.Contains(t, active, 2)

	// the sweep it ran closed person 1 for good
	all := st.AllSessions()
	require.NotNil(t, all[0].ExitTime)
	assert.Equal(t, at(0), *all[0].ExitTime)
}

func TestZoneVisitIdempotentWhileOpen(t *testing.T) {
	st := NewStore(0)

	st.OnEntry(1, at(0))
	st.OnZoneEntry(1, "shelf_a", at(time.Second))
	st.OnZoneEntry(1, "shelf_a", at(2*time.Second))

	all := st.AllSessions()
	require.Len(t, all[0].ZoneVisits, 1)
	assert.Equal(t, at(time.Second), all[0].ZoneVisits[0].EntryTime)
}

func TestZoneExitClosesMostRecentOpenVisit(t *testing.T) {
	st := NewStore(0)

	st.OnEntry(1, at(0))
	st.OnZoneEntry(1, "shelf_a", at(time.Second))
	st.OnZoneExit(1, "shelf_a", at(3*time.Second))
	st.OnZoneEntry(1, "shelf_a", at(5*time.Second))
	st.OnZoneExit(1, "shelf_a", at(6*time.Second))

	all := st.AllSessions()
	require.Len(t, all[0].ZoneVisits, 2)
	assert.Equal(t, at(3*time.Second), *all[0].ZoneVisits[0].ExitTime)
	assert.Equal(t, at(6*time.Second), *all[0].ZoneVisits[1].ExitTime)
}

func TestZoneExitWithoutOpenVisitIsNoOp(t *testing.T) {
	st := NewStore(0)

	st.OnEntry(1, at(0))
	st.OnZoneExit(1, "shelf_a", at(time.Second))

	assert.Empty(t, st.AllSessions()[0].ZoneVisits)
}

func TestZoneEventsWithoutSessionAreNoOps(t *testing.T) {
	st := NewStore(0)

	st.OnZoneEntry(5, "shelf_a", at(0))
	st.OnZoneExit(5, "shelf_a", at(time.Second))

	assert.Empty(t, st.AllSessions())
}

func TestClosedSinkFiresOncePerSession(t *testing.T) {
	st := NewStore(5 * time.Second)

	var closed []string
	st.SetClosedSink(func(personID int, s *Session) {
		closed = append(closed, s.SessionID)
	})

	st.OnEntry(1, at(0))
	st.OnEntry(2, at(0))
	st.OnExit(1, at(time.Second))
	st.OnExit(1, at(2*time.Second)) // already closed
	st.MarkInactiveIfNotSeen(at(10 * time.Second))
	st.MarkInactiveIfNotSeen(at(11 * time.Second))

	assert.Equal(t, []string{"CUST_001", "CUST_002"}, closed)
}

func TestSinkSnapshotIsDetached(t *testing.T) {
	st := NewStore(0)

	var got *Session
	st.SetClosedSink(func(_ int, s *Session) { got = s })

	st.OnEntry(1, at(0))
	st.OnZoneEntry(1, "door", at(time.Second))
	st.OnExit(1, at(2*time.Second))
	st.OnExit(1, at(9*time.Second))

	require.NotNil(t, got)
	// the extra EXIT logged after closing must not show in the snapshot
	assert.Equal(t, []string{EventEntry, EventExit}, got.Events)
}

func TestReturnedSessionsAreCopies(t *testing.T) {
	st := NewStore(0)

	st.OnEntry(1, at(0))
	all := st.AllSessions()
	all[0].Events = append(all[0].Events, "SCRIBBLE")
	all[0].SessionID = "CUST_999"

	fresh := st.AllSessions()
	assert.Equal(t, "CUST_001", fresh[0].SessionID)
	assert.Equal(t, []string{EventEntry}, fresh[0].Events)
}
