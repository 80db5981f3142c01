package db

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/presence.report/internal/session"
)

// ArchivedSession is one closed session as stored on disk.
type ArchivedSession struct {
	RunID      string              `json:"run_id"`
	SessionID  string              `json:"session_id"`
	PersonID   int                 `json:"person_id"`
	EntryTime  *time.Time          `json:"entry_time"`
	ExitTime   *time.Time          `json:"exit_time"`
	AutoExit   bool                `json:"auto_exit"`
	DurationMs int64               `json:"duration_ms"`
	ZoneVisits []ArchivedZoneVisit `json:"zone_visits,omitempty"`
}

// ArchivedZoneVisit is one zone visit row.
type ArchivedZoneVisit struct {
	ZoneName  string     `json:"zone_name"`
	EntryTime time.Time  `json:"entry_time"`
	ExitTime  *time.Time `json:"exit_time"`
	DwellMs   int64      `json:"dwell_ms"`
}

// ArchiveSession writes a closed session and its zone visits under the
// given run ID. Open zone visits are stored with the session's exit
// time as their end, matching how the person actually left.
func (db *DB) ArchiveSession(runID string, personID int, s *session.Session) error {
	autoExit := 0
	for _, ev := range s.Events {
		if ev == session.EventAutoExit {
			autoExit = 1
			break
		}
	}

	var durationMs int64
	if s.EntryTime != nil && s.ExitTime != nil {
		durationMs = s.ExitTime.Sub(*s.EntryTime).Milliseconds()
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO sessions (run_id, session_id, person_id, entry_time, exit_time, auto_exit, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, s.SessionID, personID, timeArg(s.EntryTime), timeArg(s.ExitTime), autoExit, durationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", s.SessionID, err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get session row id: %w", err)
	}

	for _, zv := range s.ZoneVisits {
		end := zv.ExitTime
		if end == nil {
			end = s.ExitTime
		}
		var dwellMs int64
		if end != nil {
			dwellMs = end.Sub(zv.EntryTime).Milliseconds()
		}
		if _, err := tx.Exec(
			`INSERT INTO zone_visits (session_row, zone_name, entry_time, exit_time, dwell_ms)
			 VALUES (?, ?, ?, ?, ?)`,
			rowID, zv.ZoneName, zv.EntryTime, timeArg(end), dwellMs,
		); err != nil {
			return fmt.Errorf("failed to insert zone visit %s: %w", zv.ZoneName, err)
		}
	}

	return tx.Commit()
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// ListSessions returns the archived sessions for a run in insertion
// order, zone visits included.
func (db *DB) ListSessions(runID string) ([]ArchivedSession, error) {
	rows, err := db.Query(
		`SELECT id, session_id, person_id, entry_time, exit_time, auto_exit, duration_ms
		 FROM sessions WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []ArchivedSession
	var rowIDs []int64
	for rows.Next() {
		var (
			rowID    int64
			s        ArchivedSession
			entry    sql.NullTime
			exit     sql.NullTime
			autoExit int
		)
		if err := rows.Scan(&rowID, &s.SessionID, &s.PersonID, &entry, &exit, &autoExit, &s.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		s.RunID = runID
		s.AutoExit = autoExit != 0
		if entry.Valid {
			t := entry.Time
			s.EntryTime = &t
		}
		if exit.Valid {
			t := exit.Time
			s.ExitTime = &t
		}
		out = append(out, s)
		rowIDs = append(rowIDs, rowID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, rowID := range rowIDs {
		visits, err := db.listZoneVisits(rowID)
		if err != nil {
			return nil, err
		}
		out[i].ZoneVisits = visits
	}

	return out, nil
}

func (db *DB) listZoneVisits(sessionRow int64) ([]ArchivedZoneVisit, error) {
	rows, err := db.Query(
		`SELECT zone_name, entry_time, exit_time, dwell_ms
		 FROM zone_visits WHERE session_row = ? ORDER BY id`,
		sessionRow,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query zone visits: %w", err)
	}
	defer rows.Close()

	var out []ArchivedZoneVisit
	for rows.Next() {
		var (
			zv   ArchivedZoneVisit
			exit sql.NullTime
		)
		if err := rows.Scan(&zv.ZoneName, &zv.EntryTime, &exit, &zv.DwellMs); err != nil {
			return nil, fmt.Errorf("failed to scan zone visit row: %w", err)
		}
		if exit.Valid {
			t := exit.Time
			zv.ExitTime = &t
		}
		out = append(out, zv)
	}
	return out, rows.Err()
}

// DwellStats holds percentile dwell times in milliseconds.
type DwellStats struct {
	Count int     `json:"count"`
	P50Ms float64 `json:"p50_ms"`
	P85Ms float64 `json:"p85_ms"`
	P95Ms float64 `json:"p95_ms"`
}

// RunSummary aggregates one run's archived sessions for reporting.
type RunSummary struct {
	RunID         string                `json:"run_id"`
	SessionCount  int                   `json:"session_count"`
	AutoExitCount int                   `json:"auto_exit_count"`
	Duration      DwellStats            `json:"duration"`
	Zones         map[string]DwellStats `json:"zones"`
}

// Summarize computes per-run duration percentiles and per-zone dwell
// percentiles over the archived sessions.
func (db *DB) Summarize(runID string) (*RunSummary, error) {
	sessions, err := db.ListSessions(runID)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunID: runID,
		Zones: make(map[string]DwellStats),
	}

	var durations []float64
	zoneDwells := make(map[string][]float64)
	for _, s := range sessions {
		summary.SessionCount++
		if s.AutoExit {
			summary.AutoExitCount++
		}
		durations = append(durations, float64(s.DurationMs))
		for _, zv := range s.ZoneVisits {
			zoneDwells[zv.ZoneName] = append(zoneDwells[zv.ZoneName], float64(zv.DwellMs))
		}
	}

	summary.Duration = dwellStats(durations)
	for name, dwells := range zoneDwells {
		summary.Zones[name] = dwellStats(dwells)
	}

	return summary, nil
}

func dwellStats(samples []float64) DwellStats {
	if len(samples) == 0 {
		return DwellStats{}
	}
	sort.Float64s(samples)
	return DwellStats{
		Count: len(samples),
		P50Ms: stat.Quantile(0.50, stat.Empirical, samples, nil),
		P85Ms: stat.Quantile(0.85, stat.Empirical, samples, nil),
		P95Ms: stat.Quantile(0.95, stat.Empirical, samples, nil),
	}
}
