package pipeline

import (
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/region"
	"github.com/banshee-data/presence.report/internal/session"
	"github.com/banshee-data/presence.report/internal/track"
)

// CrossingRecord is one line-crossing event emitted during a frame.
type CrossingRecord struct {
	TrackID   int          `json:"track_id"`
	PersonID  int          `json:"person_id"`
	SessionID string       `json:"session_id,omitempty"`
	Event     region.Event `json:"event"`
	Time      time.Time    `json:"time"`
}

// ZoneRecord is one zone entry or exit emitted during a frame.
type ZoneRecord struct {
	TrackID   int          `json:"track_id"`
	PersonID  int          `json:"person_id"`
	SessionID string       `json:"session_id,omitempty"`
	ZoneName  string       `json:"zone_name"`
	Event     region.Event `json:"event"`
	Time      time.Time    `json:"time"`
}

// Snapshot is the published result of one processed frame. Snapshots
// are immutable once published; readers must not modify them.
type Snapshot struct {
	Seq       uint64                   `json:"seq"`
	Time      time.Time                `json:"time"`
	Tracks    []track.Track            `json:"tracks"`
	Crossings []CrossingRecord         `json:"crossings,omitempty"`
	Zones     []ZoneRecord             `json:"zones,omitempty"`
	Active    map[int]*session.Session `json:"active_sessions"`
	JPEG      []byte                   `json:"-"`
}

// DefaultWait bounds how long a snapshot reader blocks for a new frame
// before giving up and returning whatever is current.
const DefaultWait = time.Second

// Publisher is a single-slot handoff between the pipeline worker and
// any number of HTTP readers. The worker overwrites the slot every
// frame; slow readers miss frames instead of applying backpressure.
type Publisher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	latest *Snapshot
}

func NewPublisher() *Publisher {
	p := &Publisher{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Publish replaces the current snapshot and wakes all waiting readers.
func (p *Publisher) Publish(s *Snapshot) {
	p.mu.Lock()
	p.latest = s
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Latest returns the current snapshot without waiting. Nil before the
// first frame is published.
func (p *Publisher) Latest() *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Next blocks until a snapshot newer than lastSeq is published, or the
// timeout elapses, and returns the current snapshot either way. A nil
// return means nothing has been published yet. Pass 0 for lastSeq to
// accept any published snapshot.
func (p *Publisher) Next(lastSeq uint64, timeout time.Duration) *Snapshot {
	if timeout <= 0 {
		timeout = DefaultWait
	}
	deadline := time.Now().Add(timeout)

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.latest == nil || p.latest.Seq <= lastSeq {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		timer := time.AfterFunc(remaining, p.cond.Broadcast)
		p.cond.Wait()
		timer.Stop()
	}
	return p.latest
}
