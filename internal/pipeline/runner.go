// Package pipeline owns the frame processing loop. A single worker
// goroutine pulls frames from the source, runs detection, tracking,
// identity resolution, crossing and zone checks, advances the session
// store, and publishes an immutable snapshot per frame. All mutable
// tracking state is confined to that one goroutine; the HTTP surface
// only ever sees published snapshots and the config setters.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/region"
	"github.com/banshee-data/presence.report/internal/reid"
	"github.com/banshee-data/presence.report/internal/session"
	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/banshee-data/presence.report/internal/track"
	"github.com/banshee-data/presence.report/internal/vision"
)

// FrameRenderer draws the tracking overlay onto a frame and encodes it
// as JPEG. Nil disables rendering (headless runs, most tests).
type FrameRenderer interface {
	Render(frame *vision.Frame, tracks []track.Track, lines []geom.Line, zones []region.Zone) ([]byte, error)
}

// Options configures a Runner. Source and Detector are required;
// everything else has a working default.
type Options struct {
	Source   vision.FrameSource
	Detector vision.Detector
	Embedder vision.Embedder
	Renderer FrameRenderer
	Clock    timeutil.Clock
	Tuning   *config.TuningConfig

	Lines []geom.Line
	Zones []region.Zone

	// RunID tags archived sessions; ClosedSink receives every session
	// that reaches the closed state.
	RunID      string
	ClosedSink session.ClosedSink
}

// Runner drives the per-frame pipeline.
type Runner struct {
	source   vision.FrameSource
	detector vision.Detector
	embedder vision.Embedder
	renderer FrameRenderer
	clock    timeutil.Clock

	tracker   *track.FrameTracker
	resolver  *reid.Resolver
	crossings *region.CrossingDetector
	presence  *region.ZonePresenceTracker
	sessions  *session.Store
	pub        *Publisher
	closedSink session.ClosedSink

	runID string

	// frameCount numbers published snapshots from 1, monotonic across
	// stop/start so readers can always wait on "newer than last seen".
	frameCount uint64

	// mu guards the fields below, shared between the worker and the
	// HTTP handlers. The worker copies them at the top of each frame.
	mu          sync.Mutex
	lines       []geom.Line
	zones       []region.Zone
	tuning      *config.TuningConfig
	tuningDirty bool
	linesDirty  bool
	running     bool
	stopping    bool
	stop        chan struct{}
	done        chan struct{}
}

// NewRunner builds a stopped runner from opts.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Source == nil {
		return nil, errors.New("pipeline: frame source is required")
	}
	if opts.Detector == nil {
		return nil, errors.New("pipeline: detector is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	tuning := opts.Tuning
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}

	r := &Runner{
		source:     opts.Source,
		detector:   opts.Detector,
		embedder:   opts.Embedder,
		renderer:   opts.Renderer,
		clock:      clock,
		tracker:    track.NewFrameTracker(tuning.GetIoUMatchThreshold(), tuning.GetTrackMaxAge()),
		resolver:   reid.NewResolver(tuning.GetSimilarityThreshold()),
		crossings:  region.NewCrossingDetector(tuning.GetCrossingDebounce()),
		presence:   region.NewZonePresenceTracker(),
		sessions:   session.NewStore(tuning.GetInactivityTimeout()),
		pub:        NewPublisher(),
		closedSink: opts.ClosedSink,
		runID:      opts.RunID,
		lines:      append([]geom.Line(nil), opts.Lines...),
		zones:      append([]region.Zone(nil), opts.Zones...),
		tuning:     tuning,
	}
	if opts.ClosedSink != nil {
		r.sessions.SetClosedSink(opts.ClosedSink)
	}
	return r, nil
}

// Publisher exposes the snapshot slot for the HTTP surface.
func (r *Runner) Publisher() *Publisher { return r.pub }

// RunID returns the tag under which this run's sessions are archived.
func (r *Runner) RunID() string { return r.runID }

// Running reports whether the worker goroutine is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start launches the worker. Returns an error if already running.
// A runner is restartable: tracking state persists across stop/start
// within the same run.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("pipeline: already running")
	}
	r.running = true
	r.stopping = false
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(r.stop, r.done)
	Opsf("pipeline started (run %s)", r.runID)
	return nil
}

// Stop signals the worker and waits for it to finish the frame in
// flight. No-op when not running.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running || r.stopping {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	<-done
	Opsf("pipeline stopped (run %s)", r.runID)
}

// Restart stops any active worker, resets all tracking state and starts
// a fresh one. Track IDs, identities and in-memory sessions start over;
// sessions already archived stay archived. Snapshot numbering continues
// so stream readers never stall on a restart.
func (r *Runner) Restart() error {
	r.Stop()

	r.mu.Lock()
	tuning := r.tuning
	r.tracker = track.NewFrameTracker(tuning.GetIoUMatchThreshold(), tuning.GetTrackMaxAge())
	r.resolver = reid.NewResolver(tuning.GetSimilarityThreshold())
	r.crossings = region.NewCrossingDetector(tuning.GetCrossingDebounce())
	r.presence = region.NewZonePresenceTracker()
	r.sessions = session.NewStore(tuning.GetInactivityTimeout())
	if r.closedSink != nil {
		r.sessions.SetClosedSink(r.closedSink)
	}
	r.mu.Unlock()

	return r.Start()
}

// SetLines replaces the crossing lines. Side memory resets so every
// track re-observes its side against the new geometry.
func (r *Runner) SetLines(lines []geom.Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append([]geom.Line(nil), lines...)
	r.linesDirty = true
}

// Lines returns a copy of the configured crossing lines.
func (r *Runner) Lines() []geom.Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]geom.Line(nil), r.lines...)
}

// SetZones replaces the dwell zones. Presence membership adjusts itself
// on the next frame; removed zones report exits naturally.
func (r *Runner) SetZones(zones []region.Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones = append([]region.Zone(nil), zones...)
}

// Zones returns a copy of the configured dwell zones.
func (r *Runner) Zones() []region.Zone {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]region.Zone(nil), r.zones...)
}

// UpdateTuning overlays the non-nil fields of patch onto the live
// tuning config. The worker applies the result at the next frame
// boundary.
func (r *Runner) UpdateTuning(patch *config.TuningConfig) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tuning.Merge(patch)
	r.tuningDirty = true
	return nil
}

// Tuning returns a snapshot of the live tuning config. Merge only ever
// swaps field pointers, so a struct copy is isolated from later
// UpdateTuning calls and safe to marshal concurrently.
func (r *Runner) Tuning() *config.TuningConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := *r.tuning
	return &snap
}

// Sessions gives the HTTP surface read access to session history. The
// store itself is only mutated by the worker; AllSessions and
// ActiveSessions return deep copies. Taken under the lock because
// Restart swaps in a fresh store.
func (r *Runner) Sessions() *session.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions
}

func (r *Runner) loop(stop, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, err := r.source.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				Opsf("frame source ended (run %s)", r.runID)
			} else {
				Opsf("frame source error: %v", err)
			}
			return
		}
		r.processFrame(frame)
	}
}

// beginFrame applies any pending config changes and hands the worker a
// consistent view of lines, zones and thresholds for this frame.
func (r *Runner) beginFrame() (lines []geom.Line, zones []region.Zone, confThreshold float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tuningDirty {
		r.tracker.SetParams(r.tuning.GetIoUMatchThreshold(), r.tuning.GetTrackMaxAge())
		r.resolver.SetThreshold(r.tuning.GetSimilarityThreshold())
		r.crossings.SetDebounce(r.tuning.GetCrossingDebounce())
		r.sessions.SetInactivityTimeout(r.tuning.GetInactivityTimeout())
		r.tuningDirty = false
		Diagf("tuning applied: conf=%.2f iou=%.2f sim=%.2f", r.tuning.GetConfidenceThreshold(),
			r.tuning.GetIoUMatchThreshold(), r.tuning.GetSimilarityThreshold())
	}
	if r.linesDirty {
		r.crossings.Reset()
		r.linesDirty = false
		Diagf("crossing lines replaced (%d lines), side memory reset", len(r.lines))
	}
	return r.lines, r.zones, r.tuning.GetConfidenceThreshold()
}

// processFrame runs the full per-frame path. One "now" timestamp is
// used for every decision in the frame.
func (r *Runner) processFrame(frame *vision.Frame) {
	now := frame.Time
	if now.IsZero() {
		now = r.clock.Now()
	}
	lines, zones, confThreshold := r.beginFrame()

	dets, err := r.detector.Detect(frame, confThreshold)
	if err != nil {
		// Treat an inference failure like an empty frame so tracks age
		// out rather than freezing.
		Opsf("detect failed on frame %d: %v", frame.Seq, err)
		dets = nil
	}

	var embeds [][]float32
	if r.embedder != nil {
		embeds = make([][]float32, len(dets))
		for i, d := range dets {
			embeds[i] = r.embedder.Embed(frame, d.Box)
		}
	}

	shape := track.FrameShape{W: frame.Width(), H: frame.Height()}
	tracks, err := r.tracker.Update(dets, embeds, shape)
	if err != nil {
		Opsf("tracker update failed on frame %d: %v", frame.Seq, err)
		return
	}

	if removed := r.tracker.RemovedLastUpdate(); len(removed) > 0 {
		r.resolver.ForgetTracks(removed)
		r.crossings.PruneTracks(removed)
		r.presence.PruneTracks(removed)
		Diagf("pruned %d expired tracks", len(removed))
	}

	var crossings []CrossingRecord
	var zoneEvents []ZoneRecord
	for i := range tracks {
		tr := &tracks[i]
		tr.GlobalID = r.resolver.AssignIdentity(tr.TrackID, tr.Embedding)
		r.sessions.Touch(tr.GlobalID, now)

		c := tr.Box.Centroid()
		switch r.crossings.Check(tr.TrackID, c, lines, now) {
		case region.EventEntry:
			r.sessions.OnEntry(tr.GlobalID, now)
			tr.CrossEvent = string(region.EventEntry)
		case region.EventExit:
			r.sessions.OnExit(tr.GlobalID, now)
			tr.CrossEvent = string(region.EventExit)
		}
		if tr.CrossEvent != "" {
			crossings = append(crossings, CrossingRecord{
				TrackID:   tr.TrackID,
				PersonID:  tr.GlobalID,
				SessionID: r.sessions.SessionID(tr.GlobalID),
				Event:     region.Event(tr.CrossEvent),
				Time:      now,
			})
		}

		entered, exited := r.presence.Check(tr.TrackID, c, zones)
		for _, name := range entered {
			r.sessions.OnZoneEntry(tr.GlobalID, name, now)
			zoneEvents = append(zoneEvents, ZoneRecord{
				TrackID: tr.TrackID, PersonID: tr.GlobalID,
				SessionID: r.sessions.SessionID(tr.GlobalID),
				ZoneName:  name, Event: region.EventEntry, Time: now,
			})
		}
		for _, name := range exited {
			r.sessions.OnZoneExit(tr.GlobalID, name, now)
			zoneEvents = append(zoneEvents, ZoneRecord{
				TrackID: tr.TrackID, PersonID: tr.GlobalID,
				SessionID: r.sessions.SessionID(tr.GlobalID),
				ZoneName:  name, Event: region.EventExit, Time: now,
			})
		}

		tr.SessionID = r.sessions.SessionID(tr.GlobalID)
	}

	r.sessions.MarkInactiveIfNotSeen(now)

	r.frameCount++
	snap := &Snapshot{
		Seq:       r.frameCount,
		Time:      now,
		Tracks:    tracks,
		Crossings: crossings,
		Zones:     zoneEvents,
		Active:    r.sessions.ActiveSessions(now),
	}
	if r.renderer != nil {
		jpeg, err := r.renderer.Render(frame, tracks, lines, zones)
		if err != nil {
			Opsf("overlay render failed on frame %d: %v", frame.Seq, err)
		} else {
			snap.JPEG = jpeg
		}
	}
	r.pub.Publish(snap)

	Tracef("frame %d: %d detections, %d tracks, %d crossings, %d active",
		frame.Seq, len(dets), len(tracks), len(crossings), len(snap.Active))
}
