package tracking

import (
	"log"
	"math"
	"sync"

	"github.com/theoremus-urban-solutions/sector-control/catalog"
	"github.com/theoremus-urban-solutions/sector-control/geo"
)

const (
	// Entry detection is tighter than the exit re-check so the boundary
	// does not flicker.
	entryThresholdMeters = 80.0
	exitThresholdMeters  = 120.0

	checkIntervalMs    = 500
	entryConfirmations = 2
	exitConfirmations  = 3

	recentWindow       = 10
	currentWeight      = 0.7
	recentWeight       = 0.3
	recommendBandKmh   = 20.0
	minRemainingMeters = 50.0
	historyCap         = 50

	defaultWarningDistanceMeters = 1000.0

	speedViolationIntervalMs = 30_000
	avgViolationIntervalMs   = 60_000
)

var progressThresholds = []float64{0.33, 0.66}

// Tracker consumes location fixes and maintains the sector tracking state.
// One instance tracks one vehicle.
type Tracker struct {
	cat      *catalog.Catalog
	settings Settings
	sink     Sink
	recorder Recorder

	mu            sync.Mutex
	state         State
	currentSector *catalog.Sector
	history       []HistoryEntry

	lastSpeedViolationMs map[string]int64
	lastAvgViolationMs   map[string]int64
	warnings             *approachMonitor
}

// NewTracker builds an idle tracker. sink and recorder may be nil.
func NewTracker(cat *catalog.Catalog, settings Settings, sink Sink, recorder Recorder) *Tracker {
	s := settings.normalized()
	return &Tracker{
		cat:                  cat,
		settings:             s,
		sink:                 sink,
		recorder:             recorder,
		lastSpeedViolationMs: map[string]int64{},
		lastAvgViolationMs:   map[string]int64{},
		warnings:             newApproachMonitor(s.WarningDistances),
	}
}

// State returns a copy of the current tracking state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone()
}

// History returns the completed sector runs, most recent first.
func (t *Tracker) History() []HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]HistoryEntry, len(t.history))
	copy(out, t.history)
	return out
}

// ProcessFix applies one fix to the state machine. Any panic during
// processing is caught and logged and the fix dropped; the next fix starts
// clean. Fixes inside the 500ms debounce window are dropped without any
// state change.
func (t *Tracker) ProcessFix(fix Fix) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("tracking: dropped fix after error: %v", r)
		}
	}()

	p := fix.Point()
	if !p.Valid() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Debounce gate. Driven by the fix's own timestamp, so replayed or
	// backdated fixes land inside the window and are dropped.
	if t.state.LastCheckTimeMs != 0 && fix.TimestampMs-t.state.LastCheckTimeMs < checkIntervalMs {
		return
	}
	t.state.LastCheckTimeMs = fix.TimestampMs

	if !t.state.InSector() {
		t.processIdle(fix, p)
		return
	}
	t.processInSector(fix, p)
}

func (t *Tracker) processIdle(fix Fix, p geo.Point) {
	if t.settings.EarlyWarningEnabled {
		for _, w := range t.warnings.check(t.cat, p, fix.TimestampMs) {
			t.emit(w)
		}
	}

	cand := t.cat.FindContaining(p, entryThresholdMeters)
	if cand == nil {
		t.state.PendingSectorID = ""
		t.state.EntryConfirmations = 0
		return
	}
	if t.state.PendingSectorID != cand.ID {
		t.state.PendingSectorID = cand.ID
		t.state.EntryConfirmations = 1
	} else {
		t.state.EntryConfirmations++
	}
	if t.state.EntryConfirmations >= entryConfirmations {
		t.commitEntry(cand, fix)
	}
}

func (t *Tracker) commitEntry(s *catalog.Sector, fix Fix) {
	t.state = State{
		CurrentSectorID:     s.ID,
		EntryTimeMs:         fix.TimestampMs,
		SpeedReadings:       []float64{},
		TotalDistanceMeters: t.cat.RouteFor(s).LengthMeters(),
		LastCheckTimeMs:     fix.TimestampMs,
	}
	t.currentSector = s
	t.warnings.reset(s.ID)

	t.emit(Event{
		Type:         EventSectorEntered,
		SectorID:     s.ID,
		SectorName:   s.Name,
		SpeedLimit:   s.SpeedLimitKmh,
		CurrentSpeed: fix.SpeedKmh,
		TimestampMs:  fix.TimestampMs,
	})
}

func (t *Tracker) processInSector(fix Fix, p geo.Point) {
	s := t.currentSector
	if s == nil {
		// Restored from a snapshot whose sector has left the catalog.
		t.resetToIdle()
		return
	}

	if !t.stillInside(s, p) {
		t.state.ExitConfirmations++
		if t.state.ExitConfirmations >= exitConfirmations {
			t.commitExit(fix, p)
			return
		}
	} else {
		t.state.ExitConfirmations = 0
	}

	t.updateSpeed(fix, s)
	t.updateRecommendation(s)
	t.updateProgress(p, s, fix.TimestampMs)
	t.checkViolations(fix, s)
}

// stillInside re-checks membership of the current sector under the looser
// exit threshold.
func (t *Tracker) stillInside(s *catalog.Sector, p geo.Point) bool {
	if t.cat.RouteFor(s).MinDistanceMeters(p) <= exitThresholdMeters {
		return true
	}
	return geo.Haversine(p, s.Start.Point()) <= exitThresholdMeters ||
		geo.Haversine(p, s.End.Point()) <= exitThresholdMeters
}

func (t *Tracker) commitExit(fix Fix, p geo.Point) {
	s := t.currentSector
	entry := HistoryEntry{
		SectorID:     s.ID,
		SectorName:   s.Name,
		TimestampMs:  fix.TimestampMs,
		AverageSpeed: t.state.CurrentAverageSpeed,
		SpeedLimit:   s.SpeedLimitKmh,
		Exceeded:     t.state.CurrentAverageSpeed > s.SpeedLimitKmh,
		DurationMs:   fix.TimestampMs - t.state.EntryTimeMs,
	}
	t.history = append([]HistoryEntry{entry}, t.history...)
	if len(t.history) > historyCap {
		t.history = t.history[:historyCap]
	}

	if t.recorder != nil {
		// Fire-and-forget; the recorder owns its own failure handling.
		t.recorder.Record(entry, p)
	}

	t.emit(Event{
		Type:         EventSectorExited,
		SectorID:     s.ID,
		SectorName:   s.Name,
		SpeedLimit:   s.SpeedLimitKmh,
		AverageSpeed: entry.AverageSpeed,
		Exceeded:     entry.Exceeded,
		TimestampMs:  fix.TimestampMs,
	})

	t.resetToIdle()
}

func (t *Tracker) resetToIdle() {
	last := t.state.LastCheckTimeMs
	t.state = State{LastCheckTimeMs: last}
	t.currentSector = nil
}

func (t *Tracker) updateSpeed(fix Fix, s *catalog.Sector) {
	st := &t.state
	st.SpeedReadings = append(st.SpeedReadings, fix.SpeedKmh)
	st.CurrentAverageSpeed = mean(st.SpeedReadings)

	recent := st.SpeedReadings
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	// Lean on the full-session average, react somewhat to the recent trend.
	st.PredictedAverageSpeed = currentWeight*st.CurrentAverageSpeed + recentWeight*mean(recent)
	st.WillExceedLimit = st.PredictedAverageSpeed > s.SpeedLimitKmh
}

// updateRecommendation solves for the constant speed over the remaining
// distance that brings the session-end average exactly to the limit.
func (t *Tracker) updateRecommendation(s *catalog.Sector) {
	st := &t.state
	st.RecommendedSpeedKmh = nil
	if st.CurrentAverageSpeed <= s.SpeedLimitKmh {
		return
	}

	remaining := st.TotalDistanceMeters - st.DistanceTraveledMeters
	if remaining < minRemainingMeters {
		return
	}

	limit := s.SpeedLimitKmh
	totalKm := st.TotalDistanceMeters / 1000
	coveredKm := st.DistanceTraveledMeters / 1000
	remainingKm := remaining / 1000

	v := (limit*totalKm - st.CurrentAverageSpeed*coveredKm) / remainingKm
	floor := math.Max(0, limit-recommendBandKmh)
	if v < floor {
		// Recovery infeasible: even the floor speed leaves the average
		// above the limit.
		return
	}
	if v >= limit {
		v = limit - 1
	}
	rounded := math.Round(v)
	st.RecommendedSpeedKmh = &rounded
}

func (t *Tracker) updateProgress(p geo.Point, s *catalog.Sector, nowMs int64) {
	st := &t.state
	if st.TotalDistanceMeters <= 0 {
		return
	}
	along, _ := t.cat.RouteFor(s).DistanceAlongMeters(p)
	if math.IsNaN(along) {
		return
	}
	st.DistanceTraveledMeters = along
	st.Progress = clamp01(along / st.TotalDistanceMeters)

	for _, th := range progressThresholds {
		if st.Progress >= th && st.LastProgressThresholdNotified < th {
			st.LastProgressThresholdNotified = th
			t.emit(Event{
				Type:             EventSectorProgress,
				SectorID:         s.ID,
				SectorName:       s.Name,
				SpeedLimit:       s.SpeedLimitKmh,
				ThresholdCrossed: th,
				AverageSpeed:     st.CurrentAverageSpeed,
				Exceeding:        st.WillExceedLimit,
				RecommendedSpeed: st.RecommendedSpeedKmh,
				TimestampMs:      nowMs,
			})
		}
	}
}

func (t *Tracker) checkViolations(fix Fix, s *catalog.Sector) {
	st := &t.state
	now := fix.TimestampMs

	if fix.SpeedKmh > s.SpeedLimitKmh+t.settings.SpeedMarginKmh {
		if now-t.lastSpeedViolationMs[s.ID] >= speedViolationIntervalMs {
			t.lastSpeedViolationMs[s.ID] = now
			t.emit(Event{
				Type:         EventSpeedViolation,
				SectorID:     s.ID,
				SectorName:   s.Name,
				SpeedLimit:   s.SpeedLimitKmh,
				CurrentSpeed: fix.SpeedKmh,
				AverageSpeed: st.CurrentAverageSpeed,
				TimestampMs:  now,
			})
		}
	}

	if st.CurrentAverageSpeed > s.SpeedLimitKmh {
		if now-t.lastAvgViolationMs[s.ID] >= avgViolationIntervalMs {
			t.lastAvgViolationMs[s.ID] = now
			t.emit(Event{
				Type:             EventAverageViolation,
				SectorID:         s.ID,
				SectorName:       s.Name,
				SpeedLimit:       s.SpeedLimitKmh,
				AverageSpeed:     st.CurrentAverageSpeed,
				RecommendedSpeed: st.RecommendedSpeedKmh,
				TimestampMs:      now,
			})
		}
	}
}

func (t *Tracker) emit(e Event) {
	if t.sink != nil {
		t.sink(e)
	}
}

// Snapshot captures the serializable essence of the tracker state for the
// continuity bridge.
func (t *Tracker) Snapshot(nowMs int64) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state.clone()
	return Snapshot{
		CurrentSectorID:               st.CurrentSectorID,
		EntryTimeMs:                   st.EntryTimeMs,
		SpeedReadings:                 st.SpeedReadings,
		RecommendedSpeedKmh:           st.RecommendedSpeedKmh,
		CurrentAverageSpeed:           st.CurrentAverageSpeed,
		PredictedAverageSpeed:         st.PredictedAverageSpeed,
		WillExceedLimit:               st.WillExceedLimit,
		Progress:                      st.Progress,
		TotalDistanceMeters:           st.TotalDistanceMeters,
		DistanceTraveledMeters:        st.DistanceTraveledMeters,
		LastProgressThresholdNotified: st.LastProgressThresholdNotified,
		LastCheckTimeMs:               st.LastCheckTimeMs,
		CapturedAtMs:                  nowMs,
	}
}

// Restore reconciles the tracker with a persisted snapshot. The snapshot is
// the source of truth for surviving restarts: a persisted sector that
// differs from the in-memory one overwrites it; an empty persisted sector
// clears a stale in-memory run (the other execution context exited while
// this one was suspended).
func (t *Tracker) Restore(snap Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if snap.CurrentSectorID == "" {
		if t.state.InSector() {
			t.resetToIdle()
		}
		return
	}
	if t.state.CurrentSectorID == snap.CurrentSectorID {
		return
	}

	s := t.cat.Get(snap.CurrentSectorID)
	if s == nil {
		log.Printf("tracking: snapshot references unknown sector %q, ignoring", snap.CurrentSectorID)
		return
	}

	readings := append([]float64(nil), snap.SpeedReadings...)
	total := snap.TotalDistanceMeters
	if total <= 0 {
		total = t.cat.RouteFor(s).LengthMeters()
	}
	t.state = State{
		CurrentSectorID:               snap.CurrentSectorID,
		EntryTimeMs:                   snap.EntryTimeMs,
		SpeedReadings:                 readings,
		CurrentAverageSpeed:           snap.CurrentAverageSpeed,
		PredictedAverageSpeed:         snap.PredictedAverageSpeed,
		WillExceedLimit:               snap.WillExceedLimit,
		Progress:                      clamp01(snap.Progress),
		TotalDistanceMeters:           total,
		DistanceTraveledMeters:        snap.DistanceTraveledMeters,
		RecommendedSpeedKmh:           snap.RecommendedSpeedKmh,
		LastProgressThresholdNotified: snap.LastProgressThresholdNotified,
		LastCheckTimeMs:               snap.LastCheckTimeMs,
	}
	if len(readings) > 0 && t.state.CurrentAverageSpeed == 0 {
		t.state.CurrentAverageSpeed = mean(readings)
	}
	t.currentSector = s
}

func mean(f []float64) float64 {
	if len(f) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range f {
		sum += v
	}
	return sum / float64(len(f))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
