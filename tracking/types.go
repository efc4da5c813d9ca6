package tracking

import (
	"sort"

	"github.com/theoremus-urban-solutions/sector-control/geo"
)

// Fix is one GPS sample: position, derived speed, and capture time.
// Fixes arrive at irregular intervals and drive the reducer's clock.
type Fix struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	SpeedKmh    float64 `json:"speed_kmh"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Point returns the fix position as a geo point.
func (f Fix) Point() geo.Point { return geo.Point{Lon: f.Longitude, Lat: f.Latitude} }

// State is the mutable heart of the tracker. A zero State is the idle state.
// External readers only ever see copies.
type State struct {
	// CurrentSectorID is the sector the vehicle is confirmed inside, or ""
	// when idle. Non-empty iff EntryTimeMs is set.
	CurrentSectorID string `json:"current_sector_id,omitempty"`
	EntryTimeMs     int64  `json:"entry_time_ms,omitempty"`

	// SpeedReadings holds every accepted speed sample since entry. Cleared
	// on entry and exit; bounded by the lifetime of one sector run.
	SpeedReadings []float64 `json:"speed_readings,omitempty"`

	CurrentAverageSpeed   float64 `json:"current_average_speed"`
	PredictedAverageSpeed float64 `json:"predicted_average_speed"`
	WillExceedLimit       bool    `json:"will_exceed_limit"`

	// Progress is the fraction of the sector route traveled, clamped to
	// [0,1]. Not forced monotonic: GPS noise can move the nearest route
	// point backward.
	Progress               float64 `json:"progress"`
	TotalDistanceMeters    float64 `json:"total_distance_meters"`
	DistanceTraveledMeters float64 `json:"distance_traveled_meters"`

	// RecommendedSpeedKmh is nil when no recommendation is needed or
	// recovery below the limit is infeasible.
	RecommendedSpeedKmh *float64 `json:"recommended_speed_kmh,omitempty"`

	// Debounce bookkeeping.
	PendingSectorID               string  `json:"pending_sector_id,omitempty"`
	EntryConfirmations            int     `json:"entry_confirmations"`
	ExitConfirmations             int     `json:"exit_confirmations"`
	LastProgressThresholdNotified float64 `json:"last_progress_threshold_notified"`
	LastCheckTimeMs               int64   `json:"last_check_time_ms"`
}

// InSector reports whether the state machine is in the IN_SECTOR state.
func (s State) InSector() bool { return s.CurrentSectorID != "" }

// clone returns a deep copy safe to hand to external readers.
func (s *State) clone() State {
	out := *s
	if s.SpeedReadings != nil {
		out.SpeedReadings = append([]float64(nil), s.SpeedReadings...)
	}
	if s.RecommendedSpeedKmh != nil {
		v := *s.RecommendedSpeedKmh
		out.RecommendedSpeedKmh = &v
	}
	return out
}

// HistoryEntry is the immutable record of one completed sector run, created
// exactly once at confirmed exit.
type HistoryEntry struct {
	SectorID     string  `json:"sector_id"`
	SectorName   string  `json:"sector_name"`
	TimestampMs  int64   `json:"timestamp_ms"`
	AverageSpeed float64 `json:"average_speed"`
	SpeedLimit   float64 `json:"speed_limit"`
	Exceeded     bool    `json:"exceeded"`
	DurationMs   int64   `json:"duration_ms"`
}

// EventType tags an emitted tracking event.
type EventType string

const (
	EventSectorEntered     EventType = "sector-entered"
	EventSectorProgress    EventType = "sector-progress"
	EventSectorExited      EventType = "sector-exited"
	EventSpeedViolation    EventType = "speed-violation"
	EventAverageViolation  EventType = "average-violation"
	EventSectorApproaching EventType = "sector-approaching"
)

// Event is a tagged payload delivered to the sink on state transitions,
// progress thresholds, violations, and approach warnings. Only the fields
// relevant to the event type are populated.
type Event struct {
	Type        EventType `json:"type"`
	SectorID    string    `json:"sector_id"`
	SectorName  string    `json:"sector_name,omitempty"`
	SpeedLimit  float64   `json:"speed_limit,omitempty"`
	TimestampMs int64     `json:"timestamp_ms"`

	CurrentSpeed     float64  `json:"current_speed,omitempty"`
	AverageSpeed     float64  `json:"average_speed,omitempty"`
	Exceeding        bool     `json:"exceeding,omitempty"`
	Exceeded         bool     `json:"exceeded,omitempty"`
	ThresholdCrossed float64  `json:"threshold_crossed,omitempty"`
	RecommendedSpeed *float64 `json:"recommended_speed,omitempty"`

	// WarnDistanceMeters is the configured approach distance that fired.
	WarnDistanceMeters float64 `json:"warn_distance_meters,omitempty"`
}

// Sink consumes emitted events. A nil sink discards them.
type Sink func(Event)

// Recorder receives completed history entries together with the last known
// position. Implementations are best-effort and must never block the caller
// on I/O.
type Recorder interface {
	Record(entry HistoryEntry, lastPosition geo.Point)
}

// Snapshot is the serialized essence of the tracker state, persisted across
// process suspension by the continuity bridge.
type Snapshot struct {
	CurrentSectorID               string    `json:"current_sector_id"`
	EntryTimeMs                   int64     `json:"entry_time_ms"`
	SpeedReadings                 []float64 `json:"speed_readings"`
	RecommendedSpeedKmh           *float64  `json:"recommended_speed_kmh"`
	CurrentAverageSpeed           float64   `json:"current_average_speed"`
	PredictedAverageSpeed         float64   `json:"predicted_average_speed"`
	WillExceedLimit               bool      `json:"will_exceed_limit"`
	Progress                      float64   `json:"progress"`
	TotalDistanceMeters           float64   `json:"total_distance_meters"`
	DistanceTraveledMeters        float64   `json:"distance_traveled_meters"`
	LastProgressThresholdNotified float64   `json:"last_progress_threshold_notified"`
	LastCheckTimeMs               int64     `json:"last_check_time_ms"`
	CapturedAtMs                  int64     `json:"captured_at_ms"`
}

// Settings are the externally supplied preferences consumed by the tracker.
type Settings struct {
	EarlyWarningEnabled bool      `json:"early_warning_enabled" yaml:"earlyWarningEnabled"`
	WarningDistances    []float64 `json:"warning_distances" yaml:"warningDistances"`
	SoundEnabled        bool      `json:"sound_enabled" yaml:"soundEnabled"`
	// SpeedMarginKmh is how far instantaneous speed may exceed the limit
	// before a speed-violation event fires.
	SpeedMarginKmh float64 `json:"speed_margin_kmh" yaml:"speedMarginKmh"`
}

// normalized returns settings with a usable warning distance list: malformed
// or empty lists fall back to a single default distance, entries are
// positive, finite and sorted ascending.
func (s Settings) normalized() Settings {
	out := s
	dists := make([]float64, 0, len(s.WarningDistances))
	for _, d := range s.WarningDistances {
		if d > 0 && d < 100000 {
			dists = append(dists, d)
		}
	}
	if len(dists) == 0 {
		dists = []float64{defaultWarningDistanceMeters}
	}
	sort.Float64s(dists)
	out.WarningDistances = dists
	if out.SpeedMarginKmh < 0 {
		out.SpeedMarginKmh = 0
	}
	return out
}
