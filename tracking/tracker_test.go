package tracking

import (
	"math"
	"testing"

	"github.com/theoremus-urban-solutions/sector-control/catalog"
	"github.com/theoremus-urban-solutions/sector-control/geo"
)

const metersPerDegreeLat = geo.EarthRadiusMeters * math.Pi / 180

// Base timestamp well past the violation and re-warn intervals so the first
// qualifying event is never suppressed by the zero-valued rate-limit maps.
const t0 = int64(1_700_000_000_000)

// northCatalog builds a single north-south sector starting at 50N 8E.
func northCatalog(limit, lengthMeters float64) *catalog.Catalog {
	return catalog.New([]catalog.Sector{{
		ID:            "s1",
		Name:          "Test sector",
		SpeedLimitKmh: limit,
		Start:         catalog.Endpoint{Lat: 50.0, Lon: 8.0},
		End:           catalog.Endpoint{Lat: 50.0 + lengthMeters/metersPerDegreeLat, Lon: 8.0},
		Active:        true,
	}})
}

// fixAlong places a fix on the sector line at the given distance from the
// start. Negative values land before the start, values past the length land
// beyond the end.
func fixAlong(alongMeters, speedKmh float64, tsMs int64) Fix {
	return Fix{
		Latitude:    50.0 + alongMeters/metersPerDegreeLat,
		Longitude:   8.0,
		SpeedKmh:    speedKmh,
		TimestampMs: tsMs,
	}
}

type eventLog struct {
	events []Event
}

func (l *eventLog) sink(e Event) { l.events = append(l.events, e) }

func (l *eventLog) ofType(et EventType) []Event {
	var out []Event
	for _, e := range l.events {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

func TestEntryRequiresTwoConfirmations(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(northCatalog(100, 2000), Settings{}, log.sink, nil)

	tr.ProcessFix(fixAlong(-5000, 90, t0))
	if tr.State().InSector() {
		t.Fatal("entered sector from far away")
	}

	tr.ProcessFix(fixAlong(100, 90, t0+1000))
	if st := tr.State(); st.InSector() {
		t.Fatal("entered after a single confirmation")
	} else if st.PendingSectorID != "s1" || st.EntryConfirmations != 1 {
		t.Errorf("expected pending s1 with 1 confirmation, got %q/%d", st.PendingSectorID, st.EntryConfirmations)
	}

	tr.ProcessFix(fixAlong(200, 90, t0+2000))
	st := tr.State()
	if st.CurrentSectorID != "s1" {
		t.Fatalf("expected confirmed entry, got state %+v", st)
	}
	if st.EntryTimeMs != t0+2000 {
		t.Errorf("expected entry time %d, got %d", t0+2000, st.EntryTimeMs)
	}
	if math.Abs(st.TotalDistanceMeters-2000) > 1 {
		t.Errorf("expected total distance ~2000m, got %.1f", st.TotalDistanceMeters)
	}
	if got := log.ofType(EventSectorEntered); len(got) != 1 {
		t.Errorf("expected 1 entered event, got %d", len(got))
	}
}

func TestEntryCandidateResetsWhenLeaving(t *testing.T) {
	tr := NewTracker(northCatalog(100, 2000), Settings{}, nil, nil)

	tr.ProcessFix(fixAlong(100, 90, t0))
	tr.ProcessFix(fixAlong(-5000, 90, t0+1000))
	if st := tr.State(); st.PendingSectorID != "" || st.EntryConfirmations != 0 {
		t.Errorf("expected pending candidate cleared, got %q/%d", st.PendingSectorID, st.EntryConfirmations)
	}

	// A fresh approach starts the count over.
	tr.ProcessFix(fixAlong(100, 90, t0+2000))
	if tr.State().InSector() {
		t.Fatal("single fix after reset must not enter")
	}
}

func TestDebounceDropsRapidFixes(t *testing.T) {
	tr := NewTracker(northCatalog(100, 2000), Settings{}, nil, nil)

	tr.ProcessFix(fixAlong(100, 90, t0))
	// 100ms later: inside the gate, dropped entirely.
	tr.ProcessFix(fixAlong(200, 90, t0+100))
	if st := tr.State(); st.InSector() || st.EntryConfirmations != 1 {
		t.Errorf("debounced fix must not advance confirmations, got %+v", st)
	}

	tr.ProcessFix(fixAlong(300, 90, t0+500))
	if !tr.State().InSector() {
		t.Error("fix on the gate boundary should be processed")
	}
}

func TestDuplicateFixIsIdempotent(t *testing.T) {
	tr := NewTracker(northCatalog(100, 2000), Settings{}, nil, nil)
	enterSector(t, tr)

	f := fixAlong(500, 95, t0+10_000)
	tr.ProcessFix(f)
	n := len(tr.State().SpeedReadings)
	tr.ProcessFix(f)
	if got := len(tr.State().SpeedReadings); got != n {
		t.Errorf("replayed fix changed state: %d -> %d readings", n, got)
	}
}

func TestInvalidFixDropped(t *testing.T) {
	tr := NewTracker(northCatalog(100, 2000), Settings{}, nil, nil)

	tr.ProcessFix(Fix{Latitude: math.NaN(), Longitude: 8, SpeedKmh: 90, TimestampMs: t0})
	tr.ProcessFix(Fix{Latitude: 95, Longitude: 8, SpeedKmh: 90, TimestampMs: t0 + 1000})
	if st := tr.State(); st.LastCheckTimeMs != 0 {
		t.Errorf("invalid fixes must not touch state, got %+v", st)
	}
}

// enterSector drives the tracker into s1 with two confirmations at t0 and
// t0+1000.
func enterSector(t *testing.T, tr *Tracker) {
	t.Helper()
	tr.ProcessFix(fixAlong(50, 90, t0))
	tr.ProcessFix(fixAlong(100, 90, t0+1000))
	if !tr.State().InSector() {
		t.Fatal("setup: tracker did not enter sector")
	}
}

func TestAverageAndPredictedSpeed(t *testing.T) {
	tr := NewTracker(northCatalog(100, 2000), Settings{}, nil, nil)
	enterSector(t, tr)

	speeds := []float64{60, 80, 100}
	for i, v := range speeds {
		tr.ProcessFix(fixAlong(200+float64(i)*100, v, t0+2000+int64(i)*1000))
	}

	st := tr.State()
	if math.Abs(st.CurrentAverageSpeed-80) > 1e-9 {
		t.Errorf("expected average 80, got %.4f", st.CurrentAverageSpeed)
	}
	// All readings fit in the recent window, so both terms agree.
	if math.Abs(st.PredictedAverageSpeed-80) > 1e-9 {
		t.Errorf("expected predicted 80, got %.4f", st.PredictedAverageSpeed)
	}
	if st.WillExceedLimit {
		t.Error("predicted 80 under limit 100 must not flag exceedance")
	}
}

func TestPredictedSpeedWeighsRecentTrend(t *testing.T) {
	tr := NewTracker(northCatalog(100, 30_000), Settings{}, nil, nil)
	enterSector(t, tr)

	// 20 slow readings then 10 fast ones: session average 100, recent
	// window average 130.
	ts := t0 + 2000
	for i := 0; i < 20; i++ {
		tr.ProcessFix(fixAlong(200+float64(i)*20, 85, ts))
		ts += 1000
	}
	for i := 0; i < 10; i++ {
		tr.ProcessFix(fixAlong(700+float64(i)*30, 130, ts))
		ts += 1000
	}

	st := tr.State()
	want := 0.7*st.CurrentAverageSpeed + 0.3*130
	if math.Abs(st.PredictedAverageSpeed-want) > 1e-9 {
		t.Errorf("expected predicted %.4f, got %.4f", want, st.PredictedAverageSpeed)
	}
	if st.PredictedAverageSpeed <= st.CurrentAverageSpeed {
		t.Error("accelerating trend must pull the prediction above the session average")
	}
}

func TestRecommendedSpeed(t *testing.T) {
	cases := []struct {
		name     string
		limit    float64
		total    float64
		covered  float64
		average  float64
		expected *float64
	}{
		{
			// (90*10 - 110*5) / 5 = 70, exactly on the feasibility floor.
			name:    "recoverable",
			limit:   90,
			total:   10_000,
			covered: 5_000,
			average: 110,
			expected: func() *float64 {
				v := 70.0
				return &v
			}(),
		},
		{
			name:     "under limit needs none",
			limit:    90,
			total:    10_000,
			covered:  5_000,
			average:  85,
			expected: nil,
		},
		{
			name:     "too little remaining",
			limit:    90,
			total:    10_000,
			covered:  9_960,
			average:  110,
			expected: nil,
		},
		{
			// (90*10 - 130*5) / 5 = 50, below the limit-20 floor.
			name:     "recovery infeasible",
			limit:    90,
			total:    10_000,
			covered:  5_000,
			average:  130,
			expected: nil,
		},
		{
			// Nothing covered yet: the raw solution equals the limit and is
			// clamped just below it.
			name:    "clamped below limit",
			limit:   90,
			total:   10_000,
			covered: 0,
			average: 95,
			expected: func() *float64 {
				v := 89.0
				return &v
			}(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTracker(northCatalog(tc.limit, tc.total), Settings{}, nil, nil)
			tr.state = State{
				CurrentSectorID:        "s1",
				TotalDistanceMeters:    tc.total,
				DistanceTraveledMeters: tc.covered,
				CurrentAverageSpeed:    tc.average,
			}
			tr.updateRecommendation(tr.cat.Get("s1"))

			got := tr.state.RecommendedSpeedKmh
			switch {
			case tc.expected == nil && got != nil:
				t.Errorf("expected no recommendation, got %.1f", *got)
			case tc.expected != nil && got == nil:
				t.Errorf("expected %.1f, got none", *tc.expected)
			case tc.expected != nil && got != nil && math.Abs(*got-*tc.expected) > 1e-9:
				t.Errorf("expected %.1f, got %.1f", *tc.expected, *got)
			}
		})
	}
}

func TestExitRequiresThreeConfirmations(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(northCatalog(100, 2000), Settings{}, log.sink, nil)
	enterSector(t, tr)

	ts := t0 + 2000
	// Two misses then a hit: the exit count resets.
	tr.ProcessFix(fixAlong(4000, 90, ts))
	tr.ProcessFix(fixAlong(4100, 90, ts+1000))
	tr.ProcessFix(fixAlong(1000, 90, ts+2000))
	if st := tr.State(); !st.InSector() || st.ExitConfirmations != 0 {
		t.Fatalf("GPS blip must not exit, got %+v", st)
	}

	tr.ProcessFix(fixAlong(4000, 90, ts+3000))
	tr.ProcessFix(fixAlong(4100, 90, ts+4000))
	if !tr.State().InSector() {
		t.Fatal("exited before the third confirmation")
	}
	tr.ProcessFix(fixAlong(4200, 90, ts+5000))

	st := tr.State()
	if st.InSector() {
		t.Fatalf("expected idle after confirmed exit, got %+v", st)
	}
	exited := log.ofType(EventSectorExited)
	if len(exited) != 1 {
		t.Fatalf("expected 1 exited event, got %d", len(exited))
	}
	if exited[0].TimestampMs != ts+5000 {
		t.Errorf("expected exit at %d, got %d", ts+5000, exited[0].TimestampMs)
	}
	hist := tr.History()
	if len(hist) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(hist))
	}
	if hist[0].DurationMs != (ts+5000)-(t0+1000) {
		t.Errorf("expected duration %d, got %d", (ts+5000)-(t0+1000), hist[0].DurationMs)
	}
}

func TestExitRecordsExceededRun(t *testing.T) {
	tr := NewTracker(northCatalog(90, 2000), Settings{}, nil, nil)
	enterSector(t, tr)

	ts := t0 + 2000
	for i := 0; i < 4; i++ {
		tr.ProcessFix(fixAlong(300+float64(i)*400, 100, ts))
		ts += 1000
	}
	for i := 0; i < 3; i++ {
		tr.ProcessFix(fixAlong(4000+float64(i)*100, 100, ts))
		ts += 1000
	}

	hist := tr.History()
	if len(hist) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(hist))
	}
	e := hist[0]
	if !e.Exceeded {
		t.Error("average 100 over limit 90 must be recorded as exceeded")
	}
	if e.SpeedLimit != 90 || e.SectorID != "s1" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestHistoryCapNewestFirst(t *testing.T) {
	tr := NewTracker(northCatalog(90, 2000), Settings{}, nil, nil)

	ts := t0
	for run := 0; run < 60; run++ {
		tr.ProcessFix(fixAlong(50, 80, ts))
		tr.ProcessFix(fixAlong(100, 80, ts+1000))
		tr.ProcessFix(fixAlong(4000, 80, ts+2000))
		tr.ProcessFix(fixAlong(4100, 80, ts+3000))
		tr.ProcessFix(fixAlong(4200, 80, ts+4000))
		ts += 5000
	}

	hist := tr.History()
	if len(hist) != 50 {
		t.Fatalf("expected history capped at 50, got %d", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].TimestampMs >= hist[i-1].TimestampMs {
			t.Fatalf("history not newest-first at index %d", i)
		}
	}
	// Run 59 exits at its third outside fix.
	if want := t0 + 59*5000 + 4000; hist[0].TimestampMs != want {
		t.Errorf("expected newest exit at %d, got %d", want, hist[0].TimestampMs)
	}
}

func TestProgressThresholdsFireOnce(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(northCatalog(100, 3000), Settings{}, log.sink, nil)
	enterSector(t, tr)

	ts := t0 + 2000
	for _, along := range []float64{500, 1100, 1200, 2100, 2200} {
		tr.ProcessFix(fixAlong(along, 90, ts))
		ts += 1000
	}

	prog := log.ofType(EventSectorProgress)
	if len(prog) != 2 {
		t.Fatalf("expected 2 progress events, got %d", len(prog))
	}
	if prog[0].ThresholdCrossed != 0.33 || prog[1].ThresholdCrossed != 0.66 {
		t.Errorf("expected thresholds 0.33 then 0.66, got %v and %v",
			prog[0].ThresholdCrossed, prog[1].ThresholdCrossed)
	}

	st := tr.State()
	if st.Progress < 0 || st.Progress > 1 {
		t.Errorf("progress out of range: %v", st.Progress)
	}
}

func TestProgressClampedPastEnd(t *testing.T) {
	tr := NewTracker(northCatalog(100, 2000), Settings{}, nil, nil)
	enterSector(t, tr)

	// Beyond the end but not yet a confirmed exit.
	tr.ProcessFix(fixAlong(2100, 90, t0+2000))
	st := tr.State()
	if st.Progress != 1 {
		t.Errorf("expected progress clamped to 1, got %v", st.Progress)
	}
}

func TestSpeedViolationRateLimited(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(northCatalog(90, 50_000), Settings{SpeedMarginKmh: 5}, log.sink, nil)
	enterSector(t, tr)

	ts := t0 + 2000
	// 40 seconds at 100 km/h: margin 5 means 100 > 95 violates, but only
	// twice under the 30-second rate limit.
	for i := 0; i < 40; i++ {
		tr.ProcessFix(fixAlong(300+float64(i)*25, 100, ts))
		ts += 1000
	}

	if got := log.ofType(EventSpeedViolation); len(got) != 2 {
		t.Errorf("expected 2 rate-limited speed violations, got %d", len(got))
	}

	// Within the margin: no violation at all.
	log.events = nil
	tr2 := NewTracker(northCatalog(90, 50_000), Settings{SpeedMarginKmh: 5}, log.sink, nil)
	enterSector(t, tr2)
	tr2.ProcessFix(fixAlong(300, 94, t0+2000))
	if got := log.ofType(EventSpeedViolation); len(got) != 0 {
		t.Errorf("speed inside the margin must not violate, got %d events", len(got))
	}
}

func TestAverageViolationRateLimited(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(northCatalog(90, 100_000), Settings{}, log.sink, nil)
	enterSector(t, tr)

	ts := t0 + 2000
	// 130 seconds with the average above the limit throughout.
	for i := 0; i < 130; i++ {
		tr.ProcessFix(fixAlong(300+float64(i)*30, 110, ts))
		ts += 1000
	}

	if got := log.ofType(EventAverageViolation); len(got) != 3 {
		t.Errorf("expected 3 average violations over 130s, got %d", len(got))
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	cat := northCatalog(100, 2000)
	tr := NewTracker(cat, Settings{}, nil, nil)
	enterSector(t, tr)
	tr.ProcessFix(fixAlong(800, 95, t0+2000))
	tr.ProcessFix(fixAlong(900, 105, t0+3000))

	snap := tr.Snapshot(t0 + 4000)
	if snap.CurrentSectorID != "s1" || snap.CapturedAtMs != t0+4000 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	fresh := NewTracker(cat, Settings{}, nil, nil)
	fresh.Restore(snap)
	st := fresh.State()
	if st.CurrentSectorID != "s1" {
		t.Fatalf("expected restored sector, got %+v", st)
	}
	if math.Abs(st.CurrentAverageSpeed-100) > 1e-9 {
		t.Errorf("expected restored average 100, got %.4f", st.CurrentAverageSpeed)
	}
	if len(st.SpeedReadings) != 2 {
		t.Errorf("expected 2 restored readings, got %d", len(st.SpeedReadings))
	}

	// The restored run continues seamlessly.
	fresh.ProcessFix(fixAlong(1000, 100, t0+5000))
	if got := len(fresh.State().SpeedReadings); got != 3 {
		t.Errorf("expected restored tracker to keep accumulating, got %d readings", got)
	}
}

func TestRestoreEmptySnapshotClearsStaleRun(t *testing.T) {
	tr := NewTracker(northCatalog(100, 2000), Settings{}, nil, nil)
	enterSector(t, tr)

	tr.Restore(Snapshot{})
	if tr.State().InSector() {
		t.Error("empty persisted snapshot must clear the in-memory run")
	}
}

func TestRestoreUnknownSectorIgnored(t *testing.T) {
	tr := NewTracker(northCatalog(100, 2000), Settings{}, nil, nil)
	enterSector(t, tr)

	tr.Restore(Snapshot{CurrentSectorID: "gone", EntryTimeMs: t0})
	if st := tr.State(); st.CurrentSectorID != "s1" {
		t.Errorf("snapshot for an unknown sector must be ignored, got %+v", st)
	}
}

func TestRestoreRecomputesMissingTotals(t *testing.T) {
	cat := northCatalog(100, 2000)
	tr := NewTracker(cat, Settings{}, nil, nil)

	tr.Restore(Snapshot{
		CurrentSectorID: "s1",
		EntryTimeMs:     t0,
		SpeedReadings:   []float64{90, 110},
	})
	st := tr.State()
	if math.Abs(st.TotalDistanceMeters-2000) > 1 {
		t.Errorf("expected total recomputed from the route, got %.1f", st.TotalDistanceMeters)
	}
	if math.Abs(st.CurrentAverageSpeed-100) > 1e-9 {
		t.Errorf("expected average derived from readings, got %.4f", st.CurrentAverageSpeed)
	}
}

type recordingRecorder struct {
	entries   []HistoryEntry
	positions []geo.Point
}

func (r *recordingRecorder) Record(e HistoryEntry, p geo.Point) {
	r.entries = append(r.entries, e)
	r.positions = append(r.positions, p)
}

func TestRecorderCalledOnExit(t *testing.T) {
	rec := &recordingRecorder{}
	tr := NewTracker(northCatalog(90, 2000), Settings{}, nil, rec)
	enterSector(t, tr)

	ts := t0 + 2000
	tr.ProcessFix(fixAlong(500, 100, ts))
	for i := 0; i < 3; i++ {
		tr.ProcessFix(fixAlong(4000+float64(i)*100, 100, ts+int64(i+1)*1000))
	}

	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 recorded entry, got %d", len(rec.entries))
	}
	if !rec.entries[0].Exceeded {
		t.Error("expected recorded run marked exceeded")
	}
	if !rec.positions[0].Valid() {
		t.Error("expected a valid last position")
	}
}

func TestEndToEndRun(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(northCatalog(90, 2000), Settings{}, log.sink, nil)

	ts := t0
	script := []struct {
		along float64
		speed float64
	}{
		{-3000, 100}, // approaching, still idle
		{50, 100},    // first confirmation
		{150, 100},   // entry
		{400, 100},
		{800, 100},
		{1300, 100},
		{1800, 100},
		{4000, 100}, // past the end
		{4200, 100},
		{4400, 100}, // exit confirmed
	}
	for _, s := range script {
		tr.ProcessFix(fixAlong(s.along, s.speed, ts))
		ts += 1000
	}

	if tr.State().InSector() {
		t.Fatal("expected idle after the run")
	}
	if n := len(log.ofType(EventSectorEntered)); n != 1 {
		t.Errorf("expected 1 entered event, got %d", n)
	}
	exited := log.ofType(EventSectorExited)
	if len(exited) != 1 {
		t.Fatalf("expected 1 exited event, got %d", len(exited))
	}
	if !exited[0].Exceeded {
		t.Error("constant 100 over limit 90 must exceed")
	}
	if math.Abs(exited[0].AverageSpeed-100) > 1e-9 {
		t.Errorf("expected exit average 100, got %.4f", exited[0].AverageSpeed)
	}
	if n := len(log.ofType(EventSectorProgress)); n != 2 {
		t.Errorf("expected both progress thresholds, got %d events", n)
	}
}

func TestSettingsNormalized(t *testing.T) {
	cases := []struct {
		name     string
		in       []float64
		expected []float64
	}{
		{"empty falls back", nil, []float64{1000}},
		{"sorted ascending", []float64{3000, 1000, 2000}, []float64{1000, 2000, 3000}},
		{"invalid filtered", []float64{-500, 0, 1500, 2_000_000}, []float64{1500}},
		{"all invalid falls back", []float64{-1, 0}, []float64{1000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Settings{WarningDistances: tc.in}.normalized().WarningDistances
			if len(got) != len(tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
			for i := range got {
				if got[i] != tc.expected[i] {
					t.Fatalf("expected %v, got %v", tc.expected, got)
				}
			}
		})
	}
}
