package tracking

import (
	"github.com/theoremus-urban-solutions/sector-control/catalog"
	"github.com/theoremus-urban-solutions/sector-control/geo"
)

const (
	rewarnIntervalMs = 120_000
	clearSlackMeters = 500.0
)

// approachMonitor emits pre-entry early warnings when the vehicle closes in
// on a sector's start point. It is independent of the entry/exit state
// machine and only consulted while idle.
type approachMonitor struct {
	distances  []float64 // sorted ascending
	warnedAtMs map[string]map[float64]int64
}

func newApproachMonitor(distances []float64) *approachMonitor {
	return &approachMonitor{
		distances:  distances,
		warnedAtMs: map[string]map[float64]int64{},
	}
}

// check returns at most one warning per sector per fix: the tightest
// configured distance band the vehicle is inside and has not been warned
// about in the last two minutes. Moving farther than the widest band plus
// some slack clears a sector's warned record so a later approach warns again.
func (m *approachMonitor) check(cat *catalog.Catalog, p geo.Point, nowMs int64) []Event {
	if len(m.distances) == 0 {
		return nil
	}
	maxDist := m.distances[len(m.distances)-1]

	var out []Event
	for _, s := range cat.Sectors() {
		if !s.Active {
			continue
		}
		d := geo.Haversine(p, s.Start.Point())
		if d > maxDist+clearSlackMeters {
			m.reset(s.ID)
			continue
		}
		for _, wd := range m.distances {
			if d > wd {
				continue
			}
			if nowMs-m.warnedAtMs[s.ID][wd] < rewarnIntervalMs {
				break
			}
			if m.warnedAtMs[s.ID] == nil {
				m.warnedAtMs[s.ID] = map[float64]int64{}
			}
			m.warnedAtMs[s.ID][wd] = nowMs
			out = append(out, Event{
				Type:               EventSectorApproaching,
				SectorID:           s.ID,
				SectorName:         s.Name,
				SpeedLimit:         s.SpeedLimitKmh,
				WarnDistanceMeters: wd,
				TimestampMs:        nowMs,
			})
			break
		}
	}
	return out
}

func (m *approachMonitor) reset(sectorID string) {
	delete(m.warnedAtMs, sectorID)
}
