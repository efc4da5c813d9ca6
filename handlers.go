package sectorcontrol

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type healthResponse struct {
	Status          string `json:"status"`
	CurrentSectorID string `json:"current_sector_id,omitempty"`
	LastCheckTimeMs int64  `json:"last_check_time_ms"`
}

func handleHealth(m *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		st := m.Tracker.State()
		resp := healthResponse{
			Status:          "ok",
			CurrentSectorID: st.CurrentSectorID,
			LastCheckTimeMs: st.LastCheckTimeMs,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func handleState(m *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Tracker.State())
	}
}

type sectorStatus struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	SpeedLimitKmh float64 `json:"speed_limit_kmh"`
	Active        bool    `json:"active"`
	// RouteResolved is true only when a real road-following polyline is
	// attached; the straight-line fallback does not count.
	RouteResolved bool    `json:"route_resolved"`
	LengthMeters  float64 `json:"length_meters"`
}

func handleSectors(m *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		out := []sectorStatus{}
		for _, s := range m.Catalog.Sectors() {
			out = append(out, sectorStatus{
				ID:            s.ID,
				Name:          s.Name,
				SpeedLimitKmh: s.SpeedLimitKmh,
				Active:        s.Active,
				RouteResolved: m.Catalog.HasRealRoute(s.ID),
				LengthMeters:  m.Catalog.RouteFor(s).LengthMeters(),
			})
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

func handleHistory(m *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		limit := -1
		if s := r.URL.Query().Get("limit"); s != "" {
			if v, err := strconv.Atoi(s); err == nil && v > 0 {
				limit = v
			}
		}
		entries, err := m.Bridge.History(limit)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		if entries == nil {
			entries = m.Tracker.History()
		}
		_ = json.NewEncoder(w).Encode(entries)
	}
}
