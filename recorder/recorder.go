// Package recorder ships completed sector runs to an external persistence
// endpoint. Recording is strictly best-effort: failures are logged and
// swallowed, and the caller is never blocked on network I/O.
package recorder

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/theoremus-urban-solutions/sector-control/geo"
	"github.com/theoremus-urban-solutions/sector-control/tracking"
)

// ViolationRecord is the wire schema accepted by the persistence endpoint.
type ViolationRecord struct {
	ID            string  `json:"id"`
	DeviceID      string  `json:"device_id"`
	SectorID      string  `json:"sector_id"`
	SectorName    string  `json:"sector_name"`
	SpeedLimit    float64 `json:"speed_limit"`
	CurrentSpeed  float64 `json:"current_speed"`
	ViolationType string  `json:"violation_type"` // "speeding" or "normal"
	Location      struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	Timestamp string `json:"timestamp"` // ISO-8601
}

// HTTPRecorder posts violation records as JSON, one request per record.
type HTTPRecorder struct {
	url        string
	deviceID   string
	httpClient *http.Client
}

// NewHTTPRecorder builds a recorder for the given endpoint. deviceID is the
// opaque identifier used to tag records.
func NewHTTPRecorder(url, deviceID string) *HTTPRecorder {
	return &HTTPRecorder{
		url:        url,
		deviceID:   deviceID,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Record sends the entry asynchronously. It returns immediately; the sector
// exit transition never waits on, or learns about, the outcome.
func (r *HTTPRecorder) Record(entry tracking.HistoryEntry, lastPosition geo.Point) {
	rec := ViolationRecord{
		ID:            uuid.NewString(),
		DeviceID:      r.deviceID,
		SectorID:      entry.SectorID,
		SectorName:    entry.SectorName,
		SpeedLimit:    entry.SpeedLimit,
		CurrentSpeed:  entry.AverageSpeed,
		ViolationType: "normal",
		Timestamp:     time.UnixMilli(entry.TimestampMs).UTC().Format(time.RFC3339),
	}
	if entry.Exceeded {
		rec.ViolationType = "speeding"
	}
	rec.Location.Latitude = lastPosition.Lat
	rec.Location.Longitude = lastPosition.Lon

	go r.send(rec)
}

func (r *HTTPRecorder) send(rec ViolationRecord) {
	body, err := json.Marshal(rec)
	if err != nil {
		log.Printf("recorder: encode record %s: %v", rec.ID, err)
		return
	}
	resp, err := r.httpClient.Post(r.url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("recorder: send record %s: %v", rec.ID, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		log.Printf("recorder: send record %s: HTTP %d", rec.ID, resp.StatusCode)
	}
}
