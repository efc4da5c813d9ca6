package route

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/sector-control/catalog"
	"github.com/theoremus-urban-solutions/sector-control/geo"
)

const cacheTTL = 24 * time.Hour

// Config configures the directions service the resolver talks to.
type Config struct {
	BaseURL     string
	AccessToken string
	// Profiles are tried in order; the first usable polyline wins.
	Profiles  []string
	TimeoutMS int
}

type statusError struct {
	code    int
	profile string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("directions profile %s: HTTP %d", e.profile, e.code)
}

type cacheEntry struct {
	polyline  geo.Polyline
	fetchedAt time.Time
}

// Resolver fetches route polylines and memoizes successes process-wide.
// Failures are never cached, so the next call retries.
type Resolver struct {
	cfg        Config
	httpClient *http.Client

	// retryWait is the single pause applied after an HTTP 429.
	retryWait time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewResolver builds a resolver with the standard driving profiles and an
// 8-second per-attempt timeout unless configured otherwise.
func NewResolver(cfg Config) *Resolver {
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = []string{"driving", "driving-traffic"}
	}
	timeout := 8 * time.Second
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	return &Resolver{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		retryWait:  time.Second,
		cache:      map[string]cacheEntry{},
		now:        time.Now,
	}
}

func (r *Resolver) memoKey(s *catalog.Sector) string {
	var b bytes.Buffer
	b.WriteString(s.ID)
	for _, f := range []float64{s.Start.Lon, s.Start.Lat, s.End.Lon, s.End.Lat} {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(f, 'f', 6, 64))
	}
	return b.String()
}

// Resolve returns a road-following polyline between the sector's endpoints,
// or nil when no profile yields a usable one. A nil result with a nil error
// never happens; callers substitute the straight-line fallback on error.
func (r *Resolver) Resolve(ctx context.Context, s *catalog.Sector) (geo.Polyline, error) {
	key := r.memoKey(s)

	r.mu.Lock()
	if e, ok := r.cache[key]; ok && r.now().Sub(e.fetchedAt) < cacheTTL {
		r.mu.Unlock()
		return e.polyline, nil
	}
	r.mu.Unlock()

	var lastErr error
	waited := false
	for i := 0; i < len(r.cfg.Profiles); i++ {
		profile := r.cfg.Profiles[i]
		pl, err := r.fetchProfile(ctx, profile, s)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) {
				switch se.code {
				case http.StatusUnauthorized:
					// Credential failure; no profile will do better.
					return nil, err
				case http.StatusUnprocessableEntity:
					lastErr = err
					continue
				case http.StatusTooManyRequests:
					if !waited {
						waited = true
						select {
						case <-time.After(r.retryWait):
						case <-ctx.Done():
							return nil, ctx.Err()
						}
						i-- // retry the same profile once
						continue
					}
					lastErr = err
					continue
				}
			}
			lastErr = err
			continue
		}
		if len(pl) >= 3 {
			r.mu.Lock()
			r.cache[key] = cacheEntry{polyline: pl, fetchedAt: r.now()}
			r.mu.Unlock()
			return pl, nil
		}
		lastErr = fmt.Errorf("directions profile %s: %d usable coordinates", profile, len(pl))
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no directions profiles configured")
	}
	return nil, lastErr
}

// Invalidate drops any cached polyline for the sector so the next Resolve
// refetches.
func (r *Resolver) Invalidate(s *catalog.Sector) {
	r.mu.Lock()
	delete(r.cache, r.memoKey(s))
	r.mu.Unlock()
}

type directionsResponse struct {
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (r *Resolver) fetchProfile(ctx context.Context, profile string, s *catalog.Sector) (geo.Polyline, error) {
	u := fmt.Sprintf("%s/directions/v5/mapbox/%s/%s,%s;%s,%s",
		r.cfg.BaseURL, profile,
		coord(s.Start.Lon), coord(s.Start.Lat),
		coord(s.End.Lon), coord(s.End.Lat))
	q := url.Values{}
	q.Set("geometries", "geojson")
	q.Set("overview", "full")
	if r.cfg.AccessToken != "" {
		q.Set("access_token", r.cfg.AccessToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directions profile %s: %w", profile, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, profile: profile}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("directions profile %s: %w", profile, err)
	}
	var dr directionsResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return nil, fmt.Errorf("directions profile %s: %w", profile, err)
	}
	if len(dr.Routes) == 0 {
		return nil, fmt.Errorf("directions profile %s: empty response", profile)
	}

	pl := make(geo.Polyline, 0, len(dr.Routes[0].Geometry.Coordinates))
	for _, c := range dr.Routes[0].Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		p := geo.Point{Lon: c[0], Lat: c[1]}
		if !p.Valid() {
			continue
		}
		pl = append(pl, p)
	}
	return pl, nil
}

func coord(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', 6, 64)
}
