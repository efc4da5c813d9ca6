package catalog

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/theoremus-urban-solutions/sector-control/geo"
)

// Endpoint is one end of a sector: a coordinate plus an optional kilometer
// marker from the road's signage.
type Endpoint struct {
	Lat float64 `yaml:"lat" json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `yaml:"lon" json:"lon" validate:"gte=-180,lte=180"`
	Km  float64 `yaml:"km,omitempty" json:"km,omitempty"`
}

// Point returns the endpoint's coordinate.
func (e Endpoint) Point() geo.Point { return geo.Point{Lon: e.Lon, Lat: e.Lat} }

// Sector is an immutable average-speed enforcement sector definition.
// Route geometry is attached separately via Catalog.SetRoute.
type Sector struct {
	ID            string   `yaml:"id" json:"id" validate:"required"`
	Name          string   `yaml:"name" json:"name" validate:"required"`
	SpeedLimitKmh float64  `yaml:"speed_limit_kmh" json:"speed_limit_kmh" validate:"gt=0"`
	Start         Endpoint `yaml:"start" json:"start"`
	End           Endpoint `yaml:"end" json:"end"`
	Active        bool     `yaml:"active" json:"active"`
}

// StraightLine is the 2-point fallback geometry between the endpoints, used
// for distance math when no resolved route is attached.
func (s *Sector) StraightLine() geo.Polyline {
	return geo.Polyline{s.Start.Point(), s.End.Point()}
}

type catalogFile struct {
	Sectors []Sector `yaml:"sectors"`
}

// Catalog is the read-only sector list plus the route polylines the route
// resolver attaches after load. Routes are replaced wholesale, never mutated.
type Catalog struct {
	sectors []*Sector

	mu     sync.RWMutex
	routes map[string]geo.Polyline
}

// New builds a catalog from already-validated sector definitions.
func New(sectors []Sector) *Catalog {
	c := &Catalog{routes: map[string]geo.Polyline{}}
	for i := range sectors {
		s := sectors[i]
		c.sectors = append(c.sectors, &s)
	}
	return c
}

// Load reads a sector catalog from a YAML file. Entries that fail validation
// (missing id, non-positive limit, out-of-range coordinates) are logged and
// skipped; the rest of the catalog stays usable.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sector catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sector catalog: %w", err)
	}
	v := validator.New()
	valid := make([]Sector, 0, len(f.Sectors))
	for _, s := range f.Sectors {
		if err := v.Struct(s); err != nil {
			log.Printf("catalog: skipping sector %q: %v", s.ID, err)
			continue
		}
		if !s.Start.Point().Valid() || !s.End.Point().Valid() {
			log.Printf("catalog: skipping sector %q: non-finite endpoint", s.ID)
			continue
		}
		valid = append(valid, s)
	}
	return New(valid), nil
}

// Sectors returns all sectors in catalog order.
func (c *Catalog) Sectors() []*Sector {
	out := make([]*Sector, len(c.sectors))
	copy(out, c.sectors)
	return out
}

// Get returns the sector with the given id, or nil.
func (c *Catalog) Get(id string) *Sector {
	for _, s := range c.sectors {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// SetRoute attaches a resolved route polyline to a sector. Polylines with
// fewer than two points are ignored.
func (c *Catalog) SetRoute(sectorID string, pl geo.Polyline) {
	if len(pl) < 2 {
		return
	}
	c.mu.Lock()
	c.routes[sectorID] = pl
	c.mu.Unlock()
}

// RouteFor returns the geometry used for distance math on a sector: its
// attached route, or the straight line between its endpoints.
func (c *Catalog) RouteFor(s *Sector) geo.Polyline {
	c.mu.RLock()
	pl, ok := c.routes[s.ID]
	c.mu.RUnlock()
	if ok {
		return pl
	}
	return s.StraightLine()
}

// HasRealRoute reports whether a resolved route with at least three points is
// attached. 2-point geometries count as the straight-line fallback, not a
// real route, and are excluded from route-aware consumers.
func (c *Catalog) HasRealRoute(sectorID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes[sectorID]) >= 3
}

// FindContaining returns the first active sector whose route geometry (or
// straight-line fallback) has any segment within thresholdMeters of p, or
// whose raw endpoints are within the threshold. When two sectors' geometries
// overlap, catalog order decides.
func (c *Catalog) FindContaining(p geo.Point, thresholdMeters float64) *Sector {
	if !p.Valid() {
		return nil
	}
	for _, s := range c.sectors {
		if !s.Active {
			continue
		}
		if c.RouteFor(s).MinDistanceMeters(p) <= thresholdMeters {
			return s
		}
		if geo.Haversine(p, s.Start.Point()) <= thresholdMeters || geo.Haversine(p, s.End.Point()) <= thresholdMeters {
			return s
		}
	}
	return nil
}
