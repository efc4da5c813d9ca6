package sectorcontrol

import (
	"context"
	"log"
	"time"

	"github.com/theoremus-urban-solutions/sector-control/bridge"
	"github.com/theoremus-urban-solutions/sector-control/catalog"
	"github.com/theoremus-urban-solutions/sector-control/geo"
	"github.com/theoremus-urban-solutions/sector-control/notify"
	"github.com/theoremus-urban-solutions/sector-control/recorder"
	"github.com/theoremus-urban-solutions/sector-control/route"
	"github.com/theoremus-urban-solutions/sector-control/tracking"
)

// Monitor wires the sector catalog, route resolver, tracker, continuity
// bridge and violation recorder into one unit. It is the single consumer of
// location fixes and the single producer of tracking events.
type Monitor struct {
	Catalog  *catalog.Catalog
	Tracker  *tracking.Tracker
	Resolver *route.Resolver
	Bridge   *bridge.Bridge

	store  *bridge.Store
	upload *recorder.HTTPRecorder
	sink   tracking.Sink
}

// NewMonitor builds a monitor from the app config. sink receives every
// tracking event after notification content has been logged; it may be nil.
func NewMonitor(cfg AppConfig, sink tracking.Sink) (*Monitor, error) {
	cat, err := catalog.Load(cfg.SectorsFile)
	if err != nil {
		return nil, err
	}
	store, err := bridge.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	deviceID, err := loadOrCreateDeviceID(cfg.Storage.Path + ".device")
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	m := &Monitor{
		Catalog: cat,
		Resolver: route.NewResolver(route.Config{
			BaseURL:     cfg.Routing.BaseURL,
			AccessToken: cfg.Routing.AccessToken,
			Profiles:    cfg.Routing.Profiles,
			TimeoutMS:   cfg.Routing.TimeoutMS,
		}),
		store: store,
		sink:  sink,
	}
	if cfg.Recorder.URL != "" {
		m.upload = recorder.NewHTTPRecorder(cfg.Recorder.URL, deviceID)
	}
	m.Tracker = tracking.NewTracker(cat, cfg.Tracking, m.onEvent, m)
	m.Bridge = bridge.New(m.Tracker, store)
	return m, nil
}

// ProcessFix feeds one location fix to the tracker.
func (m *Monitor) ProcessFix(f tracking.Fix) {
	m.Tracker.ProcessFix(f)
}

// ResolveRoutes resolves route polylines for every active sector and
// attaches them to the catalog. Run it in the background: until a sector's
// route arrives, the tracker uses the straight-line fallback.
func (m *Monitor) ResolveRoutes(ctx context.Context) {
	if m.Resolver == nil {
		return
	}
	for _, s := range m.Catalog.Sectors() {
		if !s.Active {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		pl, err := m.Resolver.Resolve(ctx, s)
		if err != nil {
			log.Printf("route: sector %s: %v (using straight line)", s.ID, err)
			continue
		}
		m.Catalog.SetRoute(s.ID, pl)
		log.Printf("route: sector %s resolved with %d points", s.ID, len(pl))
	}
}

// Record implements tracking.Recorder: every completed run goes into the
// persisted history, and to the remote recorder when one is configured.
func (m *Monitor) Record(entry tracking.HistoryEntry, lastPosition geo.Point) {
	m.Bridge.RecordExit(entry)
	if m.upload != nil {
		m.upload.Record(entry, lastPosition)
	}
}

func (m *Monitor) onEvent(e tracking.Event) {
	if c, ok := notify.ForEvent(e); ok {
		log.Printf("notify [%s]: %s: %s", e.Type, c.Title, c.Body)
	}
	if m.sink != nil {
		m.sink(e)
	}
}

// Close snapshots the tracker one last time and releases the store.
func (m *Monitor) Close() error {
	if err := m.Bridge.Suspend(time.Now().UnixMilli()); err != nil {
		log.Printf("bridge: final snapshot: %v", err)
	}
	return m.store.Close()
}
