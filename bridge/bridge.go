package bridge

import (
	"log"

	"github.com/theoremus-urban-solutions/sector-control/tracking"
)

// Bridge connects one tracker to the persistent store. Suspend is called at
// context-switch boundaries (process about to background or stop), Resume
// when it comes back. The two may run in different processes; the persisted
// snapshot is the source of truth for reconciliation.
type Bridge struct {
	tracker *tracking.Tracker
	store   *Store
}

// New builds a bridge over an opened store.
func New(tracker *tracking.Tracker, store *Store) *Bridge {
	return &Bridge{tracker: tracker, store: store}
}

// Suspend persists the tracker's current snapshot. An idle tracker persists
// an empty-sector snapshot so another context knows the run ended.
func (b *Bridge) Suspend(nowMs int64) error {
	return b.store.SaveSnapshot(b.tracker.Snapshot(nowMs))
}

// Resume loads the persisted snapshot, if any, and reconciles the tracker
// with it. Missing or undecodable snapshots leave the tracker untouched.
func (b *Bridge) Resume() error {
	snap, ok, err := b.store.LoadSnapshot()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	b.tracker.Restore(snap)
	return nil
}

// RecordExit persists one completed run into the retained history. Failures
// are logged and swallowed; history persistence must never interfere with
// the exit transition.
func (b *Bridge) RecordExit(e tracking.HistoryEntry) {
	if err := b.store.AppendHistory(e); err != nil {
		log.Printf("bridge: persist history for sector %s: %v", e.SectorID, err)
	}
}

// History exposes the persisted run history, most recent first.
func (b *Bridge) History(limit int) ([]tracking.HistoryEntry, error) {
	return b.store.History(limit)
}
