package bridge

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/theoremus-urban-solutions/sector-control/tracking"
)

const historyCap = 50

// Store is the SQLite-backed persistence for continuity snapshots and the
// sector run history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single writer; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshot (
			id              INTEGER PRIMARY KEY CHECK (id = 1),
			data            TEXT NOT NULL,
			captured_at_ms  BIGINT
		);
		CREATE TABLE IF NOT EXISTS history (
			sector_id       TEXT,
			sector_name     TEXT,
			timestamp_ms    BIGINT,
			average_speed   DOUBLE,
			speed_limit     DOUBLE,
			exceeded        INTEGER,
			duration_ms     BIGINT
		);
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bridge schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveSnapshot upserts the single continuity snapshot row.
func (s *Store) SaveSnapshot(snap tracking.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO snapshot (id, data, captured_at_ms) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, captured_at_ms = excluded.captured_at_ms
	`, string(data), snap.CapturedAtMs)
	return err
}

// LoadSnapshot returns the persisted snapshot, if any.
func (s *Store) LoadSnapshot() (tracking.Snapshot, bool, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM snapshot WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return tracking.Snapshot{}, false, nil
	}
	if err != nil {
		return tracking.Snapshot{}, false, err
	}
	var snap tracking.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return tracking.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// ClearSnapshot removes the persisted snapshot.
func (s *Store) ClearSnapshot() error {
	_, err := s.db.Exec(`DELETE FROM snapshot WHERE id = 1`)
	return err
}

// AppendHistory inserts a completed run and prunes everything past the most
// recent fifty.
func (s *Store) AppendHistory(e tracking.HistoryEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO history (sector_id, sector_name, timestamp_ms, average_speed, speed_limit, exceeded, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.SectorID, e.SectorName, e.TimestampMs, e.AverageSpeed, e.SpeedLimit, boolToInt(e.Exceeded), e.DurationMs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		DELETE FROM history WHERE rowid NOT IN (
			SELECT rowid FROM history ORDER BY timestamp_ms DESC, rowid DESC LIMIT ?
		)
	`, historyCap)
	return err
}

// History returns up to limit entries, most recent first. limit <= 0 means
// the full retained history.
func (s *Store) History(limit int) ([]tracking.HistoryEntry, error) {
	if limit <= 0 || limit > historyCap {
		limit = historyCap
	}
	rows, err := s.db.Query(`
		SELECT sector_id, sector_name, timestamp_ms, average_speed, speed_limit, exceeded, duration_ms
		FROM history ORDER BY timestamp_ms DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []tracking.HistoryEntry
	for rows.Next() {
		var e tracking.HistoryEntry
		var exceeded int
		if err := rows.Scan(&e.SectorID, &e.SectorName, &e.TimestampMs, &e.AverageSpeed, &e.SpeedLimit, &exceeded, &e.DurationMs); err != nil {
			return nil, err
		}
		e.Exceeded = exceeded != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
