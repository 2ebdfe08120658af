// Package db persists cluster snapshots and coordinator transitions in a
// SQLite mission database.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/mission"
	"github.com/banshee-data/cryptomaster/internal/monitoring"
	_ "modernc.org/sqlite"
)

var logf = monitoring.Component("db")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

type DB struct {
	*sql.DB
	path string
}

// NewDB opens (creating if needed) the database at path and brings the
// schema up to date.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// :memory: databases exist per connection.
	sqlDB.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// RecordCluster upserts the latest snapshot of a cluster. It satisfies
// cluster.Recorder.
func (db *DB) RecordCluster(p cluster.Point) error {
	var payload any
	if len(p.Payload) > 0 {
		payload = string(p.Payload)
	}
	_, err := db.Exec(`
		INSERT INTO clusters (cluster_id, idx, label, x, y, n, visited, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(cluster_id) DO UPDATE SET
			idx = excluded.idx,
			x = excluded.x,
			y = excluded.y,
			n = excluded.n,
			visited = excluded.visited,
			updated_at = CURRENT_TIMESTAMP`,
		p.ID, p.Index, p.Label, p.X, p.Y, p.N, p.Visited, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to record cluster %s: %w", p.ID, err)
	}
	return nil
}

// Clusters returns the stored cluster snapshots in arena order.
func (db *DB) Clusters() ([]cluster.Point, error) {
	rows, err := db.Query(`SELECT cluster_id, idx, label, x, y, n, visited, payload
		FROM clusters ORDER BY idx ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []cluster.Point{}
	for rows.Next() {
		var (
			p       cluster.Point
			payload sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Index, &p.Label, &p.X, &p.Y, &p.N, &p.Visited, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			p.Payload = json.RawMessage(payload.String)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Transition is a stored coordinator state change.
type Transition struct {
	ID     int64     `json:"id"`
	At     time.Time `json:"at"`
	From   string    `json:"from"`
	Event  string    `json:"event"`
	To     string    `json:"to"`
	Detail string    `json:"detail,omitempty"`
}

func (t Transition) String() string {
	return fmt.Sprintf("%s %s --%s--> %s %s", t.At.Format(time.RFC3339), t.From, t.Event, t.To, t.Detail)
}

// RecordTransition appends a state change. It satisfies
// mission.EventRecorder.
func (db *DB) RecordTransition(rec mission.TransitionRecord) error {
	_, err := db.Exec(`INSERT INTO transitions (at_unix_nanos, from_state, event, to_state, detail)
		VALUES (?, ?, ?, ?, ?)`,
		rec.At.UnixNano(), rec.From.String(), rec.Event.String(), rec.To.String(), rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record transition %s: %w", rec.Event, err)
	}
	return nil
}

// Transitions returns up to limit of the most recent transitions, oldest
// first.
func (db *DB) Transitions(limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(`SELECT transition_id, at_unix_nanos, from_state, event, to_state, detail
		FROM (SELECT * FROM transitions ORDER BY transition_id DESC LIMIT ?)
		ORDER BY transition_id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Transition{}
	for rows.Next() {
		var (
			t  Transition
			ns int64
		)
		if err := rows.Scan(&t.ID, &ns, &t.From, &t.Event, &t.To, &t.Detail); err != nil {
			return nil, err
		}
		t.At = time.Unix(0, ns).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
