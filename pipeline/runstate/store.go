// ABOUTME: SQLite-backed index of past runs and their event streams, queryable after the fact.
// ABOUTME: Schema and migration style grounded on the sibling spec/store package's sqlite index.
package runstate

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/bromanko/attractor-sub001/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	workflow_file TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	error TEXT
);
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id),
	kind TEXT NOT NULL,
	node_id TEXT,
	timestamp TEXT NOT NULL,
	data TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);
`

// Store indexes run metadata and event history in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path and ensures the schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening run state store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunRecord is one tracked pipeline execution.
type RunRecord struct {
	ID           string
	WorkflowFile string
	Status       string // "running", "completed", "failed", "cancelled"
	StartedAt    time.Time
	CompletedAt  *time.Time
	Error        string
}

// CreateRun inserts a new run record.
func (s *Store) CreateRun(rec RunRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, workflow_file, status, started_at, completed_at, error) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkflowFile, rec.Status, rec.StartedAt.Format(time.RFC3339Nano), nullableTime(rec.CompletedAt), rec.Error,
	)
	if err != nil {
		return fmt.Errorf("creating run record: %w", err)
	}
	return nil
}

// UpdateRun upserts a run record, used to transition status as a run
// progresses or finishes.
func (s *Store) UpdateRun(rec RunRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, workflow_file, status, started_at, completed_at, error)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, completed_at=excluded.completed_at, error=excluded.error`,
		rec.ID, rec.WorkflowFile, rec.Status, rec.StartedAt.Format(time.RFC3339Nano), nullableTime(rec.CompletedAt), rec.Error,
	)
	if err != nil {
		return fmt.Errorf("updating run record: %w", err)
	}
	return nil
}

// ListRuns returns every tracked run, most recently started first.
func (s *Store) ListRuns() ([]RunRecord, error) {
	rows, err := s.db.Query(`SELECT id, workflow_file, status, started_at, completed_at, error FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started string
		var completed, errMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.WorkflowFile, &rec.Status, &started, &completed, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning run record: %w", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if completed.Valid {
			t, err := time.Parse(time.RFC3339Nano, completed.String)
			if err == nil {
				rec.CompletedAt = &t
			}
		}
		rec.Error = errMsg.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordEvent appends one engine event to runID's event log, assigning it a
// sortable ULID so events.go's in-memory order survives storage.
func (s *Store) RecordEvent(runID string, evt pipeline.PipelineEvent) error {
	dataJSON, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("encoding event data: %w", err)
	}
	id := ulid.Make().String()
	_, err = s.db.Exec(
		`INSERT INTO events (id, run_id, kind, node_id, timestamp, data) VALUES (?, ?, ?, ?, ?, ?)`,
		id, runID, string(evt.Kind), evt.NodeID, evt.Timestamp.Format(time.RFC3339Nano), string(dataJSON),
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// EventRecord is one persisted PipelineEvent, as read back from the store.
type EventRecord struct {
	ID        string
	Kind      pipeline.EventKind
	NodeID    string
	Timestamp time.Time
	Data      map[string]any
}

// QueryEvents returns every event recorded for runID in insertion order
// (ULIDs sort lexicographically by creation time).
func (s *Store) QueryEvents(runID string) ([]EventRecord, error) {
	rows, err := s.db.Query(`SELECT id, kind, node_id, timestamp, data FROM events WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var kind, nodeID, ts, data string
		if err := rows.Scan(&rec.ID, &kind, &nodeID, &ts, &data); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		rec.Kind = pipeline.EventKind(kind)
		rec.NodeID = nodeID
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if data != "" {
			json.Unmarshal([]byte(data), &rec.Data)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
