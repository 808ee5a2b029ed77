package agent

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/tools"
)

// StoredRun describes one persisted snapshot.
type StoredRun struct {
	ID        string
	Agent     string
	Status    Status
	UpdatedAt time.Time
}

const createSnapshotsSchemaSQL = `
CREATE TABLE IF NOT EXISTS agent_snapshots (
    id VARCHAR(255) PRIMARY KEY,
    agent_name VARCHAR(255) NOT NULL,
    snapshot_json TEXT NOT NULL,
    state VARCHAR(32) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createSnapshotsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_snapshots_agent ON agent_snapshots(agent_name, updated_at)`

// Store persists run snapshots in SQLite. Concurrency is handled by
// database-level locking.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the snapshot database at path. Use ":memory:"
// for an ephemeral store.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "agent.store.open", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range []string{createSnapshotsSchemaSQL, createSnapshotsIndexSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fault.Wrap(fault.KindConfiguration, "agent.store.init", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the snapshot under the given run id.
func (s *Store) Save(ctx context.Context, id, agentName string, state *State) error {
	if id == "" {
		return fault.Validation("agent.store.save", "id", "run id cannot be empty")
	}
	data, err := Snapshot(state)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `INSERT INTO agent_snapshots (id, agent_name, snapshot_json, state, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT (id) DO UPDATE SET
                  agent_name = excluded.agent_name,
                  snapshot_json = excluded.snapshot_json,
                  state = excluded.state,
                  updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query, id, agentName, string(data), string(state.status.Phase), now, now)
	if err != nil {
		return fault.Wrap(fault.KindService, "agent.store.save", err)
	}
	return nil
}

// Load restores the snapshot saved under id, rebinding tools from registry.
func (s *Store) Load(ctx context.Context, id string, registry *tools.Registry) (*State, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_json FROM agent_snapshots WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.KindValidation, "agent.store.load", "no snapshot with id "+id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindService, "agent.store.load", err)
	}
	return Restore([]byte(data), registry)
}

// List returns the stored runs, most recently updated first. An empty
// agentName matches all agents.
func (s *Store) List(ctx context.Context, agentName string) ([]StoredRun, error) {
	query := `SELECT id, agent_name, state, updated_at FROM agent_snapshots`
	args := []any{}
	if agentName != "" {
		query += ` WHERE agent_name = ?`
		args = append(args, agentName)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Wrap(fault.KindService, "agent.store.list", err)
	}
	defer rows.Close()

	var runs []StoredRun
	for rows.Next() {
		var run StoredRun
		var phase string
		if err := rows.Scan(&run.ID, &run.Agent, &phase, &run.UpdatedAt); err != nil {
			return nil, fault.Wrap(fault.KindService, "agent.store.list", err)
		}
		run.Status = Status{Phase: Phase(phase)}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Delete removes the snapshot saved under id. Deleting a missing id is not
// an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_snapshots WHERE id = ?`, id)
	if err != nil {
		return fault.Wrap(fault.KindService, "agent.store.delete", err)
	}
	return nil
}
