// Package store implements C1, the durable context store: per-instance
// snapshot, event log, state history, and the paused-instance index,
// grounded on the teacher's pkg/db connection-pool idiom and spec.md §4.1.
package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/statewheel/engine/internal/db"
	"github.com/statewheel/engine/internal/flow"
)

// Store persists StateContexts, their event/state history, and exposes the
// paused-instance index query. A single *sql.DB backs all operations;
// atomicity within one logical step is achieved with a transaction.
type Store struct {
	pool   *db.Pool
	driver string
}

// New wraps an already-opened pool. Call Migrate once before first use.
func New(pool *db.Pool) *Store {
	return &Store{pool: pool, driver: pool.Driver()}
}

// schema is intentionally driver-agnostic: JSON columns are stored as TEXT,
// which both sqlite3 and pgx/stdlib accept without a JSON extension.
const schema = `
CREATE TABLE IF NOT EXISTS state_contexts (
	id TEXT PRIMARY KEY,
	current_state_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	last_updated_at TIMESTAMP NOT NULL,
	local_state TEXT NOT NULL,
	global_state TEXT NOT NULL,
	metadata TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_history (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	context_id TEXT NOT NULL,
	event_id TEXT,
	event_type TEXT,
	event_name TEXT,
	event_data TEXT,
	timestamp TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS state_history (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	context_id TEXT NOT NULL,
	from_state_id TEXT,
	to_state_id TEXT NOT NULL,
	event_id TEXT,
	timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_event_history_context ON event_history(context_id);
CREATE INDEX IF NOT EXISTS idx_state_history_context ON state_history(context_id);
`

// pgSchema is the same schema with Postgres-flavored autoincrement syntax.
const pgSchema = `
CREATE TABLE IF NOT EXISTS state_contexts (
	id TEXT PRIMARY KEY,
	current_state_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	last_updated_at TIMESTAMP NOT NULL,
	local_state TEXT NOT NULL,
	global_state TEXT NOT NULL,
	metadata TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS event_history (
	seq SERIAL PRIMARY KEY,
	context_id TEXT NOT NULL,
	event_id TEXT,
	event_type TEXT,
	event_name TEXT,
	event_data TEXT,
	timestamp TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS state_history (
	seq SERIAL PRIMARY KEY,
	context_id TEXT NOT NULL,
	from_state_id TEXT,
	to_state_id TEXT NOT NULL,
	event_id TEXT,
	timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_event_history_context ON event_history(context_id);
CREATE INDEX IF NOT EXISTS idx_state_history_context ON state_history(context_id);
`

// Migrate creates the schema if absent. Safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := schema
	if s.driver == "pgx" {
		ddl = pgSchema
	}
	if _, err := s.pool.DB().ExecContext(ctx, ddl); err != nil {
		return persistErrf("Migrate", err, "creating schema")
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, so the row-writing
// helpers below can run standalone or as part of a SaveStep transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SaveContext upserts the context snapshot row. It is the durable
// equivalent of a StateContext.Clone() taken at a checkpoint.
func (s *Store) SaveContext(ctx context.Context, sc *flow.StateContext) error {
	return s.saveContext(ctx, s.pool.DB(), sc)
}

func (s *Store) saveContext(ctx context.Context, ex execer, sc *flow.StateContext) error {
	localJSON, err := json.Marshal(sc.LocalState)
	if err != nil {
		return persistErrf("SaveContext", err, "marshal local_state")
	}
	globalJSON, err := json.Marshal(sc.GlobalState)
	if err != nil {
		return persistErrf("SaveContext", err, "marshal global_state")
	}
	metaJSON, err := json.Marshal(sc.Metadata)
	if err != nil {
		return persistErrf("SaveContext", err, "marshal metadata")
	}

	query := s.rebind(`
		INSERT INTO state_contexts (id, current_state_id, created_at, last_updated_at, local_state, global_state, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_state_id = excluded.current_state_id,
			last_updated_at = excluded.last_updated_at,
			local_state = excluded.local_state,
			global_state = excluded.global_state,
			metadata = excluded.metadata
	`)
	if _, err := ex.ExecContext(ctx, query,
		sc.ID, sc.CurrentStateID, sc.CreatedAt, sc.LastUpdatedAt, string(localJSON), string(globalJSON), string(metaJSON),
	); err != nil {
		return persistErrf("SaveContext", err, "instance %s", sc.ID)
	}
	return nil
}

// LoadContext fetches a context snapshot by id, or ErrNotFound.
func (s *Store) LoadContext(ctx context.Context, id string) (*flow.StateContext, error) {
	query := s.rebind(`SELECT id, current_state_id, created_at, last_updated_at, local_state, global_state, metadata FROM state_contexts WHERE id = ?`)
	row := s.pool.DB().QueryRowContext(ctx, query, id)

	var sc flow.StateContext
	var localJSON, globalJSON, metaJSON string
	if err := row.Scan(&sc.ID, &sc.CurrentStateID, &sc.CreatedAt, &sc.LastUpdatedAt, &localJSON, &globalJSON, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, persistErrf("LoadContext", ErrNotFound, "instance %s", id)
		}
		return nil, persistErrf("LoadContext", err, "instance %s", id)
	}
	if err := json.Unmarshal([]byte(localJSON), &sc.LocalState); err != nil {
		return nil, persistErrf("LoadContext", err, "unmarshal local_state for %s", id)
	}
	if err := json.Unmarshal([]byte(globalJSON), &sc.GlobalState); err != nil {
		return nil, persistErrf("LoadContext", err, "unmarshal global_state for %s", id)
	}
	if err := json.Unmarshal([]byte(metaJSON), &sc.Metadata); err != nil {
		return nil, persistErrf("LoadContext", err, "unmarshal metadata for %s", id)
	}
	return &sc, nil
}

// DeleteContext removes the context snapshot and cascades to its event log,
// state history, in a single transaction (spec.md §4.1 deleteContext).
func (s *Store) DeleteContext(ctx context.Context, id string) error {
	tx, err := s.pool.DB().BeginTx(ctx, nil)
	if err != nil {
		return persistErrf("DeleteContext", err, "begin tx for %s", id)
	}
	defer tx.Rollback()

	for _, table := range []string{"event_history", "state_history", "state_contexts"} {
		q := s.rebind("DELETE FROM " + table + " WHERE " + idColumn(table) + " = ?")
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return persistErrf("DeleteContext", err, "deleting from %s for %s", table, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return persistErrf("DeleteContext", err, "commit for %s", id)
	}
	return nil
}

func idColumn(table string) string {
	if table == "state_contexts" {
		return "id"
	}
	return "context_id"
}

// ListContextIDs returns every known instance id.
func (s *Store) ListContextIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.DB().QueryContext(ctx, `SELECT id FROM state_contexts`)
	if err != nil {
		return nil, persistErrf("ListContextIDs", err, "querying")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErrf("ListContextIDs", err, "scanning")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveEvent appends one row to the append-only event log.
func (s *Store) SaveEvent(ctx context.Context, contextID string, evt flow.Event) error {
	return s.saveEvent(ctx, s.pool.DB(), contextID, evt)
}

func (s *Store) saveEvent(ctx context.Context, ex execer, contextID string, evt flow.Event) error {
	dataJSON, err := json.Marshal(evt.Payload)
	if err != nil {
		return persistErrf("SaveEvent", err, "marshal payload")
	}
	query := s.rebind(`
		INSERT INTO event_history (context_id, event_id, event_type, event_name, event_data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	eventType := evt.Type.Namespace + "." + evt.Type.Name
	if _, err := ex.ExecContext(ctx, query, contextID, evt.ID, eventType, evt.Name, string(dataJSON), evt.Timestamp); err != nil {
		return persistErrf("SaveEvent", err, "instance %s", contextID)
	}
	return nil
}

// SaveStateHistory appends one row to the append-only transition log.
func (s *Store) SaveStateHistory(ctx context.Context, entry flow.StateHistoryEntry) error {
	return s.saveStateHistory(ctx, s.pool.DB(), entry)
}

func (s *Store) saveStateHistory(ctx context.Context, ex execer, entry flow.StateHistoryEntry) error {
	query := s.rebind(`
		INSERT INTO state_history (context_id, from_state_id, to_state_id, event_id, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`)
	if _, err := ex.ExecContext(ctx, query, entry.ContextID, nullableString(entry.FromState), entry.ToState, nullableString(entry.EventID), entry.Timestamp); err != nil {
		return persistErrf("SaveStateHistory", err, "instance %s", entry.ContextID)
	}
	return nil
}

// SaveStep persists one durable step atomically in a single transaction:
// the triggering event (if any), the new state-history entry (if the step
// produced a transition), then the resulting context snapshot, in that
// order. This is spec.md §4.1's atomicity contract — event before history
// before context — so a crash never leaves a persisted context whose
// currentStateId lacks its corresponding history entry.
func (s *Store) SaveStep(ctx context.Context, contextID string, evt *flow.Event, entry *flow.StateHistoryEntry, sc *flow.StateContext) error {
	tx, err := s.pool.DB().BeginTx(ctx, nil)
	if err != nil {
		return persistErrf("SaveStep", err, "begin tx for %s", contextID)
	}
	defer tx.Rollback()

	if evt != nil {
		if err := s.saveEvent(ctx, tx, contextID, *evt); err != nil {
			return err
		}
	}
	if entry != nil {
		if err := s.saveStateHistory(ctx, tx, *entry); err != nil {
			return err
		}
	}
	if err := s.saveContext(ctx, tx, sc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return persistErrf("SaveStep", err, "commit for %s", contextID)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetStateHistory returns the full transition history for an instance,
// oldest first.
func (s *Store) GetStateHistory(ctx context.Context, contextID string) ([]flow.StateHistoryEntry, error) {
	query := s.rebind(`
		SELECT from_state_id, to_state_id, event_id, timestamp FROM state_history
		WHERE context_id = ? ORDER BY seq ASC
	`)
	rows, err := s.pool.DB().QueryContext(ctx, query, contextID)
	if err != nil {
		return nil, persistErrf("GetStateHistory", err, "instance %s", contextID)
	}
	defer rows.Close()

	var entries []flow.StateHistoryEntry
	for rows.Next() {
		var e flow.StateHistoryEntry
		var from, eventID sql.NullString
		if err := rows.Scan(&from, &e.ToState, &eventID, &e.Timestamp); err != nil {
			return nil, persistErrf("GetStateHistory", err, "scanning")
		}
		e.FromState = from.String
		e.EventID = eventID.String
		e.ContextID = contextID
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FindPausedInstances returns every instance id whose metadata._pausedAt is
// set (spec.md §4.1 findPausedInstances). Since metadata is stored as an
// opaque JSON blob, filtering happens in Go rather than SQL — acceptable at
// the scale a single engine process manages.
func (s *Store) FindPausedInstances(ctx context.Context) ([]string, error) {
	rows, err := s.pool.DB().QueryContext(ctx, `SELECT id, metadata FROM state_contexts`)
	if err != nil {
		return nil, persistErrf("FindPausedInstances", err, "querying")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, metaJSON string
		if err := rows.Scan(&id, &metaJSON); err != nil {
			return nil, persistErrf("FindPausedInstances", err, "scanning")
		}
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			continue
		}
		if _, paused := meta[flow.MetaPausedAt]; paused {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// rebind swaps '?' placeholders for '$1'-style when talking to pgx; sqlite3
// accepts '?' natively.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = append(out, []byte(itoa(n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
