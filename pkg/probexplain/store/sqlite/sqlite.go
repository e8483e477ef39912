package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled and creates the
// ledger tables if needed.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single connection, so concurrent writers queue instead of failing busy.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	algorithm TEXT NOT NULL,
	network TEXT,
	backend TEXT,
	targets TEXT,
	evidence TEXT,
	queries INTEGER DEFAULT 0,
	cache_hits INTEGER DEFAULT 0,
	duration_ns INTEGER DEFAULT 0,
	created_at INTEGER NOT NULL,
	payload TEXT
);

CREATE INDEX IF NOT EXISTS runs_created ON runs(created_at);
CREATE INDEX IF NOT EXISTS runs_algorithm ON runs(algorithm, network);

CREATE TABLE IF NOT EXISTS networks (
	name TEXT PRIMARY KEY,
	variables INTEGER NOT NULL,
	source TEXT,
	updated_at INTEGER NOT NULL
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// SaveRun inserts or replaces a run
func (s *sqliteStore) SaveRun(ctx context.Context, r store.Run) error {
	if r.ID == "" {
		return fmt.Errorf("%w: run without id", internalerr.ErrInvalidInput)
	}
	targetsJSON, err := json.Marshal(r.Targets)
	if err != nil {
		return err
	}
	evidenceJSON, err := json.Marshal(r.Evidence)
	if err != nil {
		return err
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs (id, algorithm, network, backend, targets, evidence, queries, cache_hits, duration_ns, created_at, payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	algorithm=excluded.algorithm,
	network=excluded.network,
	backend=excluded.backend,
	targets=excluded.targets,
	evidence=excluded.evidence,
	queries=excluded.queries,
	cache_hits=excluded.cache_hits,
	duration_ns=excluded.duration_ns,
	created_at=excluded.created_at,
	payload=excluded.payload;
`, r.ID, r.Algorithm, r.Network, r.Backend, string(targetsJSON), string(evidenceJSON),
		int64(r.Queries), int64(r.CacheHits), int64(r.Duration), created.UnixNano(), string(r.Payload))
	return err
}

const runColumns = `id, algorithm, network, backend, targets, evidence, queries, cache_hits, duration_ns, created_at, payload`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (store.Run, error) {
	var (
		r                     store.Run
		network, backend      sql.NullString
		targetsJSON, evidJSON sql.NullString
		payload               sql.NullString
		queries, hits, dur    int64
		created               int64
	)
	if err := row.Scan(&r.ID, &r.Algorithm, &network, &backend, &targetsJSON, &evidJSON,
		&queries, &hits, &dur, &created, &payload); err != nil {
		return store.Run{}, err
	}
	r.Network = network.String
	r.Backend = backend.String
	r.Queries = uint64(queries)
	r.CacheHits = uint64(hits)
	r.Duration = time.Duration(dur)
	r.CreatedAt = time.Unix(0, created).UTC()
	if payload.Valid && payload.String != "" {
		r.Payload = json.RawMessage(payload.String)
	}
	if targetsJSON.Valid && targetsJSON.String != "" {
		if err := json.Unmarshal([]byte(targetsJSON.String), &r.Targets); err != nil {
			return store.Run{}, err
		}
	}
	if evidJSON.Valid && evidJSON.String != "" {
		if err := json.Unmarshal([]byte(evidJSON.String), &r.Evidence); err != nil {
			return store.Run{}, err
		}
	}
	return r, nil
}

// GetRun retrieves a run by ID
func (s *sqliteStore) GetRun(ctx context.Context, id string) (store.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Run{}, fmt.Errorf("%w: run %s", internalerr.ErrNotFound, id)
	}
	return r, err
}

// ListRuns returns matching runs, newest first
func (s *sqliteStore) ListRuns(ctx context.Context, f store.Filter) ([]store.Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = store.DefaultLimit
	}

	var (
		where []string
		args  []any
	)
	if f.Algorithm != "" {
		where = append(where, "algorithm = ?")
		args = append(args, f.Algorithm)
	}
	if f.Network != "" {
		where = append(where, "network = ?")
		args = append(args, f.Network)
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// UpsertNetwork inserts or updates a network definition
func (s *sqliteStore) UpsertNetwork(ctx context.Context, n store.Network) error {
	if n.Name == "" {
		return fmt.Errorf("%w: network without name", internalerr.ErrInvalidInput)
	}
	updated := n.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO networks (name, variables, source, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	variables=excluded.variables,
	source=excluded.source,
	updated_at=excluded.updated_at;
`, n.Name, n.Variables, string(n.Source), updated.UnixNano())
	return err
}

// GetNetwork retrieves a network definition by name
func (s *sqliteStore) GetNetwork(ctx context.Context, name string) (store.Network, bool, error) {
	var (
		n       store.Network
		source  sql.NullString
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, variables, source, updated_at FROM networks WHERE name = ?`, name).
		Scan(&n.Name, &n.Variables, &source, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Network{}, false, nil
	}
	if err != nil {
		return store.Network{}, false, err
	}
	if source.Valid {
		n.Source = []byte(source.String)
	}
	n.UpdatedAt = time.Unix(0, updated).UTC()
	return n, true, nil
}
