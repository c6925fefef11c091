// Package store implements alert, heartbeat and management-stat persistence
// (spec.md §3, §4.5, §4.8) on modernc.org/sqlite. The WAL-mode pragmas and
// single-writer connection pool are lifted straight from the teacher's
// internal/database/manager.go (openSystemDB) — "SQLite is single-threaded
// for writers, so we limit to 1 connection" serializes the writes here,
// without needing ent's generated client (dropped; see DESIGN.md). Races
// between workers' read-modify-write cycles are caught by InsertNew's
// UNIQUE constraint and Save's version compare-and-set, not by the
// connection cap.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/opsfabric/alertflow/internal/apperr"
	"github.com/opsfabric/alertflow/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id              TEXT PRIMARY KEY,
	environment_key TEXT NOT NULL,
	resource        TEXT NOT NULL,
	event           TEXT NOT NULL,
	status          TEXT NOT NULL,
	doc             TEXT NOT NULL,
	version         INTEGER NOT NULL DEFAULT 0,
	UNIQUE(environment_key, resource, event)
);
CREATE INDEX IF NOT EXISTS idx_alerts_env_resource ON alerts(environment_key, resource);

CREATE TABLE IF NOT EXISTS heartbeats (
	origin TEXT PRIMARY KEY,
	doc    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stats (
	group_name TEXT NOT NULL,
	name       TEXT NOT NULL,
	doc        TEXT NOT NULL,
	PRIMARY KEY (group_name, name)
);
`

// Store is the persistence layer. It is safe for concurrent use: the
// underlying *sql.DB is capped at one open connection, so writes serialize
// naturally (the same pattern the teacher's Manager uses for its per-router
// databases).
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens a sqlite database at path, applying
// WAL pragmas and running the schema migration.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_time_format=sqlite", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.New(apperr.CodeStoreUnavailable, "failed to open store at "+path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, apperr.New(apperr.CodeStoreUnavailable, "failed to set "+p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, apperr.New(apperr.CodeStoreUnavailable, "failed to migrate schema", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func environmentKey(environment []string) string {
	return model.KeyOf(environment, "", "").Environment
}

// FindByKey looks up the alert with the exact identity key (environment,
// resource, event) — the fast path of the Identity rule (spec.md §3).
func (s *Store) FindByKey(ctx context.Context, key model.Key) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc, version FROM alerts WHERE environment_key = ? AND resource = ? AND event = ?`,
		key.Environment, key.Resource, key.Event)
	return scanAlert(row)
}

// FindCandidatesByResource returns every non-closed alert sharing
// environment+resource, for the correlatedEvents fallback match (spec.md §3
// Identity rule's second and third clauses, which a unique index on event
// cannot express).
func (s *Store) FindCandidatesByResource(ctx context.Context, environment []string, resource string) ([]*model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc, version FROM alerts WHERE environment_key = ? AND resource = ? AND status != ?`,
		environmentKey(environment), resource, string(model.StatusClosed))
	if err != nil {
		return nil, apperr.New(apperr.CodeStoreUnavailable, "query candidates failed", err)
	}
	defer rows.Close()

	var out []*model.Alert
	for rows.Next() {
		var doc string
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, apperr.New(apperr.CodeStoreUnavailable, "scan candidate failed", err)
		}
		var alert model.Alert
		if err := json.Unmarshal([]byte(doc), &alert); err != nil {
			return nil, apperr.New(apperr.CodeStoreUnavailable, "decode candidate failed", err)
		}
		alert.Version = version
		out = append(out, &alert)
	}
	return out, rows.Err()
}

// InsertNew inserts a brand-new alert row. If an alert already exists with
// the same (environment, resource, event) key — a race against a concurrent
// insert the correlate engine's read didn't see — InsertNew returns a
// CodeStoreConflict error so the caller re-reads and falls back to the
// duplicate/severity-change path instead of silently overwriting.
func (s *Store) InsertNew(ctx context.Context, alert *model.Alert) error {
	doc, err := json.Marshal(alert)
	if err != nil {
		return apperr.New(apperr.CodeStoreUnavailable, "encode alert failed", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, environment_key, resource, event, status, doc, version) VALUES (?, ?, ?, ?, ?, ?, 0)`,
		alert.ID, environmentKey(alert.Environment), alert.Resource, alert.Event, string(alert.Status), doc)
	if err != nil {
		if isUniqueConflict(err) {
			return apperr.New(apperr.CodeStoreConflict, "alert already exists for key", err)
		}
		return apperr.New(apperr.CodeStoreUnavailable, "insert alert failed", err)
	}
	alert.Version = 0
	return nil
}

// Save persists an in-memory mutation of an existing alert (the
// duplicate-increment and severity-change paths, spec.md §4.5) back to its
// row, keyed by ID, as a compare-and-set on alert.Version: the WHERE clause
// only matches the row this alert was read from, so a concurrent worker
// that already saved a newer version makes this UPDATE affect zero rows
// instead of silently clobbering that worker's mutation. A zero-rows result
// comes back as CodeStoreConflict, which Engine.Process retries by
// re-reading and reclassifying against the now-current row.
func (s *Store) Save(ctx context.Context, alert *model.Alert) error {
	doc, err := json.Marshal(alert)
	if err != nil {
		return apperr.New(apperr.CodeStoreUnavailable, "encode alert failed", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET environment_key = ?, resource = ?, event = ?, status = ?, doc = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		environmentKey(alert.Environment), alert.Resource, alert.Event, string(alert.Status), doc, alert.ID, alert.Version)
	if err != nil {
		return apperr.New(apperr.CodeStoreUnavailable, "save alert failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.CodeStoreConflict, "save alert: version "+fmt.Sprint(alert.Version)+" for id "+alert.ID+" is stale", nil)
	}
	alert.Version++
	return nil
}

func isUniqueConflict(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

func scanAlert(row *sql.Row) (*model.Alert, error) {
	var doc string
	var version int64
	switch err := row.Scan(&doc, &version); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, apperr.New(apperr.CodeStoreUnavailable, "scan alert failed", err)
	}
	var alert model.Alert
	if err := json.Unmarshal([]byte(doc), &alert); err != nil {
		return nil, apperr.New(apperr.CodeStoreUnavailable, "decode alert failed", err)
	}
	alert.Version = version
	return &alert, nil
}

// UpsertHeartbeat records or replaces the heartbeat for hb.Origin (spec.md
// §4.3, self-heartbeat per §4.8).
func (s *Store) UpsertHeartbeat(ctx context.Context, hb *model.Heartbeat) error {
	doc, err := json.Marshal(hb)
	if err != nil {
		return apperr.New(apperr.CodeStoreUnavailable, "encode heartbeat failed", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO heartbeats (origin, doc) VALUES (?, ?)
		 ON CONFLICT(origin) DO UPDATE SET doc = excluded.doc`,
		hb.Origin, doc)
	if err != nil {
		return apperr.New(apperr.CodeStoreUnavailable, "upsert heartbeat failed", err)
	}
	return nil
}

// RecordStat upserts a management stat (spec.md §4.8 counters/gauges).
func (s *Store) RecordStat(ctx context.Context, stat *model.Stat) error {
	doc, err := json.Marshal(stat)
	if err != nil {
		return apperr.New(apperr.CodeStoreUnavailable, "encode stat failed", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stats (group_name, name, doc) VALUES (?, ?, ?)
		 ON CONFLICT(group_name, name) DO UPDATE SET doc = excluded.doc`,
		stat.Group, stat.Name, doc)
	if err != nil {
		return apperr.New(apperr.CodeStoreUnavailable, "upsert stat failed", err)
	}
	return nil
}
