package cas

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// index wraps the index.sqlite database tracking object ownership and
// lookup keys, mirroring the single-conn-plus-migrate shape the pack uses
// for its own embedded-sqlite store (internal/store.Store).
type index struct {
	db *sql.DB
}

func openIndex(path string) (*index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cas: create index dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cas: open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	ix := &index{db: db}
	if err := ix.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *index) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

func (ix *index) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS objects (
			oid           TEXT PRIMARY KEY,
			kind          TEXT NOT NULL,
			size_bytes    INTEGER NOT NULL,
			created_at    TEXT NOT NULL,
			last_accessed TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS refs (
			oid        TEXT NOT NULL,
			owner_kind TEXT NOT NULL,
			owner_id   TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (oid, owner_kind, owner_id),
			FOREIGN KEY (oid) REFERENCES objects(oid) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_refs_oid ON refs(oid);`,
		`CREATE TABLE IF NOT EXISTS keys (
			lookup_key TEXT PRIMARY KEY,
			oid        TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			FOREIGN KEY (oid) REFERENCES objects(oid) ON DELETE CASCADE
		);`,
	}
	for _, stmt := range stmts {
		if _, err := ix.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("cas: migrate: %w", err)
		}
	}
	return ix.ensureSchemaVersion(ctx)
}

const schemaVersion = "1"

func (ix *index) ensureSchemaVersion(ctx context.Context) error {
	var v string
	err := ix.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		_, err := ix.db.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES ('schema_version', ?)`, schemaVersion)
		return err
	case err != nil:
		return err
	case v != schemaVersion:
		return fmt.Errorf("cas: index schema version %s does not match supported %s; run `px debug cache prune` on an older px first", v, schemaVersion)
	}
	return nil
}

// insertObject records a freshly stored object. Returns nil if the oid is
// already present (store is idempotent on content address).
func (ix *index) insertObject(ctx context.Context, oid string, kind Kind, size int64, now time.Time) error {
	ts := now.UTC().Format(time.RFC3339Nano)
	_, err := ix.db.ExecContext(ctx,
		`INSERT INTO objects(oid, kind, size_bytes, created_at, last_accessed) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(oid) DO NOTHING`,
		oid, string(kind), size, ts, ts)
	return err
}

// touch bumps last_accessed, called on every successful Load so the GC
// grace window is measured from last use, not creation.
func (ix *index) touch(ctx context.Context, oid string, now time.Time) error {
	_, err := ix.db.ExecContext(ctx, `UPDATE objects SET last_accessed = ? WHERE oid = ?`,
		now.UTC().Format(time.RFC3339Nano), oid)
	return err
}

func (ix *index) objectExists(ctx context.Context, oid string) (bool, error) {
	var exists int
	err := ix.db.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE oid = ?`, oid).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (ix *index) objectKind(ctx context.Context, oid string) (Kind, error) {
	var k string
	err := ix.db.QueryRowContext(ctx, `SELECT kind FROM objects WHERE oid = ?`, oid).Scan(&k)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Kind(k), nil
}

func (ix *index) addRef(ctx context.Context, oid, ownerKind, ownerID string, now time.Time) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT INTO refs(oid, owner_kind, owner_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(oid, owner_kind, owner_id) DO NOTHING`,
		oid, ownerKind, ownerID, now.UTC().Format(time.RFC3339Nano))
	return err
}

func (ix *index) removeRef(ctx context.Context, oid, ownerKind, ownerID string) error {
	_, err := ix.db.ExecContext(ctx,
		`DELETE FROM refs WHERE oid = ? AND owner_kind = ? AND owner_id = ?`,
		oid, ownerKind, ownerID)
	return err
}

func (ix *index) removeOwnerRefs(ctx context.Context, ownerKind, ownerID string) error {
	_, err := ix.db.ExecContext(ctx, `DELETE FROM refs WHERE owner_kind = ? AND owner_id = ?`, ownerKind, ownerID)
	return err
}

func (ix *index) refCount(ctx context.Context, oid string) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM refs WHERE oid = ?`, oid).Scan(&n)
	return n, err
}

// gcCandidates returns every unreferenced object whose last_accessed is at
// or before cutoff, oldest-first, eligible for reclamation under the grace
// window (spec.md §4.1 garbage_collect step b/c).
func (ix *index) gcCandidates(ctx context.Context, cutoff time.Time) ([]objectRow, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT o.oid, o.kind, o.size_bytes, o.last_accessed
		FROM objects o
		LEFT JOIN refs r ON r.oid = o.oid
		WHERE r.oid IS NULL AND o.last_accessed <= ?
		ORDER BY o.last_accessed ASC`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []objectRow
	for rows.Next() {
		var row objectRow
		if err := rows.Scan(&row.OID, &row.Kind, &row.SizeBytes, &row.LastAccessed); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// totalSize sums size_bytes over every indexed object, used to decide
// whether the store is still over a size_limit after a grace-respecting
// sweep.
func (ix *index) totalSize(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := ix.db.QueryRowContext(ctx, `SELECT SUM(size_bytes) FROM objects`).Scan(&n)
	return n.Int64, err
}

func (ix *index) deleteObject(ctx context.Context, oid string) error {
	_, err := ix.db.ExecContext(ctx, `DELETE FROM objects WHERE oid = ?`, oid)
	return err
}

func (ix *index) setKey(ctx context.Context, lookupKey, oid string, now time.Time) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT INTO keys(lookup_key, oid, recorded_at) VALUES (?, ?, ?)
		 ON CONFLICT(lookup_key) DO UPDATE SET oid = excluded.oid, recorded_at = excluded.recorded_at`,
		lookupKey, oid, now.UTC().Format(time.RFC3339Nano))
	return err
}

func (ix *index) lookupKey(ctx context.Context, lookupKey string) (string, error) {
	var oid string
	err := ix.db.QueryRowContext(ctx, `SELECT oid FROM keys WHERE lookup_key = ?`, lookupKey).Scan(&oid)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return oid, err
}

// allObjects lists every indexed oid, used by doctor to cross-check the
// on-disk object tree against the index.
func (ix *index) allObjects(ctx context.Context) ([]objectRow, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT oid, kind, size_bytes FROM objects`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []objectRow
	for rows.Next() {
		var row objectRow
		if err := rows.Scan(&row.OID, &row.Kind, &row.SizeBytes); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type objectRow struct {
	OID          string
	Kind         string
	SizeBytes    int64
	LastAccessed string
}
