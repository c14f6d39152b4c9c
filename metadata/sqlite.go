package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// Compile-time check to ensure SQLiteTable satisfies the Table interface.
var _ Table = (*SQLiteTable)(nil)

// defaultCacheSize bounds the read-through cache in front of the database.
const defaultCacheSize = 4096

// SQLiteTable is a durable Table backed by a SQLite database. Reads are
// served from an LRU cache when possible; every write invalidates or
// refreshes the cached entry so cache and database never diverge.
//
// The schema holds exactly (id, title, url, summary). Content and vectors
// are never written here.
type SQLiteTable struct {
	db    *sql.DB
	cache *lru.Cache[string, Record]
}

// SQLiteOptions configures a SQLiteTable.
type SQLiteOptions struct {
	// CacheSize is the maximum number of records held in the read cache.
	CacheSize int
}

// NewSQLiteTable opens (creating if needed) a metadata table at path.
// Use ":memory:" for an ephemeral database.
func NewSQLiteTable(path string, optFns ...func(o *SQLiteOptions)) (*SQLiteTable, error) {
	opts := SQLiteOptions{CacheSize: defaultCacheSize}
	for _, fn := range optFns {
		fn(&opts)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("metadata: open sqlite: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id      TEXT PRIMARY KEY,
			title   TEXT NOT NULL DEFAULT '',
			url     TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("metadata: init schema: %w", err)
	}

	cache, err := lru.New[string, Record](opts.CacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("metadata: init cache: %w", err)
	}

	return &SQLiteTable{db: db, cache: cache}, nil
}

// Get returns the record for id, if present.
func (t *SQLiteTable) Get(ctx context.Context, id string) (Record, bool, error) {
	if rec, ok := t.cache.Get(id); ok {
		return rec, true, nil
	}

	var rec Record
	err := t.db.QueryRowContext(ctx,
		`SELECT title, url, summary FROM documents WHERE id = ?`, id,
	).Scan(&rec.Title, &rec.URL, &rec.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("metadata: get %q: %w", id, err)
	}

	t.cache.Add(id, rec)
	return rec, true, nil
}

// Set stores or replaces the record for id.
func (t *SQLiteTable) Set(ctx context.Context, id string, rec Record) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, url, summary) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, url = excluded.url, summary = excluded.summary
	`, id, rec.Title, rec.URL, rec.Summary)
	if err != nil {
		return fmt.Errorf("metadata: set %q: %w", id, err)
	}

	t.cache.Add(id, rec)
	return nil
}

// Delete removes the record for id. Deleting an absent id is a no-op.
func (t *SQLiteTable) Delete(ctx context.Context, id string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("metadata: delete %q: %w", id, err)
	}

	t.cache.Remove(id)
	return nil
}

// Len returns the number of stored records.
func (t *SQLiteTable) Len(ctx context.Context) (int, error) {
	var n int
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("metadata: count: %w", err)
	}
	return n, nil
}

// All returns a copy of the table contents.
func (t *SQLiteTable) All(ctx context.Context) (map[string]Record, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT id, title, url, summary FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("metadata: scan all: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Record)
	for rows.Next() {
		var id string
		var rec Record
		if err := rows.Scan(&id, &rec.Title, &rec.URL, &rec.Summary); err != nil {
			return nil, fmt.Errorf("metadata: scan row: %w", err)
		}
		out[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata: scan all: %w", err)
	}
	return out, nil
}

// ReplaceAll atomically replaces the table contents with recs.
func (t *SQLiteTable) ReplaceAll(ctx context.Context, recs map[string]Record) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: begin replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("metadata: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (id, title, url, summary) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("metadata: prepare insert: %w", err)
	}
	defer stmt.Close()

	for id, rec := range recs {
		if _, err := stmt.ExecContext(ctx, id, rec.Title, rec.URL, rec.Summary); err != nil {
			return fmt.Errorf("metadata: insert %q: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("metadata: commit replace: %w", err)
	}

	t.cache.Purge()
	return nil
}

// Close closes the underlying database.
func (t *SQLiteTable) Close() error {
	t.cache.Purge()
	return t.db.Close()
}
