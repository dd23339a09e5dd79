// Package journal keeps an append-only SQLite log of push and recommend requests.
// It is an audit trail: the tree itself lives in memory and is never rebuilt from it.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Kind is the request type of an entry.
type Kind string

const (
	KindPush      Kind = "push"
	KindRecommend Kind = "recommend"
)

// Entry is one journaled request.
type Entry struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id,omitempty"`
	Playlist    string    `json:"playlist"`
	Kind        Kind      `json:"kind"`
	Recommended *string   `json:"recommended"`
	Rows        int       `json:"rows"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Journal is the SQLite backed request log.
type Journal struct {
	db   *sql.DB
	path string
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{db: db, path: path}
	if err := j.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	var tableExists int
	err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := j.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, j.path)
	}
	return nil
}

// Record appends an entry; a zero CreatedAt is stamped with the current time.
func (j *Journal) Record(ctx context.Context, entry Entry) (int64, error) {
	if entry.Kind != KindPush && entry.Kind != KindRecommend {
		return 0, fmt.Errorf("unknown journal kind %q", entry.Kind)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var recommended sql.NullString
	if entry.Recommended != nil {
		recommended = sql.NullString{String: *entry.Recommended, Valid: true}
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO requests (request_id, playlist, kind, recommended, row_count, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.Playlist, string(entry.Kind), recommended, entry.Rows, entry.Error,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert journal entry: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, request_id, playlist, kind, recommended, row_count, error, created_at
		 FROM requests ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry       Entry
			kind        string
			recommended sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&entry.ID, &entry.RequestID, &entry.Playlist, &kind, &recommended,
			&entry.Rows, &entry.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entry.Kind = Kind(kind)
		if recommended.Valid {
			entry.Recommended = &recommended.String
		}
		if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse journal timestamp %q: %w", createdAt, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
