// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package history journals the outcome of signing operations in SQLite.
package history

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite"
)

// Statuses of a journaled operation.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrNotFound is returned by Get for unknown request ids.
var ErrNotFound = stderrors.New("history entry not found")

// Entry is one journaled operation. No signature or key material is kept.
type Entry struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id"`
	Operation string    `json:"operation"`
	Format    string    `json:"format"`
	Status    string    `json:"status"`
	ErrorKind string    `json:"error_kind,omitempty"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
	Signer    string    `json:"signer,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Size      int       `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// Store handles database operations
type Store struct {
	db *sql.DB
}

// DefaultPath is the database location used when none is configured.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	return filepath.Join(home, ".firma", "history.db"), nil
}

// Open opens, creating it when needed, the journal at path. An empty path
// means DefaultPath.
func Open(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		format TEXT,
		status TEXT NOT NULL,
		error_kind TEXT,
		error_msg TEXT,
		signer TEXT,
		filename TEXT,
		size INTEGER,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_operations_request ON operations(request_id);
	CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
	`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save journals e. A zero timestamp is replaced by the current time.
func (s *Store) Save(ctx context.Context, e *Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	query := `
	INSERT INTO operations (request_id, operation, format, status, error_kind, error_msg, signer, filename, size, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query, e.RequestID, e.Operation, e.Format, e.Status, e.ErrorKind, e.ErrorMsg, e.Signer, e.Filename, e.Size, e.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListParams defines the criteria for listing operations
type ListParams struct {
	Status     string
	Format     string
	ErrorRegex string
	Limit      int
}

// List returns the journaled operations matching params, newest first.
func (s *Store) List(ctx context.Context, params ListParams) ([]Entry, error) {
	query := "SELECT " + columns + " FROM operations WHERE 1=1"
	args := []interface{}{}

	if params.Status != "" {
		query += " AND status = ?"
		args = append(args, params.Status)
	}
	if params.Format != "" {
		query += " AND format = ?"
		args = append(args, params.Format)
	}
	query += " ORDER BY timestamp DESC, id DESC"

	var errorRe *regexp.Regexp
	if params.ErrorRegex != "" {
		re, err := regexp.Compile(params.ErrorRegex)
		if err != nil {
			return nil, fmt.Errorf("invalid error regex: %w", err)
		}
		errorRe = re
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		if params.Limit > 0 && len(results) >= params.Limit {
			break
		}
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		if errorRe != nil && !errorRe.MatchString(e.ErrorKind) && !errorRe.MatchString(e.ErrorMsg) {
			continue
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// Get returns the entry of one request.
func (s *Store) Get(ctx context.Context, requestID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM operations WHERE request_id = ?", requestID)
	e, err := scan(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Cleanup deletes the entries older than maxAge and reports how many went.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, "DELETE FROM operations WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return res.RowsAffected()
}

const columns = "id, request_id, operation, format, status, error_kind, error_msg, signer, filename, size, timestamp"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scan(row scanner) (Entry, error) {
	var (
		e                                   Entry
		format, kind, msg, signer, filename sql.NullString
		size                                sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.RequestID, &e.Operation, &format, &e.Status, &kind, &msg, &signer, &filename, &size, &e.Timestamp); err != nil {
		return Entry{}, err
	}
	e.Format, e.ErrorKind, e.ErrorMsg = format.String, kind.String, msg.String
	e.Signer, e.Filename, e.Size = signer.String, filename.String, int(size.Int64)
	return e, nil
}
