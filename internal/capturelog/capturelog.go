// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package capturelog records uploaded captures in an append-only table.
package capturelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/screencap/internal/config"
)

// ErrEmpty is returned by Latest when nothing has been recorded.
var ErrEmpty = errors.New("capture log is empty")

// Record is one uploaded capture.
type Record struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	CreatedAt   time.Time `json:"created_at"`
}

// Log is the capture log. Rows are never updated, only appended and deleted.
type Log interface {
	Append(ctx context.Context, r Record) (Record, error)
	// List returns up to limit records, newest first; limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]Record, error)
	Latest(ctx context.Context) (Record, error)
	Delete(ctx context.Context, ids []int64) error
	Count(ctx context.Context) (int, error)
	Driver() string
	Ping(ctx context.Context) error
	Close() error
}

// Open opens the log selected by cfg.Driver.
func Open(ctx context.Context, cfg config.LogConfig) (Log, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return OpenSQLite(ctx, cfg.DSN)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown capture log driver %q", cfg.Driver)
	}
}

// =============================================================================
// SHARED SQL IMPLEMENTATION
// =============================================================================

// dialect captures the differences between SQLite and PostgreSQL.
type dialect struct {
	name      string
	schema    string
	returning bool
	bind      func(n int) string
}

type sqlLog struct {
	db *sql.DB
	d  dialect
}

const selectColumns = "id, name, url, content_type, size, width, height, created_at"

func (l *sqlLog) Driver() string { return l.d.name }

func (l *sqlLog) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *sqlLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *sqlLog) migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, l.d.schema); err != nil {
		return fmt.Errorf("create capture log schema: %w", err)
	}
	return nil
}

func (l *sqlLog) placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = l.d.bind(from + i)
	}
	return strings.Join(parts, ", ")
}

func (l *sqlLog) Append(ctx context.Context, r Record) (Record, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.CreatedAt = r.CreatedAt.UTC()

	query := "INSERT INTO captures (name, url, content_type, size, width, height, created_at) VALUES (" +
		l.placeholders(1, 7) + ")"
	args := []interface{}{r.Name, r.URL, r.ContentType, r.Size, r.Width, r.Height, r.CreatedAt.UnixNano()}

	if l.d.returning {
		if err := l.db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&r.ID); err != nil {
			return Record{}, fmt.Errorf("append capture: %w", err)
		}
		return r, nil
	}

	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Record{}, fmt.Errorf("append capture: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return Record{}, fmt.Errorf("append capture: %w", err)
	}
	return r, nil
}

func (l *sqlLog) List(ctx context.Context, limit int) ([]Record, error) {
	query := "SELECT " + selectColumns + " FROM captures ORDER BY created_at DESC, id DESC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT " + l.d.bind(1)
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var created int64
		if err := rows.Scan(&r.ID, &r.Name, &r.URL, &r.ContentType, &r.Size, &r.Width, &r.Height, &created); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *sqlLog) Latest(ctx context.Context) (Record, error) {
	recs, err := l.List(ctx, 1)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrEmpty
	}
	return recs[0], nil
}

func (l *sqlLog) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "DELETE FROM captures WHERE id IN (" + l.placeholders(1, len(ids)) + ")"
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete captures: %w", err)
	}
	return nil
}

func (l *sqlLog) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM captures").Scan(&n); err != nil {
		return 0, fmt.Errorf("count captures: %w", err)
	}
	return n, nil
}
