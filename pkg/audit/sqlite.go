// Copyright (c) Bas van Beek 2022.
// Copyright (c) Tetrate, Inc 2021.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// pure Go SQLite driver
	_ "modernc.org/sqlite"
)

const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS span_tree_audit (
	id            TEXT PRIMARY KEY,
	timestamp     TEXT NOT NULL,
	service       TEXT NOT NULL,
	trace_id      TEXT NOT NULL,
	host_trace_id TEXT,
	root_span     TEXT,
	depth         INTEGER NOT NULL,
	span_count    INTEGER NOT NULL,
	deepest_path  TEXT,
	trace_url     TEXT,
	status_code   INTEGER,
	duration_ms   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_span_tree_audit_trace ON span_tree_audit(trace_id);
CREATE INDEX IF NOT EXISTS idx_span_tree_audit_timestamp ON span_tree_audit(timestamp);
`

const insertEntry = `
INSERT INTO span_tree_audit (
	id, timestamp, service, trace_id, host_trace_id, root_span,
	depth, span_count, deepest_path, trace_url, status_code, duration_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteStore keeps entries in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	insert *sql.Stmt
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	insert, err := db.PrepareContext(ctx, insertEntry)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare audit insert: %w", err)
	}

	return &SQLiteStore{db: db, insert: insert}, nil
}

// Write implements Store.
func (s *SQLiteStore) Write(ctx context.Context, e Entry) error {
	_, err := s.insert.ExecContext(ctx,
		e.ID, e.Timestamp.UTC().Format(timeFormat), e.Service, e.TraceID,
		e.HostTraceID, e.RootSpan, e.Depth, e.SpanCount, e.DeepestPath,
		e.TraceURL, e.StatusCode, e.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Read implements Store.
func (s *SQLiteStore) Read(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.TraceID != "" {
		where = append(where, "trace_id = ?")
		args = append(args, f.TraceID)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UTC().Format(timeFormat))
	}

	query := `SELECT id, timestamp, service, trace_id, host_trace_id, root_span,
	depth, span_count, deepest_path, trace_url, status_code, duration_ms
	FROM span_tree_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                      Entry
			ts                     string
			hostTraceID, rootSpan  sql.NullString
			deepestPath, traceURL  sql.NullString
			statusCode, durationMs sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Service, &e.TraceID, &hostTraceID,
			&rootSpan, &e.Depth, &e.SpanCount, &deepestPath, &traceURL,
			&statusCode, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if e.Timestamp, err = time.Parse(timeFormat, ts); err != nil {
			return nil, fmt.Errorf("invalid audit timestamp %q: %w", ts, err)
		}
		e.HostTraceID = hostTraceID.String
		e.RootSpan = rootSpan.String
		e.DeepestPath = deepestPath.String
		e.TraceURL = traceURL.String
		e.StatusCode = int(statusCode.Int64)
		e.DurationMs = durationMs.Int64
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	_ = s.insert.Close()
	return s.db.Close()
}
