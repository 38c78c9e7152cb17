// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS file_records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	path       TEXT NOT NULL,
	source_id  INTEGER NOT NULL DEFAULT 0,
	mime       TEXT NOT NULL DEFAULT '',
	format     TEXT NOT NULL DEFAULT '',
	version    TEXT NOT NULL DEFAULT '',
	puid       TEXT NOT NULL DEFAULT '',
	encoding   TEXT NOT NULL DEFAULT '',
	size       INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'new',
	kept       TEXT NOT NULL DEFAULT '',
	status_ts  INTEGER NOT NULL DEFAULT 0,
	UNIQUE(path)
);
CREATE INDEX IF NOT EXISTS idx_file_records_status ON file_records(status);
CREATE INDEX IF NOT EXISTS idx_file_records_source_id ON file_records(source_id);
CREATE INDEX IF NOT EXISTS idx_file_records_mime ON file_records(mime);
CREATE INDEX IF NOT EXISTS idx_file_records_puid ON file_records(puid);
`

// SQLiteStore is the default Store implementation, backed by an embedded
// SQLite database file. All mutating calls run inside a transaction so a
// write is durable (fsynced) before the call returns to the caller.
type SQLiteStore struct {
	db *sql.DB
	// mu serializes writes; SQLite allows one writer at a time anyway, but
	// taking the lock in Go avoids surfacing SQLITE_BUSY to callers that
	// expect Store methods never to need their own retry logic.
	mu sync.Mutex
}

// Open opens (creating if absent) a SQLite-backed catalog at path.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Insert(ctx context.Context, r FileRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Status == "" {
		r.Status = StatusNew
	}
	ts := r.StatusTS
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO file_records (path, source_id, mime, format, version, puid, encoding, size, status, kept, status_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Path, r.SourceID, r.Mime, r.Format, r.Version, r.PUID, r.Encoding, r.Size,
		string(r.Status), string(r.Kept), ts.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", r.Path, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) AppendRows(ctx context.Context, rows []FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_records (path, source_id, mime, format, version, puid, encoding, size, status, kept, status_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, r := range rows {
		if r.Status == "" {
			r.Status = StatusNew
		}
		ts := now
		if !r.StatusTS.IsZero() {
			ts = r.StatusTS.UnixNano()
		}
		if _, err := stmt.ExecContext(ctx, r.Path, r.SourceID, r.Mime, r.Format, r.Version,
			r.PUID, r.Encoding, r.Size, string(r.Status), string(r.Kept), ts); err != nil {
			return fmt.Errorf("append %s: %w", r.Path, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Update(ctx context.Context, id int64, f Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{"status_ts = ?"}
	args := []any{time.Now().UnixNano()}
	if f.Path != nil {
		sets = append(sets, "path = ?")
		args = append(args, *f.Path)
	}
	if f.Mime != nil {
		sets = append(sets, "mime = ?")
		args = append(args, *f.Mime)
	}
	if f.Format != nil {
		sets = append(sets, "format = ?")
		args = append(args, *f.Format)
	}
	if f.Version != nil {
		sets = append(sets, "version = ?")
		args = append(args, *f.Version)
	}
	if f.PUID != nil {
		sets = append(sets, "puid = ?")
		args = append(args, *f.PUID)
	}
	if f.Encoding != nil {
		sets = append(sets, "encoding = ?")
		args = append(args, *f.Encoding)
	}
	if f.Size != nil {
		sets = append(sets, "size = ?")
		args = append(args, *f.Size)
	}
	if f.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.Kept != nil {
		sets = append(sets, "kept = ?")
		args = append(args, string(*f.Kept))
	}
	args = append(args, id)

	q := fmt.Sprintf("UPDATE file_records SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update %d: no such record", id)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM file_records WHERE id = ?`, id)
	return err
}

// DeleteDescendants removes the entire subtree rooted at id (children,
// grandchildren, ...) ahead of a reconvert or retry. SQLite's recursive CTE
// support does this in one statement without materializing the tree in Go.
func (s *SQLiteStore) DeleteDescendants(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		WITH RECURSIVE descendants(id) AS (
			SELECT id FROM file_records WHERE source_id = ?
			UNION ALL
			SELECT fr.id FROM file_records fr JOIN descendants d ON fr.source_id = d.id
		)
		DELETE FROM file_records WHERE id IN (SELECT id FROM descendants)`, id)
	if err != nil {
		return fmt.Errorf("delete descendants of %d: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (FileRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM file_records WHERE id = ?`, id)
	return scanRecord(row)
}

func (s *SQLiteStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := buildWhere(f)
	q := "SELECT COUNT(*) FROM file_records" + where
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Total returns the unfiltered row count: every record regardless of
// status. Used for first-run detection, where Count(ctx, Filter{}) would
// wrongly report 0 once every record has reached a terminal status.
func (s *SQLiteStore) Total(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM file_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("total: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Subfolders(ctx context.Context, f Filter) ([]string, error) {
	where, args := buildWhere(f)
	q := "SELECT DISTINCT path FROM file_records" + where
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("subfolders: %w", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		top := topLevelDir(p)
		if top == "" || seen[top] {
			continue
		}
		seen[top] = true
		out = append(out, top)
	}
	return out, rows.Err()
}

func topLevelDir(path string) string {
	i := strings.IndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

const selectColumns = `SELECT id, path, source_id, mime, format, version, puid, encoding, size, status, kept, status_ts`

func (s *SQLiteStore) Select(ctx context.Context, f Filter) (Iterator, error) {
	where, args := buildWhere(f)
	q := selectColumns + " FROM file_records" + where + " ORDER BY path"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return &sqlIterator{rows: rows}, nil
}

func buildWhere(f Filter) (string, []any) {
	var clauses []string
	var args []any

	if f.Mime != "" {
		clauses = append(clauses, "mime = ?")
		args = append(args, f.Mime)
	}
	if f.PUID != "" {
		clauses = append(clauses, "puid = ?")
		args = append(args, f.PUID)
	}
	if f.Ext != "" {
		clauses = append(clauses, "path LIKE ?")
		args = append(args, "%"+f.Ext)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.OriginalsOnly {
		clauses = append(clauses, "source_id = 0")
	}
	if f.FinishedOnly {
		clauses = append(clauses, "status != ?")
		args = append(args, string(StatusNew))
	}
	if f.IgnoreStatus {
		// Bypass both the retry and terminal-status defaults below: a
		// path lookup needs to find a record wherever it sits.
	} else if f.Retry {
		clauses = append(clauses, "status IN (?, ?)")
		args = append(args, string(StatusFailed), string(StatusTimeout))
	} else if !f.Reconvert {
		// Default: only records not yet in a terminal status are eligible.
		clauses = append(clauses, "status NOT IN (?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			string(StatusConverted), string(StatusAccepted), string(StatusSkipped),
			string(StatusRemoved), string(StatusFailed), string(StatusTimeout),
			string(StatusProtected), string(StatusRenamed))
	}
	if f.FromPath != "" {
		clauses = append(clauses, "path >= ?")
		args = append(args, f.FromPath)
	}
	if f.ToPath != "" {
		clauses = append(clauses, "path < ?")
		args = append(args, f.ToPath)
	}
	if !f.Before.IsZero() {
		clauses = append(clauses, "status_ts < ?")
		args = append(args, f.Before.UnixNano())
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (FileRecord, error) {
	var r FileRecord
	var status, kept string
	var tsNanos int64
	err := row.Scan(&r.ID, &r.Path, &r.SourceID, &r.Mime, &r.Format, &r.Version,
		&r.PUID, &r.Encoding, &r.Size, &status, &kept, &tsNanos)
	if err != nil {
		return FileRecord{}, err
	}
	r.Status = Status(status)
	r.Kept = Kept(kept)
	r.StatusTS = time.Unix(0, tsNanos)
	return r, nil
}

type sqlIterator struct {
	rows *sql.Rows
	cur  FileRecord
	err  error
}

func (it *sqlIterator) Next() bool {
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	it.cur, it.err = scanRecord(it.rows)
	return it.err == nil
}

func (it *sqlIterator) Record() FileRecord { return it.cur }
func (it *sqlIterator) Err() error         { return it.err }
func (it *sqlIterator) Close() error       { return it.rows.Close() }
