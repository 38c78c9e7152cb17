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
// Package catalog implements the persistent job catalog: the durable record
// of every file the pipeline has seen, its identification, and its
// conversion outcome.
package catalog

import (
	"context"
	"time"
)

// Status is a FileRecord's position in the conversion state machine.
type Status string

const (
	StatusNew        Status = "new"
	StatusIdentified Status = "identified"
	StatusConverted  Status = "converted"
	StatusAccepted   Status = "accepted"
	StatusSkipped    Status = "skipped"
	StatusRemoved    Status = "removed"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
	StatusProtected  Status = "protected"
	StatusRenamed    Status = "renamed"
)

// Terminal reports whether a status is one of the state machine's terminal
// outcomes (assigned only by the serialized writer).
func (s Status) Terminal() bool {
	switch s {
	case StatusConverted, StatusAccepted, StatusSkipped, StatusRemoved,
		StatusFailed, StatusTimeout, StatusProtected, StatusRenamed:
		return true
	default:
		return false
	}
}

// Failure reports whether a status represents a failure terminal state,
// i.e. one --retry should re-attempt.
func (s Status) Failure() bool {
	return s == StatusFailed || s == StatusTimeout
}

// Kept is the tri-state flag for whether a usable artifact for this
// record exists at destination/path.
type Kept string

const (
	KeptTrue    Kept = "true"
	KeptFalse   Kept = "false"
	KeptUnknown Kept = ""
)

// FileRecord is one row of the catalog.
type FileRecord struct {
	ID       int64
	Path     string
	SourceID int64 // 0 means "no parent" (original record)
	Mime     string
	Format   string
	Version  string
	PUID     string
	Encoding string
	Size     int64
	Status   Status
	Kept     Kept
	StatusTS time.Time
}

// IsOriginal reports whether the record corresponds to a file originally
// present under the source root (empty source_id).
func (r FileRecord) IsOriginal() bool { return r.SourceID == 0 }

// Fields is a partial update: only non-nil pointers are applied.
// Update uses this rather than a full FileRecord so the writer can express
// "set status and kept" without clobbering fields it didn't touch.
type Fields struct {
	Path     *string
	Mime     *string
	Format   *string
	Version  *string
	PUID     *string
	Encoding *string
	Size     *int64
	Status   *Status
	Kept     *Kept
}

// Filter selects a subset of the catalog. Predicates combine with AND; a nil
// or zero-value predicate is not applied.
type Filter struct {
	Mime   string
	PUID   string
	Ext    string
	Status Status

	OriginalsOnly bool // only records with empty SourceID
	FinishedOnly  bool // only records with Status != new
	Reconvert     bool // include records already in a terminal status
	Retry         bool // include only records in a failure terminal status
	IgnoreStatus  bool // bypass the terminal-status exclusion entirely; a lookup by path needs every record regardless of where it sits in the state machine

	FromPath string // path range [FromPath, ToPath)
	ToPath   string

	Before time.Time // StatusTS < Before, zero means unset
}

// Store is the catalog contract. Implementations MUST stream Select
// results and MUST make a write durable before returning from
// Insert/Update/Delete/DeleteDescendants/AppendRows.
type Store interface {
	Insert(ctx context.Context, r FileRecord) (int64, error)
	Update(ctx context.Context, id int64, f Fields) error
	Delete(ctx context.Context, id int64) error
	DeleteDescendants(ctx context.Context, id int64) error

	Count(ctx context.Context, f Filter) (int, error)
	// Total returns the unfiltered row count, including records in a
	// terminal status. Callers that need "is the catalog empty" (first-run
	// detection) MUST use Total, not Count with a zero-value Filter: a
	// zero-value Filter excludes terminal statuses by default, so Count
	// returns 0 once every record has finished, even though the catalog is
	// fully populated.
	Total(ctx context.Context) (int, error)
	Select(ctx context.Context, f Filter) (Iterator, error)
	Subfolders(ctx context.Context, f Filter) ([]string, error)

	AppendRows(ctx context.Context, rows []FileRecord) error

	// Get fetches a single record by id for operations (e.g. the worker)
	// that need the current row rather than a streamed scan.
	Get(ctx context.Context, id int64) (FileRecord, error)

	Close() error
}

// Iterator streams FileRecord rows from a Select call. Callers MUST call
// Close when done, even after an error from Next.
type Iterator interface {
	Next() bool
	Record() FileRecord
	Err() error
	Close() error
}
