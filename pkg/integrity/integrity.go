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
// Package integrity implements the Integrity Check: reconciling the
// catalog's original records against the files actually present under the
// source root before a conversion run proceeds.
package integrity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kraklabs/archivist/pkg/catalog"
)

// Action is the operator's chosen response to a divergence.
type Action string

const (
	ActionContinue Action = "continue"
	ActionAbort    Action = "abort"
	ActionAdd      Action = "add"
	ActionDelete   Action = "delete"
)

// Divergence is the computed difference between the catalog's original
// records and the files on disk under the source root.
type Divergence struct {
	// MissingFromCatalog are files on disk with no original record.
	MissingFromCatalog []string
	// MissingFromDisk are original records whose file no longer exists.
	MissingFromDisk []string
}

func (d Divergence) Empty() bool {
	return len(d.MissingFromCatalog) == 0 && len(d.MissingFromDisk) == 0
}

func (d Divergence) Count() int {
	return len(d.MissingFromCatalog) + len(d.MissingFromDisk)
}

// Compute walks sourceRoot and compares it against the catalog's original
// (source_id empty) records.
func Compute(ctx context.Context, store catalog.Store, sourceRoot string) (Divergence, error) {
	onDisk := map[string]bool{}
	err := filepath.WalkDir(sourceRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != sourceRoot {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(sourceRoot, p)
		if relErr != nil {
			return relErr
		}
		onDisk[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil {
		return Divergence{}, fmt.Errorf("walk source root: %w", err)
	}

	it, err := store.Select(ctx, catalog.Filter{OriginalsOnly: true, IgnoreStatus: true})
	if err != nil {
		return Divergence{}, err
	}
	defer it.Close()

	inCatalog := map[string]bool{}
	for it.Next() {
		inCatalog[it.Record().Path] = true
	}
	if err := it.Err(); err != nil {
		return Divergence{}, err
	}

	var div Divergence
	for p := range onDisk {
		if !inCatalog[p] {
			div.MissingFromCatalog = append(div.MissingFromCatalog, p)
		}
	}
	for p := range inCatalog {
		if !onDisk[p] {
			div.MissingFromDisk = append(div.MissingFromDisk, p)
		}
	}
	sort.Strings(div.MissingFromCatalog)
	sort.Strings(div.MissingFromDisk)
	return div, nil
}

// Apply carries out action for div before conversion proceeds. ActionAdd
// inserts all missing rows in one transaction. ActionDelete removes catalog
// rows keyed by the current path, not source_path, one record at a time:
// it is not atomic, and an error part-way leaves the earlier deletes applied.
func Apply(ctx context.Context, store catalog.Store, action Action, div Divergence) error {
	switch action {
	case ActionContinue, ActionAbort:
		return nil
	case ActionAdd:
		rows := make([]catalog.FileRecord, 0, len(div.MissingFromCatalog))
		for _, p := range div.MissingFromCatalog {
			rows = append(rows, catalog.FileRecord{Path: p, Status: catalog.StatusNew})
		}
		if len(rows) == 0 {
			return nil
		}
		return store.AppendRows(ctx, rows)
	case ActionDelete:
		for _, p := range div.MissingFromDisk {
			id, err := findByPath(ctx, store, p)
			if err != nil {
				return err
			}
			if id == 0 {
				continue
			}
			if err := store.Delete(ctx, id); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown integrity action %q", action)
	}
}

// findByPath resolves a record id by its catalog path, since the store's
// Delete/DeleteDescendants operations are id-keyed. A "missing from disk"
// record is realistically already in a terminal status (converted,
// skipped, ...), so the lookup must set IgnoreStatus to bypass the
// terminal-status exclusion the store otherwise applies by default.
func findByPath(ctx context.Context, store catalog.Store, p string) (int64, error) {
	it, err := store.Select(ctx, catalog.Filter{FromPath: p, ToPath: p + "\x00", IgnoreStatus: true})
	if err != nil {
		return 0, err
	}
	defer it.Close()
	if it.Next() {
		return it.Record().ID, nil
	}
	return 0, it.Err()
}
