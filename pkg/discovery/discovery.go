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
// Package discovery implements the Discovery component: the first-run
// filesystem walk that seeds the catalog with one record per source file.
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/archivist/pkg/catalog"
)

// formatIDCorrections are well-known identification corrections applied
// at ingest time.
var formatIDCorrections = map[string]string{
	"x-fmt/18": "text/plain",
	"fmt/979":  "application/xml",
}

// batchSize bounds how many records accumulate before a bulk AppendRows
// call, so a very large tree doesn't hold its entire record set in memory.
const batchSize = 500

// Walk performs the initial filesystem walk of sourceRoot, skipping
// dotfile paths, and bulk-inserts one status=new record per regular file.
func Walk(ctx context.Context, store catalog.Store, sourceRoot string) (int, error) {
	var batch []catalog.FileRecord
	count := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.AppendRows(ctx, batch); err != nil {
			return err
		}
		count += len(batch)
		batch = batch[:0]
		return nil
	}

	err := filepath.WalkDir(sourceRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if isDotfile(p, sourceRoot) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(sourceRoot, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		rec := catalog.FileRecord{
			Path:   rel,
			Status: catalog.StatusNew,
		}
		batch = append(batch, rec)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	if flushErr := flush(); flushErr != nil {
		return count, flushErr
	}
	return count, nil
}

// isDotfile reports whether any path segment between sourceRoot and p
// begins with ".".
func isDotfile(p, sourceRoot string) bool {
	rel, err := filepath.Rel(sourceRoot, p)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

// ApplyFormatIDCorrection maps a format-id correction onto a media type.
// It returns mime unchanged when formatID has no known correction.
func ApplyFormatIDCorrection(formatID, mime string) string {
	if corrected, ok := formatIDCorrections[formatID]; ok {
		return corrected
	}
	return mime
}
