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
// Package worker implements the File Worker: the per-record state machine
// that identifies a file, selects and runs a conversion recipe, classifies
// the outcome, and, on success that yields derived files, recurses into
// them.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kraklabs/archivist/pkg/catalog"
	"github.com/kraklabs/archivist/pkg/discovery"
	"github.com/kraklabs/archivist/pkg/identify"
	"github.com/kraklabs/archivist/pkg/recipe"
	"github.com/kraklabs/archivist/pkg/runner"
)

// Options carries the CLI flags that vary the worker's behavior.
type Options struct {
	OrigExt          bool
	SetSourceExt     bool
	IdentifyOnly     bool
	KeepOriginals    bool
	Debug            bool
	PurgeDescendants bool // set when this run is --reconvert or --retry
	DefaultTimeout   time.Duration
}

// Outcome is a single worker's contribution to the serialized writer: the
// updated parent record, zero or more new child records, and whether prior
// descendants of the parent should be purged first.
type Outcome struct {
	Parent   catalog.FileRecord
	Children []catalog.FileRecord
	Purge    bool
}

// Worker runs the conversion state machine for one record at a time. It
// holds no mutable state of its own; all mutations are expressed as the
// Outcome it returns.
type Worker struct {
	Recipes    *recipe.Registry
	Identifier *identify.Identifier
	Runner     *runner.Runner
	SourceRoot string
	DestRoot   string
	TempRoot   string
	Options    Options
}

// Process runs rec through the full state machine and returns the resulting
// outcome. It never returns an error: every failure mode the algorithm
// anticipates (missing recipe, failed conversion, encryption, identification
// error) is expressed as a terminal status on the returned record. A
// failing child process never propagates as a Go exception.
func (w *Worker) Process(ctx context.Context, rec catalog.FileRecord) Outcome {
	rec.Status = catalog.StatusIdentified

	// Step 1: path resolution.
	physicalSource := w.physicalPath(rec)

	// Step 2: identification (+ extension-fold correction).
	if rec.Mime == "" || w.Options.IdentifyOnly {
		res, err := w.Identifier.Identify(ctx, physicalSource)
		if err != nil {
			rec.Status = catalog.StatusFailed
			return Outcome{Parent: rec, Purge: w.Options.PurgeDescendants}
		}
		rec.Mime, rec.Format, rec.Version, rec.PUID, rec.Encoding, rec.Size =
			res.Mime, res.Format, res.Version, res.PUID, res.Encoding, res.Size
		rec.Mime = discovery.ApplyFormatIDCorrection(rec.PUID, rec.Mime)
	}

	sourceExt := extOf(rec.Path)
	rcp, hasRecipe := w.Recipes.Lookup(rec.Mime, rec.PUID, sourceExt)
	foldExt := hasRecipe && foldsExtension(sourceExt, rcp.Ext, rec.Mime)

	if w.Options.IdentifyOnly && !w.Options.SetSourceExt {
		return Outcome{Parent: rec, Purge: w.Options.PurgeDescendants}
	}

	// Step 3: recipe lookup.
	if !hasRecipe {
		rec.Status = catalog.StatusSkipped
		return Outcome{Parent: rec, Purge: w.Options.PurgeDescendants}
	}

	// Step 4: acceptance.
	if rcp.Accept.Matches(rec.Version, rec.Encoding) {
		rec.Status = catalog.StatusAccepted
		rec.Kept = catalog.KeptTrue
		return w.applyKeepPolicy(rec, rcp, sourceExt, foldExt, physicalSource)
	}

	// Step 5: encryption short-circuit.
	if rec.Mime == "application/encrypted" {
		rec.Status = catalog.StatusProtected
		rec.Kept = catalog.KeptTrue
		return w.applyKeepPolicy(rec, rcp, sourceExt, foldExt, physicalSource)
	}

	// Step 6: set-source-extension mode.
	if w.Options.SetSourceExt && rec.IsOriginal() && rcp.Ext != "" && sourceExt != rcp.Ext {
		newPath, err := w.renameToCanonicalExt(rec, rcp.Ext)
		if err == nil {
			rec.Path = newPath
			sourceExt = rcp.Ext
			foldExt = false
			physicalSource = w.physicalPath(rec)
		}
	}
	if w.Options.IdentifyOnly {
		return Outcome{Parent: rec, Purge: w.Options.PurgeDescendants}
	}

	if !rcp.HasCommand() {
		if !rcp.Keep && !w.Options.KeepOriginals {
			rec.Status = catalog.StatusRemoved
			if rec.IsOriginal() {
				_ = os.Remove(physicalSource)
			}
			return Outcome{Parent: rec, Purge: w.Options.PurgeDescendants}
		}
		rec.Status = catalog.StatusSkipped
		return w.applyKeepPolicy(rec, rcp, sourceExt, foldExt, physicalSource)
	}

	// Step 7: conversion.
	parentDir, stem := splitStem(rec.Path, sourceExt, foldExt)
	destName := composeDestName(stem, sourceExt, rcp.DestExt, w.Options.OrigExt)
	destRel := path.Join(parentDir, destName)
	destAbs := filepath.Join(w.DestRoot, filepath.FromSlash(destRel))

	runSource := physicalSource
	movedToTemp := false
	tempAbs := ""
	if samePathCaseInsensitive(physicalSource, destAbs) {
		tempAbs = filepath.Join(w.TempRoot, "convert", filepath.FromSlash(rec.Path))
		if err := os.MkdirAll(filepath.Dir(tempAbs), 0o755); err == nil {
			if err := os.Rename(physicalSource, tempAbs); err == nil {
				movedToTemp = true
				runSource = tempAbs
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err != nil {
		rec.Status = catalog.StatusFailed
		return Outcome{Parent: rec, Purge: w.Options.PurgeDescendants}
	}

	timeout := rcp.Timeout
	if timeout <= 0 {
		timeout = w.Options.DefaultTimeout
	}
	command := renderCommand(rcp.Command, map[string]string{
		"source":        runSource,
		"dest":          destAbs,
		"source-parent": filepath.Dir(runSource),
		"dest-parent":   filepath.Dir(destAbs),
		"temp":          filepath.Join(w.TempRoot, "convert"),
		"pid":           strconv.Itoa(os.Getpid()),
		"stem":          stem,
	})

	res, runErr := w.Runner.Run(ctx, command, filepath.Dir(runSource), timeout)
	_, statErr := os.Stat(destAbs)
	switch {
	case runErr != nil:
		rec.Status = catalog.StatusFailed
	case res.ExitCode == 0 && statErr == nil:
		rec.Status = catalog.StatusConverted
	case strings.Contains(res.Stdout, "file requires a password for access"):
		rec.Status = catalog.StatusProtected
	case res.Stdout == runner.TimeoutOutput:
		rec.Status = catalog.StatusTimeout
	default:
		rec.Status = catalog.StatusFailed
	}

	if rec.Status != catalog.StatusConverted {
		_ = os.RemoveAll(destAbs)
		time.Sleep(100 * time.Millisecond)
		if movedToTemp {
			if err := copyFile(tempAbs, physicalSource); err == nil {
				_ = os.Remove(tempAbs)
			}
		}
	} else if movedToTemp {
		_ = os.Remove(tempAbs)
	}

	if rec.Status == catalog.StatusProtected {
		rec.Kept = catalog.KeptTrue
	}

	outcome := w.applyKeepPolicy(rec, rcp, sourceExt, foldExt, physicalSource)
	if rec.Status == catalog.StatusConverted {
		w.emitDerivedArtifacts(ctx, &outcome, destAbs, destRel)
	}
	return outcome
}

// applyKeepPolicy decides whether an original survives the run and, if so,
// copies it to the destination tree under its kept or renamed path.
func (w *Worker) applyKeepPolicy(rec catalog.FileRecord, rcp recipe.Recipe, sourceExt string, foldExt bool, physicalSource string) Outcome {
	if !rec.IsOriginal() {
		return Outcome{Parent: rec, Purge: w.Options.PurgeDescendants}
	}
	shouldKeep := rcp.Keep ||
		rec.Status == catalog.StatusAccepted ||
		rec.Status == catalog.StatusProtected ||
		rec.Status.Failure() ||
		w.Options.KeepOriginals
	if !shouldKeep {
		return Outcome{Parent: rec, Purge: w.Options.PurgeDescendants}
	}

	contradicts := sourceExt == "" || foldsExtension(sourceExt, rcp.Ext, rec.Mime)
	parentDir, stem := splitStem(rec.Path, sourceExt, foldExt)
	var destRel string
	if contradicts && rcp.Ext != "" {
		destRel = path.Join(parentDir, stem+"."+rcp.Ext)
		rec.Status = catalog.StatusRenamed
		rec.Kept = catalog.KeptUnknown
	} else {
		name := stem
		if sourceExt != "" {
			name = stem + "." + sourceExt
		}
		destRel = path.Join(parentDir, name)
		rec.Kept = catalog.KeptTrue
	}
	destAbs := filepath.Join(w.DestRoot, filepath.FromSlash(destRel))
	// In in-place mode the kept path can be the source itself; copying a
	// file onto itself would truncate it, so the file is left where it is.
	if samePathCaseInsensitive(physicalSource, destAbs) {
		return Outcome{Parent: rec, Purge: w.Options.PurgeDescendants}
	}
	if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err == nil {
		_ = copyFile(physicalSource, destAbs)
	}
	return Outcome{Parent: rec, Purge: w.Options.PurgeDescendants}
}

// emitDerivedArtifacts enumerates what a conversion produced at destAbs: a
// directory yields one new leaf child per file found, a single file is
// identified and recursed into unless it degenerates to the parent's own
// format and encoding.
func (w *Worker) emitDerivedArtifacts(ctx context.Context, outcome *Outcome, destAbs, destRel string) {
	info, err := os.Stat(destAbs)
	if err != nil {
		return
	}
	if info.IsDir() {
		_ = filepath.WalkDir(destAbs, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(w.DestRoot, p)
			if relErr != nil {
				return nil
			}
			outcome.Children = append(outcome.Children, catalog.FileRecord{
				Path:     filepath.ToSlash(rel),
				SourceID: outcome.Parent.ID,
				Status:   catalog.StatusNew,
			})
			return nil
		})
		return
	}

	res, err := w.Identifier.Identify(ctx, destAbs)
	if err != nil {
		return
	}
	child := catalog.FileRecord{
		Path:     destRel,
		SourceID: outcome.Parent.ID,
		Mime:     res.Mime,
		Format:   res.Format,
		Version:  res.Version,
		PUID:     res.PUID,
		Encoding: res.Encoding,
		Size:     res.Size,
		Status:   catalog.StatusNew,
	}
	if res.Format == outcome.Parent.Format && res.Encoding == outcome.Parent.Encoding {
		child.Status = catalog.StatusFailed
		child.Kept = catalog.KeptTrue
		outcome.Children = append(outcome.Children, child)
		return
	}
	childOutcome := w.Process(ctx, child)
	outcome.Children = append(outcome.Children, childOutcome.Parent)
	outcome.Children = append(outcome.Children, childOutcome.Children...)
}

func (w *Worker) physicalPath(rec catalog.FileRecord) string {
	if !rec.IsOriginal() {
		return filepath.Join(w.DestRoot, filepath.FromSlash(rec.Path))
	}
	return filepath.Join(w.SourceRoot, filepath.FromSlash(rec.Path))
}

func (w *Worker) renameToCanonicalExt(rec catalog.FileRecord, canonicalExt string) (string, error) {
	dir := path.Dir(rec.Path)
	base := path.Base(rec.Path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	newRel := path.Join(dir, stem+"."+canonicalExt)
	oldAbs := filepath.Join(w.SourceRoot, filepath.FromSlash(rec.Path))
	newAbs := filepath.Join(w.SourceRoot, filepath.FromSlash(newRel))
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return "", err
	}
	return newRel, nil
}

// extOf returns the lowercased extension of name, without the leading dot,
// or "" if there is none.
func extOf(name string) string {
	e := path.Ext(name)
	if e == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(e, "."))
}

// foldsExtension reports whether the file's extension does not match the
// canonical extension for its identified media type, and the type is
// specific enough that this is meaningful (not octet-stream or plain text).
func foldsExtension(sourceExt, canonicalExt, mime string) bool {
	if sourceExt == "" || canonicalExt == "" || sourceExt == canonicalExt {
		return false
	}
	if mime == "application/octet-stream" || mime == "text/plain" {
		return false
	}
	return true
}

// splitStem computes the parent directory and stem (basename without a
// recognized extension) for relPath. When fold is true the original
// extension is folded into the stem rather than stripped, preserving names
// like "archive.custom.tar".
func splitStem(relPath, sourceExt string, fold bool) (parentDir, stem string) {
	parentDir = path.Dir(relPath)
	base := path.Base(relPath)
	if fold || sourceExt == "" {
		return parentDir, base
	}
	return parentDir, strings.TrimSuffix(base, "."+sourceExt)
}

// composeDestName applies the dest-ext / orig-ext concatenation rule:
// "<stem>.<dest-ext>" normally, or "<stem>.<source-ext>.<dest-ext>" when
// orig-ext mode is active and the two extensions differ.
func composeDestName(stem, sourceExt, destExt string, origExt bool) string {
	if destExt == "" {
		return stem
	}
	if origExt && sourceExt != "" && sourceExt != destExt {
		return fmt.Sprintf("%s.%s.%s", stem, sourceExt, destExt)
	}
	return stem + "." + destExt
}

// renderCommand substitutes a recipe's <placeholder> tokens with their
// resolved values.
func renderCommand(tmpl string, sub map[string]string) string {
	out := tmpl
	for k, v := range sub {
		out = strings.ReplaceAll(out, "<"+k+">", v)
	}
	return out
}

// samePathCaseInsensitive reports an in-place conversion collision: source
// and destination are the same path when compared case-insensitively,
// even if they differ in case.
func samePathCaseInsensitive(a, b string) bool {
	return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
