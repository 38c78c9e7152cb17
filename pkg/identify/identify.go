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
// Package identify implements the Identifier: determining a file's media
// type, format version, and PUID, preferring an external identification
// tool and falling back to content sniffing.
package identify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/h2non/filetype"

	"github.com/kraklabs/archivist/pkg/runner"
)

// Result is one file's identification outcome.
type Result struct {
	Mime     string
	Format   string
	Version  string
	PUID     string
	Encoding string
	Size     int64
}

// toolRecord mirrors the structured JSON line an external identification
// tool emits for a single file, e.g. `{"mime":"application/pdf","puid":"fmt/18","version":"1.4"}`.
type toolRecord struct {
	Mime    string `json:"mime"`
	Format  string `json:"format"`
	Version string `json:"version"`
	PUID    string `json:"puid"`
}

// Identifier resolves media type information for a file. When ToolCommand
// is set, it invokes the external identification tool via the Subprocess
// Runner and parses its structured output; otherwise (or on tool failure)
// it falls back to content sniffing.
type Identifier struct {
	Run        *runner.Runner
	ToolCommand string // e.g. "identify-tool --json <path>"; "<path>" substituted per call
	Timeout     time.Duration
}

// New returns an Identifier. A nil Run falls back to sniffing-only mode.
func New(run *runner.Runner, toolCommand string, timeout time.Duration) *Identifier {
	return &Identifier{Run: run, ToolCommand: toolCommand, Timeout: timeout}
}

// Identify determines the media type of the file at path.
func (id *Identifier) Identify(ctx context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()

	if id.Run != nil && strings.TrimSpace(id.ToolCommand) != "" {
		if res, ok := id.identifyWithTool(ctx, path); ok {
			res.Size = size
			return res, nil
		}
	}

	res, err := id.sniff(path)
	if err != nil {
		return Result{}, err
	}
	res.Size = size
	return res, nil
}

// identifyWithTool shells out to the configured external identification
// tool and parses its single JSON output line. ok is false when the tool
// could not be run or its output did not parse, triggering the sniffing
// fallback.
func (id *Identifier) identifyWithTool(ctx context.Context, path string) (Result, bool) {
	command := strings.ReplaceAll(id.ToolCommand, "<path>", path)
	out, err := id.Run.Run(ctx, command, "", id.Timeout)
	if err != nil || out.ExitCode != 0 || out.TimedOut {
		return Result{}, false
	}
	var rec toolRecord
	if jsonErr := json.Unmarshal([]byte(firstLine(out.Stdout)), &rec); jsonErr != nil {
		return Result{}, false
	}
	if rec.Mime == "" {
		return Result{}, false
	}
	encoding := ""
	if strings.HasPrefix(rec.Mime, "text/") {
		encoding, _ = detectEncoding(path)
	}
	return Result{
		Mime:     rec.Mime,
		Format:   rec.Format,
		Version:  rec.Version,
		PUID:     rec.PUID,
		Encoding: encoding,
	}, true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// sniff classifies a file by reading its leading bytes and matching known
// container/document signatures.
func (id *Identifier) sniff(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 261)
	n, _ := f.Read(head)
	head = head[:n]

	kind, _ := filetype.Match(head)
	if kind != filetype.Unknown {
		return Result{Mime: kind.MIME.Value, Format: kind.Extension}, nil
	}

	encoding, isText := detectEncoding(path)
	if isText {
		return Result{Mime: "text/plain", Encoding: encoding}, nil
	}
	return Result{Mime: "application/octet-stream"}, nil
}

// detectEncoding applies a BOM/UTF-8-validity heuristic to classify a file
// as text and guess its encoding.
func detectEncoding(path string) (encoding string, isText bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	r := bufio.NewReader(f)
	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	buf = buf[:n]

	switch {
	case strings.HasPrefix(string(buf), "\xef\xbb\xbf"):
		return "utf-8", true
	case strings.HasPrefix(string(buf), "\xff\xfe"):
		return "utf-16le", true
	case strings.HasPrefix(string(buf), "\xfe\xff"):
		return "utf-16be", true
	}

	if len(buf) == 0 {
		return "utf-8", true
	}
	if utf8.Valid(buf) {
		for _, b := range buf {
			if b == 0 {
				return "", false
			}
		}
		if isASCII(buf) {
			return "us-ascii", true
		}
		return "utf-8", true
	}
	return "", false
}

func isASCII(buf []byte) bool {
	for _, b := range buf {
		if b > 0x7f {
			return false
		}
	}
	return true
}
