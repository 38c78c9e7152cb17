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
// Package ui provides terminal output helpers: color handles that respect
// --no-color/NO_COLOR, and small formatting conventions (headers, labels,
// counts) shared by the CLI commands.
package ui

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Color handles used throughout the CLI. InitColors decides once, at
// startup, whether these render as ANSI escapes or plain text.
var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Dim    = color.New(color.Faint)
	Bold   = color.New(color.Bold)
)

// InitColors disables color output when noColor is set, NO_COLOR is present
// in the environment, or stdout is not a terminal.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Header prints a bold section title.
func Header(title string) {
	_, _ = Bold.Println(title)
}

// SubHeader prints a secondary section title, in the same bold style as
// Header and without indentation.
func SubHeader(title string) {
	_, _ = Bold.Println(title)
}

// Label renders a field name for a "Label: value" line.
func Label(text string) string {
	return Bold.Sprint(text)
}

// DimText renders text de-emphasized, for paths and secondary detail.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// CountText renders an integer count, de-emphasizing zero.
func CountText(n int) string {
	if n == 0 {
		return Dim.Sprint("0")
	}
	return Bold.Sprintf("%d", n)
}
