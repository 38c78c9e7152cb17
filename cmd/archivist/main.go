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

// Package main implements the archivist CLI: bulk, resumable, auditable
// file-format normalization over a directory tree.
//
// Usage:
//
//	archivist convert <source> --dest <dest> [flags]
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/archivist/internal/ui"
)

// version is set via ldflags during build.
var version = "dev"

// GlobalFlags holds the global CLI flags that apply to every command.
type GlobalFlags struct {
	JSON        bool
	NoColor     bool
	Verbose     int
	Quiet       bool
	MetricsAddr string
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress bars, info messages)")
		metricsAddr = flag.String("metrics-addr", "", "Address to serve Prometheus metrics on (e.g. :9090)")
	)

	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `archivist - bulk file-format normalization

Walks a directory tree, identifies each file's media type, converts it
according to a recipe registry, and records every outcome in a durable
catalog so a run can be resumed, retried, or reconverted safely.

Usage:
  archivist convert <source> --dest <dest> [flags]

Commands:
  convert  Run (or resume) a conversion pass over source

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output
  --metrics-addr    Serve Prometheus metrics at this address
  -V, --version     Show version and exit

For command-specific flags: archivist convert --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("archivist version %s\n", version)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *quiet && *verbose > 0 {
		fmt.Fprintln(os.Stderr, "Error: cannot use --quiet and --verbose together")
		os.Exit(1)
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:        *jsonOutput,
		NoColor:     *noColor,
		Verbose:     *verbose,
		Quiet:       *quiet,
		MetricsAddr: *metricsAddr,
	}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "convert":
		os.Exit(runConvert(cmdArgs, globals))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
