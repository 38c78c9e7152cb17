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

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/kraklabs/archivist/internal/ui"
	"github.com/kraklabs/archivist/pkg/integrity"
)

// confirmRun asks the operator to confirm processing count records.
// --yes and --quiet/--json both bypass the prompt.
func confirmRun(count int, yes bool, globals GlobalFlags) bool {
	if yes || globals.Quiet {
		return true
	}
	fmt.Printf("%s %s records matched. Proceed? [y/N] ", ui.Label("About to process"), ui.CountText(count))
	return readYesNo()
}

// promptIntegrityAction prompts the operator for one of continue/abort/
// add/delete after displaying the computed divergence.
func promptIntegrityAction(div integrity.Divergence, yes bool) integrity.Action {
	ui.SubHeader("Integrity check found a divergence")
	fmt.Printf("  %s files on disk not in the catalog\n", ui.CountText(len(div.MissingFromCatalog)))
	fmt.Printf("  %s catalog records missing from disk\n", ui.CountText(len(div.MissingFromDisk)))
	if div.Count() <= 20 {
		for _, p := range div.MissingFromCatalog {
			fmt.Printf("    + %s\n", ui.DimText(p))
		}
		for _, p := range div.MissingFromDisk {
			fmt.Printf("    - %s\n", ui.DimText(p))
		}
	}
	if yes {
		return integrity.ActionContinue
	}

	fmt.Print("Choose: [c]ontinue, [a]bort, add-to-catalog [d], delete-from-disk [x]: ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "a", "abort":
		return integrity.ActionAbort
	case "d", "add":
		return integrity.ActionAdd
	case "x", "delete":
		return integrity.ActionDelete
	default:
		return integrity.ActionContinue
	}
}

func readYesNo() bool {
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
