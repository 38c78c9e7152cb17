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
// Package recipe implements the Recipe Registry: the immutable mapping from
// a recognized media type (refined by PUID or source extension) to a
// conversion command template and its acceptance/retention policy.
package recipe

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Accept describes an acceptance rule: either unconditional, or a set of
// acceptable format versions, or a set of acceptable encodings.
type Accept struct {
	Always    bool     `yaml:"always,omitempty"`
	Versions  []string `yaml:"versions,omitempty"`
	Encodings []string `yaml:"encodings,omitempty"`
}

// Matches reports whether this acceptance rule covers a record with the
// given version and encoding.
func (a Accept) Matches(version, encoding string) bool {
	if a.Always {
		return true
	}
	for _, v := range a.Versions {
		if v == version {
			return true
		}
	}
	for _, e := range a.Encodings {
		if strings.EqualFold(e, encoding) {
			return true
		}
	}
	return false
}

// Recipe is one conversion rule.
type Recipe struct {
	Command string        `yaml:"command,omitempty"`
	Ext     string        `yaml:"ext,omitempty"`
	DestExt string        `yaml:"dest_ext,omitempty"`
	Accept  Accept        `yaml:"accept,omitempty"`
	Keep    bool          `yaml:"keep,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// HasCommand reports whether this recipe actually converts; an empty
// command means "no conversion".
func (r Recipe) HasCommand() bool { return strings.TrimSpace(r.Command) != "" }

// rawRecipe is the YAML-facing shape for a recipe entry plus its overrides,
// prior to merging. Kept separate from Recipe so overlay fields that are
// "unset" (as opposed to zero-valued) are distinguishable during merge.
type rawRecipe struct {
	Recipe     `yaml:",inline"`
	ByPUID     map[string]Recipe `yaml:"by_puid,omitempty"`
	ByExt      map[string]Recipe `yaml:"by_source_ext,omitempty"`
}

// Registry is the immutable, loaded-once media-type to recipe map. It is
// read-only after Load returns.
type Registry struct {
	byMime map[string]rawRecipe
}

// Load parses a recipes.yaml document. The top-level map is media type ->
// recipe (with optional by_puid / by_source_ext override blocks).
func Load(data []byte) (*Registry, error) {
	var raw map[string]rawRecipe
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse recipe registry: %w", err)
	}
	return &Registry{byMime: raw}, nil
}

// LoadFile reads and parses a recipes.yaml file from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipes file %s: %w", path, err)
	}
	reg, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Lookup resolves the effective recipe for a media type, applying the PUID
// override and then the source-extension override on top of the base
// recipe. ok is false when no base recipe exists for mime, which drives
// the worker's "no recipe" -> skipped transition.
func (reg *Registry) Lookup(mime, puid, sourceExt string) (Recipe, bool) {
	base, ok := reg.byMime[mime]
	if !ok {
		return Recipe{}, false
	}
	effective := base.Recipe
	if puid != "" {
		if over, ok := base.ByPUID[puid]; ok {
			effective = mergeRecipe(effective, over)
		}
	}
	if sourceExt != "" {
		if over, ok := base.ByExt[strings.ToLower(sourceExt)]; ok {
			effective = mergeRecipe(effective, over)
		}
	}
	return effective, true
}

// mergeRecipe overlays non-zero fields of over onto base. Booleans (Keep,
// Accept.Always) are only overridden when the overlay recipe sets them
// explicitly via its own Accept/Keep block being non-empty; a zero-value
// Recipe field in YAML means "not specified" for strings/duration/command,
// but Go's zero value for bool is ambiguous with YAML omission. Since recipe
// overlays are expected to be small and explicit, keep semantics follow the
// base unless the overlay sets Command (which always signals an intentional
// override block).
func mergeRecipe(base, over Recipe) Recipe {
	out := base
	if over.Command != "" {
		out.Command = over.Command
		out.Keep = over.Keep // only an override block that redefines the
		out.Accept = over.Accept // command also redefines keep/accept wholesale
	}
	if over.Ext != "" {
		out.Ext = over.Ext
	}
	if over.DestExt != "" || (over.Command != "" && over.DestExt == "") {
		out.DestExt = over.DestExt
	}
	if over.Timeout != 0 {
		out.Timeout = over.Timeout
	}
	if !over.Accept.Always && len(over.Accept.Versions) == 0 && len(over.Accept.Encodings) == 0 {
		// overlay didn't touch acceptance; keep base's
	} else {
		out.Accept = over.Accept
	}
	return out
}
