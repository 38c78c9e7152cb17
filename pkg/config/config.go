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
// Package config loads the application settings file: the second of the two
// external YAML documents the CLI reads (the first, the Recipe Registry,
// lives in pkg/recipe).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds the application-level defaults: default timeout, the
// keep-original-files default, the office-server runtime path, and whether
// to use an external identification tool.
type Settings struct {
	DefaultTimeout      time.Duration `yaml:"default_timeout"`
	KeepOriginalsByDefault bool       `yaml:"keep_originals_by_default"`
	OfficeServerPath    string        `yaml:"office_server_path"`
	UseExternalIdentifier bool        `yaml:"use_external_identifier"`
	IdentifierTool      string        `yaml:"identifier_tool"`
}

// DefaultSettings seeds conservative defaults before overlaying user YAML.
func DefaultSettings() Settings {
	return Settings{
		DefaultTimeout:        60 * time.Second,
		KeepOriginalsByDefault: false,
		UseExternalIdentifier: true,
		IdentifierTool:        "identify-tool --json <path>",
	}
}

// Unmarshal parses settings YAML on top of DefaultSettings, then validates.
func Unmarshal(data []byte) (*Settings, error) {
	cfg := DefaultSettings()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and parses a settings.yaml file from disk.
func LoadFile(path string) (*Settings, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	cfg, err := Unmarshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return cfg, nil
}

func (c Settings) validate() error {
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be positive, got %s", c.DefaultTimeout)
	}
	return nil
}
