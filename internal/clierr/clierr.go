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
// Package clierr provides a small taxonomy of operator-facing fatal errors,
// each carrying a one-line cause, reason, and suggested remedy, and a
// FatalError helper that prints them (plain or JSON) and exits non-zero.
package clierr

import (
	"encoding/json"
	"fmt"
	"os"
)

// Kind classifies a fatal error for reporting and, potentially, scripted
// handling by callers that parse --json output.
type Kind string

const (
	KindConfig     Kind = "config"
	KindCatalog    Kind = "catalog"
	KindPermission Kind = "permission"
	KindInternal   Kind = "internal"
)

// UserError is an operator-facing fatal error: what went wrong, why, and
// what to do about it.
type UserError struct {
	Kind   Kind
	Cause  string
	Reason string
	Remedy string
	Err    error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Cause, e.Err)
	}
	return e.Cause
}

func (e *UserError) Unwrap() error { return e.Err }

func newError(kind Kind, cause, reason, remedy string, err error) *UserError {
	return &UserError{Kind: kind, Cause: cause, Reason: reason, Remedy: remedy, Err: err}
}

// NewConfigError reports a problem loading or validating settings/recipe
// configuration files.
func NewConfigError(cause, reason, remedy string, err error) *UserError {
	return newError(KindConfig, cause, reason, remedy, err)
}

// NewCatalogError reports a problem opening or writing the catalog store.
func NewCatalogError(cause, reason, remedy string, err error) *UserError {
	return newError(KindCatalog, cause, reason, remedy, err)
}

// NewPermissionError reports a filesystem permission or access problem.
func NewPermissionError(cause, reason, remedy string, err error) *UserError {
	return newError(KindPermission, cause, reason, remedy, err)
}

// NewInternalError reports an unexpected condition not attributable to
// operator input.
func NewInternalError(cause, reason, remedy string, err error) *UserError {
	return newError(KindInternal, cause, reason, remedy, err)
}

// jsonError is the --json rendering of a UserError.
type jsonError struct {
	Kind   Kind   `json:"kind"`
	Cause  string `json:"cause"`
	Reason string `json:"reason"`
	Remedy string `json:"remedy"`
	Error  string `json:"error,omitempty"`
}

// FatalError prints err and exits the process with status 1. A *UserError
// is rendered with its cause/reason/remedy; any other error is printed as
// an internal error. jsonOutput selects machine-readable rendering.
func FatalError(err error, jsonOutput bool) {
	ue, ok := err.(*UserError)
	if !ok {
		ue = NewInternalError("An unexpected error occurred", err.Error(), "Please report this issue", err)
	}

	if jsonOutput {
		payload := jsonError{Kind: ue.Kind, Cause: ue.Cause, Reason: ue.Reason, Remedy: ue.Remedy}
		if ue.Err != nil {
			payload.Error = ue.Err.Error()
		}
		enc := json.NewEncoder(os.Stderr)
		_ = enc.Encode(payload)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", ue.Cause)
		if ue.Reason != "" {
			fmt.Fprintf(os.Stderr, "  Reason: %s\n", ue.Reason)
		}
		if ue.Remedy != "" {
			fmt.Fprintf(os.Stderr, "  Try: %s\n", ue.Remedy)
		}
		if ue.Err != nil {
			fmt.Fprintf(os.Stderr, "  Detail: %v\n", ue.Err)
		}
	}
	os.Exit(1)
}
