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
// Package pathtree adapts a directory-tree structure for two jobs: listing
// the top-level subfolders of a set of paths, and detecting path collisions
// (two paths that differ only by case). The scheduler's --multi mode and the
// worker's in-place check do not use it; they rely on Store.Subfolders and
// a direct case-insensitive path comparison.
package pathtree

import "strings"

// Node is a directory-tree node recording which files live under it.
// CaseInsensitive controls whether sibling names are compared with
// strings.EqualFold, matching how conversion destinations collide on
// case-insensitive filesystems even though the catalog itself is not.
type Node struct {
	Name            string
	Path            string
	IsFile          bool
	CaseInsensitive bool
	Children        []*Node
}

// New returns an empty root node.
func New(caseInsensitive bool) *Node {
	return &Node{CaseInsensitive: caseInsensitive}
}

func (n *Node) stringEqual(s1, s2 string) bool {
	if n.CaseInsensitive {
		return len(s1) == len(s2) && strings.EqualFold(s1, s2)
	}
	return s1 == s2
}

// Add registers fullPath (a "/"-separated relative path) in the tree.
// It reports false if a file already occupies that position (a case
// collision when CaseInsensitive is set), which the caller surfaces as a
// rename conflict.
func (n *Node) Add(fullPath string) bool {
	return n.addSub(fullPath, fullPath)
}

func (n *Node) addSub(fullPath, subPath string) bool {
	parts := strings.SplitN(subPath, "/", 2)
	head := parts[0]
	for _, c := range n.Children {
		if n.stringEqual(c.Name, head) {
			if len(parts) == 1 {
				return false // already present: case-collision or duplicate
			}
			return c.addSub(fullPath, parts[1])
		}
	}
	if len(parts) == 1 {
		n.Children = append(n.Children, &Node{Name: head, IsFile: true, Path: fullPath, CaseInsensitive: n.CaseInsensitive})
		return true
	}
	child := &Node{Name: head, CaseInsensitive: n.CaseInsensitive}
	n.Children = append(n.Children, child)
	return child.addSub(fullPath, parts[1])
}

// Collides reports whether fullPath would collide (under CaseInsensitive
// comparison) with an already-registered path, without mutating the tree.
func (n *Node) Collides(fullPath string) bool {
	return n.collidesSub(fullPath)
}

func (n *Node) collidesSub(subPath string) bool {
	parts := strings.SplitN(subPath, "/", 2)
	head := parts[0]
	for _, c := range n.Children {
		if n.stringEqual(c.Name, head) {
			if len(parts) == 1 {
				return true
			}
			return c.collidesSub(parts[1])
		}
	}
	return false
}

func (n *Node) childFiles() []string {
	var files []string
	for _, c := range n.Children {
		if c.IsFile {
			files = append(files, c.Path)
		} else {
			files = append(files, c.childFiles()...)
		}
	}
	return files
}

// TopLevelDirs returns the names of the root's immediate subdirectories
// (skipping files directly at the root), used by the Scheduler to
// partition work across subfolders when --multi is set.
func (n *Node) TopLevelDirs() []string {
	var dirs []string
	for _, c := range n.Children {
		if !c.IsFile {
			dirs = append(dirs, c.Name)
		}
	}
	return dirs
}

// Files returns every file path registered under dirName ("" for the
// whole tree).
func (n *Node) Files(dirName string) []string {
	if dirName == "" {
		return n.childFiles()
	}
	parts := strings.SplitN(dirName, "/", 2)
	head := parts[0]
	for _, c := range n.Children {
		if n.stringEqual(c.Name, head) {
			if c.IsFile {
				return []string{c.Path}
			}
			if len(parts) == 1 {
				return c.childFiles()
			}
			return c.Files(parts[1])
		}
	}
	return nil
}
