// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package layout encodes the naming rules of the configuration tree:
// <root>/<NN>[_suffix]/<role>.<ext>.
package layout

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileRoles are the filename prefixes that carry meaning inside a button directory.
var FileRoles = []string{"image", "background", "update", "action", "draw"}

// IsButtonDir reports whether name starts with two digits.
func IsButtonDir(name string) bool {
	return len(name) >= 2 && isDigit(name[0]) && isDigit(name[1])
}

// ButtonID returns the id encoded in the first two characters of name.
func ButtonID(name string) (int, bool) {
	if !IsButtonDir(name) {
		return 0, false
	}
	return int(name[0]-'0')*10 + int(name[1]-'0'), true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// RoleOf returns the role prefix of a file name ("image" for "image.png").
func RoleOf(filename string) (string, bool) {
	for _, r := range FileRoles {
		if strings.HasPrefix(filename, r) {
			return r, true
		}
	}
	return "", false
}

// ResolveDir returns the directory of button id under root. When several
// directories share the id the lexically first wins.
func ResolveDir(root string, id int) (string, bool) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", false
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := ButtonID(e.Name()); ok && n == id {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return filepath.Join(root, names[0]), true
}

// ButtonIDForPath maps any path inside root to the id of its top-level
// button directory.
func ButtonIDForPath(root, path string) (int, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return 0, false
	}
	top, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return ButtonID(top)
}

// FindImage returns the first image.* file in dir, or "".
func FindImage(dir string) string {
	matches, _ := filepath.Glob(filepath.Join(dir, "image.*"))
	sort.Strings(matches)
	for _, m := range matches {
		if fi, err := os.Lstat(m); err == nil && !fi.IsDir() {
			return m
		}
	}
	return ""
}
