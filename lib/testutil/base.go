// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SessionBase returns a fresh base path for a session log, with the
// sessions directory already created.
func SessionBase(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "sessions"), 0o700); err != nil {
		t.Fatalf("creating sessions directory: %v", err)
	}
	return base
}

// SessionDirectories lists the session directory names under base.
func SessionDirectories(t *testing.T, base string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(base, "sessions"))
	if err != nil {
		t.Fatalf("reading sessions directory: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names
}
