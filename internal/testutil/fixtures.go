// Package testutil provides small fixtures shared by the package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// DataRoot creates a temporary node data root with Files/ and
// SyncFiles/ seeded from the given name-to-content maps.
func DataRoot(t *testing.T, files, syncFiles map[string]string) string {
	t.Helper()
	root := t.TempDir()
	seedDir(t, filepath.Join(root, "Files"), files)
	seedDir(t, filepath.Join(root, "SyncFiles"), syncFiles)
	return root
}

func seedDir(t *testing.T, dir string, contents map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for name, content := range contents {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
}

// WaitFor polls cond until it holds or the deadline passes.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
