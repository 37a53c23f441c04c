package testutil

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDataRootSeedsDirectories(t *testing.T) {
	root := DataRoot(t,
		map[string]string{"a.txt": "blob"},
		map[string]string{"b.md": "doc"},
	)
	data, err := os.ReadFile(filepath.Join(root, "Files", "a.txt"))
	if err != nil || string(data) != "blob" {
		t.Fatalf("Files seed: %q, %v", data, err)
	}
	data, err = os.ReadFile(filepath.Join(root, "SyncFiles", "b.md"))
	if err != nil || string(data) != "doc" {
		t.Fatalf("SyncFiles seed: %q, %v", data, err)
	}
}

func TestWaitForReturnsOnceConditionHolds(t *testing.T) {
	var flip atomic.Bool
	go func() {
		time.Sleep(20 * time.Millisecond)
		flip.Store(true)
	}()
	WaitFor(t, time.Second, "flip", flip.Load)
}
