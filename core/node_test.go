package core

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"syncmesh/internal/testutil"
)

// startTestNode boots a full node on an ephemeral loopback port.
func startTestNode(t *testing.T, username, bootstrap string, files, syncFiles map[string]string) *Node {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := Config{
		ListenHost:      "127.0.0.1",
		ListenPort:      0,
		Username:        username,
		BootstrapAddr:   bootstrap,
		DataRoot:        testutil.DataRoot(t, files, syncFiles),
		ConnectTimeout:  2 * time.Second,
		DownloadTimeout: 2 * time.Second,
		WatcherInterval: 50 * time.Millisecond,
	}
	node, err := NewNode(cfg, logger)
	if err != nil {
		t.Fatalf("new node %s: %v", username, err)
	}
	if err := node.Start(); err != nil {
		t.Fatalf("start node %s: %v", username, err)
	}
	t.Cleanup(func() { node.Close() })
	return node
}

func rosterUsernames(n *Node) map[string]bool {
	out := make(map[string]bool)
	for _, p := range n.State().Peers() {
		out[p.Username] = true
	}
	return out
}

func TestTwoNodeBootstrap(t *testing.T) {
	a := startTestNode(t, "A", "", nil, nil)
	b := startTestNode(t, "B", a.Addr().String(), nil, nil)

	testutil.WaitFor(t, 5*time.Second, "mutual rosters", func() bool {
		return rosterUsernames(a)["B"] && rosterUsernames(b)["A"]
	})
	if len(a.State().Peers()) != 1 || len(b.State().Peers()) != 1 {
		t.Fatalf("rosters should hold exactly one peer each")
	}
	if len(a.State().Files()) != 0 || len(b.State().Files()) != 0 {
		t.Fatal("catalogs should be empty")
	}
	if len(a.State().AllSyncFiles()) != 0 || len(b.State().AllSyncFiles()) != 0 {
		t.Fatal("sync tables should be empty")
	}
}

func TestThreeNodeMembershipFanOut(t *testing.T) {
	a := startTestNode(t, "A", "", nil, nil)
	b := startTestNode(t, "B", a.Addr().String(), nil, nil)
	testutil.WaitFor(t, 5*time.Second, "A learns B", func() bool {
		return rosterUsernames(a)["B"]
	})

	c := startTestNode(t, "C", a.Addr().String(), nil, nil)
	testutil.WaitFor(t, 5*time.Second, "full mesh", func() bool {
		return rosterUsernames(a)["B"] && rosterUsernames(a)["C"] &&
			rosterUsernames(b)["A"] && rosterUsernames(b)["C"] &&
			rosterUsernames(c)["A"] && rosterUsernames(c)["B"]
	})
}

func TestFileAdvertisement(t *testing.T) {
	a := startTestNode(t, "A", "", map[string]string{"readme.txt": "hello world.\n"}, nil)
	b := startTestNode(t, "B", a.Addr().String(), nil, nil)

	testutil.WaitFor(t, 5*time.Second, "catalog entry", func() bool {
		return len(b.State().Files()) == 1
	})
	f := b.State().Files()[0]
	if f.Filename != "readme.txt" || f.Username != "A" || f.Addr != a.Addr() {
		t.Fatalf("unexpected catalog entry: %+v", f)
	}
}

func TestDownload(t *testing.T) {
	content := "hello world.\n"
	a := startTestNode(t, "A", "", map[string]string{"readme.txt": content}, nil)
	b := startTestNode(t, "B", a.Addr().String(), nil, nil)

	testutil.WaitFor(t, 5*time.Second, "catalog entry", func() bool {
		return len(b.State().Files()) == 1
	})
	f, _ := b.State().FindFile("readme.txt")
	if err := b.Client().DownloadFile(f); err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := os.ReadFile(b.Store().FilePath("readme.txt"))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != content {
		t.Fatalf("content %q, want %q", got, content)
	}
}

func TestSubscribeAndUpdate(t *testing.T) {
	a := startTestNode(t, "A", "", nil, map[string]string{"notes.md": "v1"})
	b := startTestNode(t, "B", a.Addr().String(), nil, nil)

	testutil.WaitFor(t, 5*time.Second, "sync advertisement", func() bool {
		_, ok := b.State().LookupAvailable("notes.md")
		return ok
	})

	sf, _ := b.State().LookupAvailable("notes.md")
	if err := b.Client().Subscribe(sf); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	got, err := os.ReadFile(b.Store().SyncFilePath("notes.md"))
	if err != nil || string(got) != "v1" {
		t.Fatalf("subscribed content %q, %v", got, err)
	}

	record, ok := a.State().LookupSubscribed("notes.md")
	if !ok || len(record.UsersSubbed) != 2 {
		t.Fatalf("A's record should list two subscribers: %+v", record)
	}
	if !record.UsersSubbed[0].Equal(a.State().Self()) || !record.UsersSubbed[1].Equal(b.State().Self()) {
		t.Fatalf("subscriber order should be [A, B]: %+v", record.UsersSubbed)
	}

	// A edits the document and saves.
	if err := os.WriteFile(a.Store().SyncFilePath("notes.md"), []byte("v2"), 0o644); err != nil {
		t.Fatalf("edit: %v", err)
	}
	a.Watcher().MarkSaved()

	testutil.WaitFor(t, 5*time.Second, "propagated update", func() bool {
		got, err := os.ReadFile(b.Store().SyncFilePath("notes.md"))
		return err == nil && string(got) == "v2"
	})
}

func TestDuplicateSubscribeIsNoop(t *testing.T) {
	a := startTestNode(t, "A", "", nil, map[string]string{"notes.md": "v1"})
	b := startTestNode(t, "B", a.Addr().String(), nil, nil)

	testutil.WaitFor(t, 5*time.Second, "sync advertisement", func() bool {
		_, ok := b.State().LookupAvailable("notes.md")
		return ok
	})
	sf, _ := b.State().LookupAvailable("notes.md")
	if err := b.Client().Subscribe(sf); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	record, _ := a.State().LookupSubscribed("notes.md")
	if err := b.Client().NotifyUserSubscribed(a.State().Self(), b.State().Self(), record); err != nil {
		t.Fatalf("re-notify: %v", err)
	}
	// Dedupe policy: the repeated notification must not grow the list.
	testutil.WaitFor(t, time.Second, "record settles", func() bool {
		record, _ := a.State().LookupSubscribed("notes.md")
		return len(record.UsersSubbed) == 2
	})
	time.Sleep(100 * time.Millisecond)
	record, _ = a.State().LookupSubscribed("notes.md")
	if len(record.UsersSubbed) != 2 {
		t.Fatalf("subscriber count %d, want 2", len(record.UsersSubbed))
	}
}

func TestNodeRequiresUsername(t *testing.T) {
	_, err := NewNode(Config{DataRoot: t.TempDir()}, nil)
	if err == nil {
		t.Fatal("expected an error for a missing username")
	}
}

func TestAdoptLocalSeedsInitialListing(t *testing.T) {
	a := startTestNode(t, "A", "",
		map[string]string{"readme.txt": "x", "skip.txt~": "backup"},
		map[string]string{"notes.md": "v1"})

	initial := a.State().InitialFiles()
	if len(initial) != 1 || initial[0].Filename != "readme.txt" {
		t.Fatalf("initial listing %+v", initial)
	}
	if initial[0].Addr.Port == 0 {
		t.Fatal("initial files must advertise the bound port")
	}
	if _, ok := a.State().LookupSubscribed("notes.md"); !ok {
		t.Fatal("startup sync file should be subscribed")
	}
}
