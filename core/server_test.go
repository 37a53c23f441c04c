package core

import (
	"net"
	"os"
	"testing"
	"time"

	"syncmesh/internal/testutil"
)

// rawDial opens a plain client connection to a test node.
func rawDial(t *testing.T, n *Node) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", n.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestUnknownTagClosesWithoutOk(t *testing.T) {
	n := startTestNode(t, "A", "", nil, nil)
	conn := rawDial(t, n)

	field := make([]byte, RequestTagWidth)
	copy(field, "Gossip")
	if _, err := conn.Write(field); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("server must close the connection without replying")
	}
}

func TestShortTagClosesConnection(t *testing.T) {
	n := startTestNode(t, "A", "", nil, nil)
	conn := rawDial(t, n)

	conn.Write([]byte("AddMe\x00\x00")) // under-width field
	tcp := conn.(*net.TCPConn)
	tcp.CloseWrite()
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("server must close on a truncated tag field")
	}
}

func TestRequestPeerListIncludesSelf(t *testing.T) {
	n := startTestNode(t, "A", "", nil, nil)
	conn := rawDial(t, n)

	if err := WriteRequest(conn, ReqRequestPeerList); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("ok: %v", err)
	}
	var peers []Peer
	if ok, err := ReadJSONPayload(conn, &peers); err != nil || !ok {
		t.Fatalf("payload: ok=%v err=%v", ok, err)
	}
	if len(peers) != 1 || !peers[0].Equal(n.State().Self()) {
		t.Fatalf("peer list %+v, want just self", peers)
	}
}

func TestAddMeIsIdempotent(t *testing.T) {
	n := startTestNode(t, "A", "", nil, nil)
	joiner := Peer{Addr: HostPort{Host: "127.0.0.1", Port: 50999}, Username: "Z"}

	for i := 0; i < 2; i++ {
		conn := rawDial(t, n)
		if err := WriteRequest(conn, ReqAddMe); err != nil {
			t.Fatalf("request: %v", err)
		}
		if err := ExpectOk(conn); err != nil {
			t.Fatalf("ok: %v", err)
		}
		if err := WriteJSONPayload(conn, joiner); err != nil {
			t.Fatalf("payload: %v", err)
		}
		conn.Close()
	}
	testutil.WaitFor(t, 2*time.Second, "roster insert", func() bool {
		return len(n.State().Peers()) == 1
	})
	time.Sleep(50 * time.Millisecond)
	if got := len(n.State().Peers()); got != 1 {
		t.Fatalf("roster size %d after repeated AddMe, want 1", got)
	}
}

func TestUserJoinedIsIdempotent(t *testing.T) {
	n := startTestNode(t, "A", "", nil, nil)
	joiner := Peer{Addr: HostPort{Host: "127.0.0.1", Port: 50998}, Username: "Y"}

	for i := 0; i < 2; i++ {
		conn := rawDial(t, n)
		WriteRequest(conn, ReqUserJoined)
		if err := ExpectOk(conn); err != nil {
			t.Fatalf("ok: %v", err)
		}
		WriteJSONPayload(conn, joiner)
		conn.Close()
	}
	testutil.WaitFor(t, 2*time.Second, "roster insert", func() bool {
		return len(n.State().Peers()) == 1
	})
	time.Sleep(50 * time.Millisecond)
	if got := len(n.State().Peers()); got != 1 {
		t.Fatalf("roster size %d after repeated UserJoined, want 1", got)
	}
}

func TestSendFilesSkipsLocallyPresentNames(t *testing.T) {
	n := startTestNode(t, "A", "", map[string]string{"have.txt": "x"}, nil)
	conn := rawDial(t, n)

	remote := HostPort{Host: "127.0.0.1", Port: 50997}
	WriteRequest(conn, ReqSendFiles)
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("ok: %v", err)
	}
	WriteJSONPayload(conn, []File{
		{Filename: "have.txt", Username: "X", Addr: remote},
		{Filename: "new.txt", Username: "X", Addr: remote},
	})
	conn.Close()

	testutil.WaitFor(t, 2*time.Second, "catalog merge", func() bool {
		return len(n.State().Files()) == 1
	})
	if _, ok := n.State().FindFile("new.txt"); !ok {
		t.Fatal("new.txt should be catalogued")
	}
	if _, ok := n.State().FindFile("have.txt"); ok {
		t.Fatal("locally present name must not be catalogued")
	}
}

func TestDownloadMissingFileSendsZeroBody(t *testing.T) {
	n := startTestNode(t, "A", "", nil, nil)
	conn := rawDial(t, n)

	WriteRequest(conn, ReqDownloadFile)
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("ok: %v", err)
	}
	WriteJSONPayload(conn, File{Filename: "ghost.txt", Username: "A", Addr: n.Addr()})
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("second ok: %v", err)
	}
	size, err := ReadLength(conn)
	if err != nil {
		t.Fatalf("length: %v", err)
	}
	if size != 0 {
		t.Fatalf("missing file answered %d bytes, want 0", size)
	}
}

func TestDownloadStreamsFullBody(t *testing.T) {
	content := "hello world.\n"
	n := startTestNode(t, "A", "", map[string]string{"readme.txt": content}, nil)
	conn := rawDial(t, n)

	WriteRequest(conn, ReqDownloadFile)
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("ok: %v", err)
	}
	WriteJSONPayload(conn, File{Filename: "readme.txt", Username: "A", Addr: n.Addr()})
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("second ok: %v", err)
	}
	data, err := ReadPayloadBytes(conn)
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if string(data) != content {
		t.Fatalf("body %q, want %q", data, content)
	}
}

func TestSyncFileUpdateFromNonSubscriberIsDiscarded(t *testing.T) {
	n := startTestNode(t, "A", "", nil, map[string]string{"notes.md": "v1"})
	conn := rawDial(t, n)

	stranger := Peer{Addr: HostPort{Host: "127.0.0.1", Port: 50996}, Username: "X"}
	WriteRequest(conn, ReqSyncFileUpdate)
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("ok: %v", err)
	}
	WriteJSONPayload(conn, SyncFile{Filename: "notes.md", UsersSubbed: []Peer{stranger}})
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("descriptor ok: %v", err)
	}
	body := []byte("poison")
	WriteLength(conn, uint64(len(body)))
	conn.Write(body)
	conn.Close()

	time.Sleep(200 * time.Millisecond)
	got, err := os.ReadFile(n.Store().SyncFilePath("notes.md"))
	if err != nil || string(got) != "v1" {
		t.Fatalf("content %q, %v; non-subscriber update must not be written", got, err)
	}
}

func TestSyncFileUpdateFromSubscriberOverwrites(t *testing.T) {
	n := startTestNode(t, "A", "", nil, map[string]string{"notes.md": "v1"})

	// Register the sender as a subscriber first.
	sub := Peer{Addr: HostPort{Host: "127.0.0.1", Port: 50995}, Username: "B"}
	conn := rawDial(t, n)
	WriteRequest(conn, ReqUserSubscribed)
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("ok: %v", err)
	}
	WriteJSONPayload(conn, sub)
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("peer ok: %v", err)
	}
	record, _ := n.State().LookupSubscribed("notes.md")
	record.UsersSubbed = append(record.UsersSubbed, sub)
	WriteJSONPayload(conn, record)
	conn.Close()
	testutil.WaitFor(t, 2*time.Second, "subscriber registered", func() bool {
		r, _ := n.State().LookupSubscribed("notes.md")
		return len(r.UsersSubbed) == 2
	})

	conn = rawDial(t, n)
	WriteRequest(conn, ReqSyncFileUpdate)
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("ok: %v", err)
	}
	updated, _ := n.State().LookupSubscribed("notes.md")
	WriteJSONPayload(conn, updated)
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("descriptor ok: %v", err)
	}
	body := []byte("v2")
	WriteLength(conn, uint64(len(body)))
	conn.Write(body)
	if err := ExpectOk(conn); err != nil {
		t.Fatalf("final ok: %v", err)
	}

	got, err := os.ReadFile(n.Store().SyncFilePath("notes.md"))
	if err != nil || string(got) != "v2" {
		t.Fatalf("content %q, %v", got, err)
	}
}
