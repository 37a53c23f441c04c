package core

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestAPI(t *testing.T) (*StatusAPI, *Node) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := Config{
		ListenHost:      "127.0.0.1",
		Username:        "A",
		DataRoot:        t.TempDir(),
		WatcherInterval: time.Hour, // handlers only, no loops
	}
	node, err := NewNode(cfg, logger)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	return NewStatusAPI(node, "127.0.0.1:0", logger), node
}

func TestStatusEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"self", "peers", "files", "sync_files"} {
		if _, ok := out[key]; !ok {
			t.Fatalf("missing %s in %v", key, out)
		}
	}
}

func TestPeersEndpointReflectsRoster(t *testing.T) {
	api, node := newTestAPI(t)
	node.State().AddPeer(Peer{Addr: HostPort{Host: "127.0.0.1", Port: 50002}, Username: "B"})

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/peers", nil))
	var peers []Peer
	if err := json.Unmarshal(rec.Body.Bytes(), &peers); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(peers) != 1 || peers[0].Username != "B" {
		t.Fatalf("peers %+v", peers)
	}
}

func TestSaveEndpointArmsWatcher(t *testing.T) {
	api, node := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/save", strings.NewReader("{}")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !node.Watcher().saveFlag.Load() {
		t.Fatal("save endpoint must arm the watcher")
	}
}

func TestSubscribeEndpointUnknownFile(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscribe", strings.NewReader(`{"filename":"ghost.md"}`))
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}

func TestDownloadEndpointUnknownFile(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(`{"filename":"ghost.txt"}`))
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}
