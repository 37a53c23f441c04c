package core

// api.go – read-mostly local status API. External drivers (the CLI
// subcommands) use it to inspect a running node and to trigger the
// three user actions: download, subscribe and save. It binds to the
// configured address (loopback by default) and carries no
// authentication; it is the
// non-interactive stand-in for a menu, not a public surface.
// -----------------------------------------------------------------------------

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// StatusAPI exposes node state over a small HTTP API.
type StatusAPI struct {
	node       *Node
	addr       string
	log        *logrus.Entry
	httpServer *http.Server
}

// NewStatusAPI constructs the router and HTTP server.
func NewStatusAPI(node *Node, addr string, logger *logrus.Logger) *StatusAPI {
	api := &StatusAPI{
		node: node,
		addr: addr,
		log:  logger.WithField("module", "api"),
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", api.handleStatus)
	r.Get("/peers", api.handlePeers)
	r.Get("/files", api.handleFiles)
	r.Get("/syncfiles", api.handleSyncFiles)
	r.Post("/download", api.handleDownload)
	r.Post("/subscribe", api.handleSubscribe)
	r.Post("/save", api.handleSave)
	api.httpServer = &http.Server{Addr: addr, Handler: r}
	return api
}

// Start binds and serves in the background.
func (api *StatusAPI) Start() error {
	ln, err := net.Listen("tcp", api.addr)
	if err != nil {
		return err
	}
	api.log.Infof("status API on %s", ln.Addr())
	go func() {
		if err := api.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			api.log.Warnf("serve: %v", err)
		}
	}()
	return nil
}

// Close shuts the HTTP server down.
func (api *StatusAPI) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = api.httpServer.Shutdown(ctx)
}

// Handler returns the router (tests).
func (api *StatusAPI) Handler() http.Handler { return api.httpServer.Handler }

//---------------------------------------------------------------------
// Handlers
//---------------------------------------------------------------------

func (api *StatusAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := api.node.State()
	writeJSON(w, map[string]interface{}{
		"self":       state.Self(),
		"peers":      len(state.Peers()),
		"files":      len(state.CatalogWithInitial()),
		"sync_files": len(state.AllSyncFiles()),
	})
}

func (api *StatusAPI) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, api.node.State().Peers())
}

func (api *StatusAPI) handleFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, api.node.State().CatalogWithInitial())
}

func (api *StatusAPI) handleSyncFiles(w http.ResponseWriter, r *http.Request) {
	state := api.node.State()
	writeJSON(w, map[string]interface{}{
		"available":  state.AvailableSyncFiles(),
		"subscribed": state.SubscribedSyncFiles(),
	})
}

type fileRequest struct {
	Filename string `json:"filename"`
}

func (api *StatusAPI) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, ok := api.node.State().FindFile(req.Filename)
	if !ok {
		http.Error(w, "file not in catalog", http.StatusNotFound)
		return
	}
	if err := api.node.Client().DownloadFile(f); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, f)
}

func (api *StatusAPI) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sf, ok := api.node.State().LookupAvailable(req.Filename)
	if !ok {
		http.Error(w, "sync file not available", http.StatusNotFound)
		return
	}
	if err := api.node.Client().Subscribe(sf); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, sf)
}

func (api *StatusAPI) handleSave(w http.ResponseWriter, r *http.Request) {
	api.node.Watcher().MarkSaved()
	writeJSON(w, map[string]string{"status": "armed"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
