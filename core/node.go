package core

// node.go – supervisor. Builds the shared state, file store, server,
// client and watcher from a Config, runs the long-lived loops and the
// one-shot initial join, and tears everything down on Close.
// -----------------------------------------------------------------------------

import (
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Node is one running instance of the mesh software.
type Node struct {
	cfg     Config
	log     *logrus.Logger
	state   *State
	store   *FileStore
	client  *Client
	server  *Server
	watcher *SyncWatcher
	api     *StatusAPI

	eg      *errgroup.Group
	started bool
}

// NewNode constructs a node from cfg. The data directories are created
// here; they are not scanned and the listener is not bound until Start.
func NewNode(cfg Config, logger *logrus.Logger) (*Node, error) {
	cfg = cfg.withDefaults()
	if cfg.Username == "" {
		return nil, fmt.Errorf("node: username is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	store, err := NewFileStore(cfg.DataRoot, cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	self := Peer{
		Addr:     HostPort{Host: cfg.ListenHost, Port: cfg.ListenPort},
		Username: cfg.Username,
	}
	state := NewState(self)

	client := NewClient(state, store, cfg, logger)
	server := NewServer(state, store, client, cfg, logger)
	watcher := NewSyncWatcher(state, store, client, cfg.WatcherInterval, logger)

	n := &Node{
		cfg:     cfg,
		log:     logger,
		state:   state,
		store:   store,
		client:  client,
		server:  server,
		watcher: watcher,
	}
	if cfg.APIAddr != "" {
		n.api = NewStatusAPI(n, cfg.APIAddr, logger)
	}
	return n, nil
}

// State exposes the shared collections (status API, tests).
func (n *Node) State() *State { return n.state }

// Store exposes the file store.
func (n *Node) Store() *FileStore { return n.store }

// Client exposes the outbound operations.
func (n *Node) Client() *Client { return n.client }

// Watcher exposes the sync watcher.
func (n *Node) Watcher() *SyncWatcher { return n.watcher }

// Addr returns the advertised endpoint. After Start it carries the
// actually bound port.
func (n *Node) Addr() HostPort {
	return n.state.Self().Addr
}

// Start binds the listener, fixes the advertised port, launches the
// server loop, the sync watcher and the status API, and kicks off the
// initial join when a bootstrap peer is configured. A bind failure is
// fatal; join failures are logged and tolerated.
func (n *Node) Start() error {
	if n.started {
		return fmt.Errorf("node: already started")
	}
	if err := n.server.Bind(); err != nil {
		return err
	}
	n.state.SetSelfPort(n.server.Port())
	if err := n.adoptLocal(); err != nil {
		n.server.Close()
		return err
	}
	n.started = true

	n.eg = &errgroup.Group{}
	n.eg.Go(n.server.Serve)
	n.eg.Go(n.watcher.Run)
	if n.api != nil {
		if err := n.api.Start(); err != nil {
			n.server.Close()
			n.watcher.Close()
			return err
		}
	}

	if n.cfg.BootstrapAddr != "" {
		bootstrap, err := ParseHostPort(n.cfg.BootstrapAddr)
		if err != nil {
			n.log.Warnf("bad bootstrap address %q: %v", n.cfg.BootstrapAddr, err)
		} else {
			n.eg.Go(func() error {
				if err := n.client.InitialJoin(bootstrap); err != nil {
					n.log.Warnf("initial join: %v", err)
				}
				return nil
			})
		}
	}
	n.log.Infof("node %s up at %s", n.cfg.Username, n.Addr())
	return nil
}

// adoptLocal scans the data directories once the advertised address is
// final. Blobs present at startup become the immutable initial listing;
// sync documents become subscriptions with this node as sole
// subscriber.
func (n *Node) adoptLocal() error {
	self := n.state.Self()
	blobNames, err := n.store.ListFiles()
	if err != nil {
		return err
	}
	initial := make([]File, 0, len(blobNames))
	for _, name := range blobNames {
		initial = append(initial, File{Filename: name, Username: n.cfg.Username, Addr: self.Addr})
	}
	n.state.SetInitialFiles(initial)

	syncNames, err := n.store.ListSyncFiles()
	if err != nil {
		return err
	}
	n.state.AdoptLocalSyncFiles(syncNames)
	return nil
}

// Close stops the loops and waits for them to drain.
func (n *Node) Close() error {
	if !n.started {
		return nil
	}
	n.server.Close()
	n.watcher.Close()
	if n.api != nil {
		n.api.Close()
	}
	return n.eg.Wait()
}

// ParseHostPort splits a host:port string into the wire pair type.
func ParseHostPort(s string) (HostPort, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return HostPort{}, fmt.Errorf("parse %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return HostPort{}, fmt.Errorf("parse %q: bad port: %w", s, err)
	}
	return HostPort{Host: host, Port: port}, nil
}
