package core

// server.go – TCP accept loop and per-connection request dispatch. A
// connection carries exactly one request: the handler reads the fixed
// width tag, acknowledges with Ok, runs the token's algorithm and
// closes. Unknown tags and protocol errors close the connection without
// touching shared state.
// -----------------------------------------------------------------------------

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Server owns the listening socket and the connection handlers.
type Server struct {
	state  *State
	store  *FileStore
	client *Client
	cfg    Config
	log    *logrus.Entry

	ln        net.Listener
	wg        sync.WaitGroup
	sem       chan struct{} // bounds concurrent exchanges
	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer wires the inbound side of a node. The client is used for
// the fan-outs some handlers perform (membership and subscriber
// notifications).
func NewServer(state *State, store *FileStore, client *Client, cfg Config, logger *logrus.Logger) *Server {
	return &Server{
		state:   state,
		store:   store,
		client:  client,
		cfg:     cfg,
		log:     logger.WithField("module", "server"),
		sem:     make(chan struct{}, cfg.withDefaults().MaxConns),
		closing: make(chan struct{}),
	}
}

// Bind opens the listening socket. A bind failure is fatal to the node.
func (s *Server) Bind() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ListenHost, s.cfg.ListenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listener address. Valid after Bind.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Port returns the actually bound TCP port. Valid after Bind.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Serve accepts connections until Close. Each accepted connection runs
// its exchange on its own goroutine.
func (s *Server) Serve() error {
	s.log.Infof("listening on %s", s.ln.Addr())
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closing:
				s.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warnf("accept: %v", err)
			continue
		}
		select {
		case s.sem <- struct{}{}:
		case <-s.closing:
			conn.Close()
			s.wg.Wait()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.handleConn(conn)
		}()
	}
}

// Close stops the accept loop and waits for in-flight handlers.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		if s.ln != nil {
			s.ln.Close()
		}
	})
	s.wg.Wait()
}

// handleConn runs the single-request state machine for one accepted
// connection.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	xid := uuid.NewString()[:8]
	log := s.log.WithField("xid", xid)

	req, err := ReadRequest(conn)
	if err != nil {
		log.Debugf("reject %s: %v", conn.RemoteAddr(), err)
		return
	}
	log.Debugf("%s from %s", req, conn.RemoteAddr())

	if err := WriteOk(conn); err != nil {
		log.Debugf("%s: ack failed: %v", req, err)
		return
	}

	switch req {
	case ReqAddMe:
		err = s.handleAddMe(conn)
	case ReqUserJoined:
		err = s.handleUserJoined(conn)
	case ReqRequestPeerList:
		err = s.handleRequestPeerList(conn)
	case ReqSendFiles:
		err = s.handleSendFiles(conn)
	case ReqRequestFiles:
		err = s.handleRequestFiles(conn)
	case ReqSendSyncFiles:
		err = s.handleSendSyncFiles(conn)
	case ReqRequestSyncFiles:
		err = s.handleRequestSyncFiles(conn)
	case ReqDownloadFile:
		err = s.handleDownloadFile(conn)
	case ReqSubscribeFile:
		err = s.handleSubscribeFile(conn)
	case ReqUserSubscribed:
		err = s.handleUserSubscribed(conn)
	case ReqSyncFileUpdate:
		err = s.handleSyncFileUpdate(conn)
	}
	if err != nil {
		log.Warnf("%s: %v", req, err)
	}
}

//---------------------------------------------------------------------
// Membership
//---------------------------------------------------------------------

// handleAddMe registers the sender and fans the new membership out to
// every peer that was already in the roster. The broadcast runs before
// the insert so the newcomer is never told about itself.
func (s *Server) handleAddMe(conn net.Conn) error {
	var newPeer Peer
	if ok, err := ReadJSONPayload(conn, &newPeer); err != nil || !ok {
		return err
	}
	if s.state.HasPeer(newPeer) || newPeer.Equal(s.state.Self()) {
		return nil
	}
	for _, peer := range s.state.Peers() {
		if err := s.client.NotifyUserJoined(peer, newPeer); err != nil {
			s.log.Warnf("AddMe: notify %s about %s: %v", peer.Addr, newPeer.Username, err)
		}
	}
	s.state.AddPeer(newPeer)
	s.log.Infof("peer joined: %s", newPeer)
	return nil
}

func (s *Server) handleUserJoined(conn net.Conn) error {
	var p Peer
	if ok, err := ReadJSONPayload(conn, &p); err != nil || !ok {
		return err
	}
	if s.state.AddPeer(p) {
		s.log.Infof("learned peer: %s", p)
	}
	return nil
}

func (s *Server) handleRequestPeerList(conn net.Conn) error {
	return WriteJSONPayload(conn, s.state.PeersWithSelf())
}

//---------------------------------------------------------------------
// Catalog
//---------------------------------------------------------------------

func (s *Server) handleSendFiles(conn net.Conn) error {
	var files []File
	if ok, err := ReadJSONPayload(conn, &files); err != nil || !ok {
		return err
	}
	local, err := s.store.ListFiles()
	if err != nil {
		return err
	}
	added := s.state.MergeFiles(files, nameSet(local))
	if added > 0 {
		s.log.Infof("catalog grew by %d entries", added)
	}
	return nil
}

func (s *Server) handleRequestFiles(conn net.Conn) error {
	return WriteJSONPayload(conn, s.state.CatalogWithInitial())
}

func (s *Server) handleDownloadFile(conn net.Conn) error {
	var f File
	if ok, err := ReadJSONPayload(conn, &f); err != nil || !ok {
		return err
	}
	if err := WriteOk(conn); err != nil {
		return err
	}
	src, size, err := s.store.Open(s.store.FilePath(f.Filename))
	if err != nil {
		// Missing files answer with a zero-length body so the client
		// never blocks on a prefix that will not arrive.
		s.log.Warnf("DownloadFile %s: %v", f.Filename, err)
		return WriteLength(conn, 0)
	}
	defer src.Close()
	return WriteBody(conn, src, size, s.cfg.ChunkSize)
}

//---------------------------------------------------------------------
// Sync files
//---------------------------------------------------------------------

func (s *Server) handleSendSyncFiles(conn net.Conn) error {
	var syncFiles []SyncFile
	if ok, err := ReadJSONPayload(conn, &syncFiles); err != nil || !ok {
		return err
	}
	local, err := s.store.ListSyncFiles()
	if err != nil {
		return err
	}
	added := s.state.MergeAvailableSyncFiles(syncFiles, nameSet(local))
	if added > 0 {
		s.log.Infof("learned %d sync files", added)
	}
	return nil
}

func (s *Server) handleRequestSyncFiles(conn net.Conn) error {
	return WriteJSONPayload(conn, s.state.AllSyncFiles())
}

// handleSubscribeFile streams the requested document to the new
// subscriber, records the subscription and notifies the other
// subscribers.
func (s *Server) handleSubscribeFile(conn net.Conn) error {
	var newSub Peer
	if ok, err := ReadJSONPayload(conn, &newSub); err != nil || !ok {
		return err
	}
	if err := WriteOk(conn); err != nil {
		return err
	}
	var target SyncFile
	if ok, err := ReadJSONPayload(conn, &target); err != nil || !ok {
		return err
	}
	if err := WriteOk(conn); err != nil {
		return err
	}

	if _, tracked := s.state.LookupSubscribed(target.Filename); !tracked {
		s.log.Warnf("SubscribeFile %s: not subscribed here", target.Filename)
		return WriteLength(conn, 0)
	}

	src, size, err := s.store.Open(s.store.SyncFilePath(target.Filename))
	if err != nil {
		s.log.Warnf("SubscribeFile %s: %v", target.Filename, err)
		return WriteLength(conn, 0)
	}
	err = WriteBody(conn, src, size, s.cfg.ChunkSize)
	src.Close()
	if err != nil {
		return err
	}

	s.state.AddSubscriber(target.Filename, newSub)
	record, _ := s.state.LookupSubscribed(target.Filename)
	self := s.state.Self()
	for _, peer := range record.UsersSubbed {
		if peer.Equal(self) || peer.Equal(newSub) {
			continue
		}
		if err := s.client.NotifyUserSubscribed(peer, newSub, record); err != nil {
			s.log.Warnf("SubscribeFile %s: notify %s: %v", target.Filename, peer.Addr, err)
		}
	}
	s.log.Infof("%s subscribed to %s", newSub.Username, target.Filename)
	return nil
}

func (s *Server) handleUserSubscribed(conn net.Conn) error {
	var newSub Peer
	if ok, err := ReadJSONPayload(conn, &newSub); err != nil || !ok {
		return err
	}
	if err := WriteOk(conn); err != nil {
		return err
	}
	var sf SyncFile
	if ok, err := ReadJSONPayload(conn, &sf); err != nil || !ok {
		return err
	}
	if s.state.AddSubscriber(sf.Filename, newSub) {
		s.log.Infof("%s subscribed to %s (relayed)", newSub.Username, sf.Filename)
	}
	return nil
}

// handleSyncFileUpdate overwrites the local copy of a subscribed
// document with the pushed content. Updates for documents this node
// does not track, or whose pushed descriptor shares no subscriber with
// the local record, are drained and discarded. The sender's own
// identity is not on the wire and is not checked.
func (s *Server) handleSyncFileUpdate(conn net.Conn) error {
	var sf SyncFile
	if ok, err := ReadJSONPayload(conn, &sf); err != nil || !ok {
		return err
	}
	if err := WriteOk(conn); err != nil {
		return err
	}

	record, tracked := s.state.LookupSubscribed(sf.Filename)
	if !tracked || !subscriberOverlap(record, sf) {
		s.log.Warnf("SyncFileUpdate %s: rejected (untracked or non-subscriber)", sf.Filename)
		_, err := ReadBody(conn, io.Discard, s.cfg.ChunkSize)
		return err
	}

	n, err := s.store.WriteStream(s.store.SyncFilePath(sf.Filename), conn)
	if err != nil {
		return err
	}
	s.log.Infof("sync update: %s (%d bytes)", sf.Filename, n)
	return WriteOk(conn)
}

// subscriberOverlap reports whether the pushed descriptor shares at
// least one subscriber with the local record.
func subscriberOverlap(local, pushed SyncFile) bool {
	for _, p := range pushed.UsersSubbed {
		if local.HasSubscriber(p) {
			return true
		}
	}
	return false
}
