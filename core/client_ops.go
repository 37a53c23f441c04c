package core

// client_ops.go – outbound exchanges. Every operation opens a fresh TCP
// connection, performs exactly one request exchange and closes. Connect
// and IO share one deadline; timeouts and refused connections are
// logged and swallowed so a dead peer never aborts a caller's loop.
// -----------------------------------------------------------------------------

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

//---------------------------------------------------------------------
// Dialer
//---------------------------------------------------------------------

// Dialer manages outbound peer connections.
type Dialer struct {
	Timeout   time.Duration // connection timeout
	KeepAlive time.Duration // TCP keepalive duration
}

// NewDialer creates a network dialer with the given settings.
func NewDialer(timeout, keepAlive time.Duration) *Dialer {
	return &Dialer{Timeout: timeout, KeepAlive: keepAlive}
}

// Dial connects to a remote address and returns a net.Conn.
func (d *Dialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   d.Timeout,
		KeepAlive: d.KeepAlive,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialer: failed to connect to %s: %w", address, err)
	}
	return conn, nil
}

//---------------------------------------------------------------------
// Client
//---------------------------------------------------------------------

// Client performs the node's outbound exchanges against remote peers.
type Client struct {
	state  *State
	store  *FileStore
	dialer *Dialer
	cfg    Config
	log    *logrus.Entry
}

// NewClient wires the outbound side of a node.
func NewClient(state *State, store *FileStore, cfg Config, logger *logrus.Logger) *Client {
	return &Client{
		state:  state,
		store:  store,
		dialer: NewDialer(cfg.ConnectTimeout, 30*time.Second),
		cfg:    cfg,
		log:    logger.WithField("module", "client"),
	}
}

// exchange dials addr, applies an overall deadline and runs fn over the
// connection. The connection is closed when fn returns.
func (c *Client) exchange(addr string, timeout time.Duration, fn func(conn net.Conn) error) error {
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	conn, err := c.dialer.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	return fn(conn)
}

// AddMe registers this node with the peer at addr. The recipient fans
// the new membership out to the rest of the mesh.
func (c *Client) AddMe(addr HostPort) error {
	self := c.state.Self()
	return c.exchange(addr.String(), c.cfg.ConnectTimeout, func(conn net.Conn) error {
		if err := WriteRequest(conn, ReqAddMe); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		return WriteJSONPayload(conn, self)
	})
}

// NotifyUserJoined tells an existing peer that newPeer joined.
func (c *Client) NotifyUserJoined(to Peer, newPeer Peer) error {
	return c.exchange(to.Addr.String(), c.cfg.ConnectTimeout, func(conn net.Conn) error {
		if err := WriteRequest(conn, ReqUserJoined); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		return WriteJSONPayload(conn, newPeer)
	})
}

// RequestPeerList fetches the full roster (including the responder's
// self-peer) from addr.
func (c *Client) RequestPeerList(addr HostPort) ([]Peer, error) {
	var peers []Peer
	err := c.exchange(addr.String(), c.cfg.ConnectTimeout, func(conn net.Conn) error {
		if err := WriteRequest(conn, ReqRequestPeerList); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		_, err := ReadJSONPayload(conn, &peers)
		return err
	})
	return peers, err
}

// RequestFiles fetches the file catalog from addr.
func (c *Client) RequestFiles(addr HostPort) ([]File, error) {
	var files []File
	err := c.exchange(addr.String(), c.cfg.ConnectTimeout, func(conn net.Conn) error {
		if err := WriteRequest(conn, ReqRequestFiles); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		_, err := ReadJSONPayload(conn, &files)
		return err
	})
	return files, err
}

// SendFiles pushes a file catalog to addr.
func (c *Client) SendFiles(addr HostPort, files []File) error {
	return c.exchange(addr.String(), c.cfg.ConnectTimeout, func(conn net.Conn) error {
		if err := WriteRequest(conn, ReqSendFiles); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		return WriteJSONPayload(conn, files)
	})
}

// RequestSyncFiles fetches sync-file descriptors from addr.
func (c *Client) RequestSyncFiles(addr HostPort) ([]SyncFile, error) {
	var syncFiles []SyncFile
	err := c.exchange(addr.String(), c.cfg.ConnectTimeout, func(conn net.Conn) error {
		if err := WriteRequest(conn, ReqRequestSyncFiles); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		_, err := ReadJSONPayload(conn, &syncFiles)
		return err
	})
	return syncFiles, err
}

// SendSyncFiles pushes sync-file descriptors to addr.
func (c *Client) SendSyncFiles(addr HostPort, syncFiles []SyncFile) error {
	return c.exchange(addr.String(), c.cfg.ConnectTimeout, func(conn net.Conn) error {
		if err := WriteRequest(conn, ReqSendSyncFiles); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		return WriteJSONPayload(conn, syncFiles)
	})
}

// NotifyUserSubscribed informs an existing subscriber that newSub
// joined the given sync file.
func (c *Client) NotifyUserSubscribed(to Peer, newSub Peer, sf SyncFile) error {
	return c.exchange(to.Addr.String(), c.cfg.ConnectTimeout, func(conn net.Conn) error {
		if err := WriteRequest(conn, ReqUserSubscribed); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		if err := WriteJSONPayload(conn, newSub); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		return WriteJSONPayload(conn, sf)
	})
}

// DownloadFile fetches the blob described by f from its owner and
// writes it into Files/. A zero-length body means the owner no longer
// has the file; nothing is written in that case.
func (c *Client) DownloadFile(f File) error {
	return c.exchange(f.Addr.String(), c.cfg.DownloadTimeout, func(conn net.Conn) error {
		if err := WriteRequest(conn, ReqDownloadFile); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		if err := WriteJSONPayload(conn, f); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		size, err := ReadLength(conn)
		if err != nil {
			return err
		}
		if size == 0 {
			c.log.Warnf("download %s: owner sent empty body", f.Filename)
			return nil
		}
		path := c.store.FilePath(f.Filename)
		n, err := c.store.WriteN(path, conn, size)
		if err != nil {
			return err
		}
		c.log.Infof("downloaded %s (%d bytes) from %s", f.Filename, n, f.Addr)
		return nil
	})
}

// Subscribe fetches sf's content from its canonical source, writes it
// into SyncFiles/ and moves the descriptor from the available table to
// the subscription table.
func (c *Client) Subscribe(sf SyncFile) error {
	source, ok := sf.Source()
	if !ok {
		return fmt.Errorf("subscribe %s: descriptor has no subscribers", sf.Filename)
	}
	self := c.state.Self()
	err := c.exchange(source.Addr.String(), c.cfg.DownloadTimeout, func(conn net.Conn) error {
		if err := WriteRequest(conn, ReqSubscribeFile); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		if err := WriteJSONPayload(conn, self); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		if err := WriteJSONPayload(conn, sf); err != nil {
			return err
		}
		if err := ExpectOk(conn); err != nil {
			return err
		}
		size, err := ReadLength(conn)
		if err != nil {
			return err
		}
		if size == 0 {
			return fmt.Errorf("subscribe %s: source has no content", sf.Filename)
		}
		path := c.store.SyncFilePath(sf.Filename)
		_, err = c.store.WriteN(path, conn, size)
		return err
	})
	if err != nil {
		return err
	}
	if _, moved := c.state.MarkSubscribed(sf.Filename); !moved {
		c.log.Warnf("subscribe %s: descriptor was not in the available table", sf.Filename)
	}
	c.log.Infof("subscribed to %s via %s", sf.Filename, source)
	return nil
}

// PropagateUpdate pushes sf's current content to each recipient in
// turn. Recipients that time out are skipped.
func (c *Client) PropagateUpdate(sf SyncFile, recipients []Peer) {
	for _, peer := range recipients {
		err := c.exchange(peer.Addr.String(), c.cfg.ConnectTimeout, func(conn net.Conn) error {
			if err := WriteRequest(conn, ReqSyncFileUpdate); err != nil {
				return err
			}
			if err := ExpectOk(conn); err != nil {
				return err
			}
			if err := WriteJSONPayload(conn, sf); err != nil {
				return err
			}
			if err := ExpectOk(conn); err != nil {
				return err
			}
			src, size, err := c.store.Open(c.store.SyncFilePath(sf.Filename))
			if err != nil {
				return err
			}
			defer src.Close()
			if err := WriteBody(conn, src, size, c.cfg.ChunkSize); err != nil {
				return err
			}
			return ExpectOk(conn)
		})
		if err != nil {
			c.log.Warnf("propagate %s to %s failed: %v", sf.Filename, peer.Addr, err)
			continue
		}
		c.log.Infof("propagated %s to %s", sf.Filename, peer)
	}
}

//---------------------------------------------------------------------
// Initial join
//---------------------------------------------------------------------

// InitialJoin runs the bootstrap sequence against the supplied peer:
// register, merge the roster, pull one catalog, then advertise local
// files and sync files to everyone. Each step tolerates per-peer
// failure; only an unreachable bootstrap peer is reported as an error.
func (c *Client) InitialJoin(bootstrap HostPort) error {
	self := c.state.Self()

	if err := c.AddMe(bootstrap); err != nil {
		return fmt.Errorf("initial join: AddMe: %w", err)
	}

	peers, err := c.RequestPeerList(bootstrap)
	if err != nil {
		return fmt.Errorf("initial join: RequestPeerList: %w", err)
	}
	for _, p := range peers {
		if !p.Equal(self) {
			c.state.AddPeer(p)
		}
	}

	roster := c.state.Peers()
	if len(roster) == 0 {
		return nil
	}

	// The most recently merged peer serves the catalog; everyone else
	// will learn our files below.
	last := roster[len(roster)-1]
	if files, err := c.RequestFiles(last.Addr); err != nil {
		c.log.Warnf("initial join: RequestFiles from %s: %v", last.Addr, err)
	} else {
		local, lerr := c.store.ListFiles()
		if lerr != nil {
			c.log.Warnf("initial join: list Files/: %v", lerr)
		}
		c.state.MergeFiles(files, nameSet(local))
	}

	localFiles := c.state.InitialFiles()
	for _, p := range roster {
		if err := c.SendFiles(p.Addr, localFiles); err != nil {
			c.log.Warnf("initial join: SendFiles to %s: %v", p.Addr, err)
		}
	}

	for _, p := range roster {
		syncFiles, err := c.RequestSyncFiles(p.Addr)
		if err != nil {
			c.log.Warnf("initial join: RequestSyncFiles from %s: %v", p.Addr, err)
			continue
		}
		localSync, lerr := c.store.ListSyncFiles()
		if lerr != nil {
			c.log.Warnf("initial join: list SyncFiles/: %v", lerr)
		}
		c.state.MergeAvailableSyncFiles(syncFiles, nameSet(localSync))
	}

	localSync := c.state.SubscribedSyncFiles()
	for _, p := range roster {
		if err := c.SendSyncFiles(p.Addr, localSync); err != nil {
			c.log.Warnf("initial join: SendSyncFiles to %s: %v", p.Addr, err)
		}
	}
	return nil
}
