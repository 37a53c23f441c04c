package core

// common_structs.go – centralised struct definitions shared across the
// node subsystems. This file declares the wire-visible records (Peer,
// File, SyncFile) and the node Config; behaviour lives in the subsystem
// files that use them.
// -----------------------------------------------------------------------------

import (
	"encoding/json"
	"fmt"
	"time"
)

//---------------------------------------------------------------------
// Addressing
//---------------------------------------------------------------------

// HostPort is a network endpoint. On the wire it is a two-element JSON
// array [host, port]; decoders accept the array form and convert it to
// this pair type.
type HostPort struct {
	Host string
	Port int
}

func (hp HostPort) String() string {
	return fmt.Sprintf("%s:%d", hp.Host, hp.Port)
}

// MarshalJSON encodes the endpoint as ["host", port].
func (hp HostPort) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{hp.Host, hp.Port})
}

// UnmarshalJSON accepts ["host", port]. Port must be a JSON integer; a
// number written with a fraction or an exponent is rejected.
func (hp *HostPort) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("addr: expected [host, port] array: %w", err)
	}
	if err := json.Unmarshal(raw[0], &hp.Host); err != nil {
		return fmt.Errorf("addr: bad host: %w", err)
	}
	if err := json.Unmarshal(raw[1], &hp.Port); err != nil {
		return fmt.Errorf("addr: bad port: %w", err)
	}
	return nil
}

//---------------------------------------------------------------------
// Wire-visible records
//---------------------------------------------------------------------

// Peer identifies one node in the mesh.
type Peer struct {
	Addr     HostPort `json:"addr"`
	Username string   `json:"username"`
}

// Equal compares by (addr, username).
func (p Peer) Equal(other Peer) bool {
	return p.Addr == other.Addr && p.Username == other.Username
}

func (p Peer) String() string {
	return fmt.Sprintf("{%s, %s}", p.Addr, p.Username)
}

// File describes a blob available for one-shot download. Addr is the
// owner's endpoint; a download dials it directly.
type File struct {
	Filename string   `json:"filename"`
	Username string   `json:"username"`
	Addr     HostPort `json:"addr"`
}

// Equal compares by all three fields.
func (f File) Equal(other File) bool {
	return f.Filename == other.Filename && f.Username == other.Username && f.Addr == other.Addr
}

// SyncFile describes a subscribed document. The first subscriber is
// treated as the canonical source when a new node subscribes.
type SyncFile struct {
	Filename    string `json:"filename"`
	UsersSubbed []Peer `json:"users_subbed"`
}

// Equal compares filename and the full ordered subscriber list.
func (sf SyncFile) Equal(other SyncFile) bool {
	if sf.Filename != other.Filename || len(sf.UsersSubbed) != len(other.UsersSubbed) {
		return false
	}
	for i, p := range sf.UsersSubbed {
		if !p.Equal(other.UsersSubbed[i]) {
			return false
		}
	}
	return true
}

// HasSubscriber reports whether p is already in the subscriber list.
func (sf SyncFile) HasSubscriber(p Peer) bool {
	for _, u := range sf.UsersSubbed {
		if u.Equal(p) {
			return true
		}
	}
	return false
}

// Source returns the canonical peer to fetch content from.
func (sf SyncFile) Source() (Peer, bool) {
	if len(sf.UsersSubbed) == 0 {
		return Peer{}, false
	}
	return sf.UsersSubbed[0], true
}

// Clone returns a deep copy so callers can mutate the subscriber list
// without aliasing table entries.
func (sf SyncFile) Clone() SyncFile {
	out := SyncFile{Filename: sf.Filename}
	out.UsersSubbed = append([]Peer(nil), sf.UsersSubbed...)
	return out
}

//---------------------------------------------------------------------
// Node configuration
//---------------------------------------------------------------------

// Config carries everything a node needs at construction time. Protocol
// widths are fixed constants in wire.go; peers must agree on those, so
// they are deliberately not configurable here.
type Config struct {
	ListenHost string // own IP advertised to peers
	ListenPort int    // 0 picks an ephemeral port (tests)
	Username   string

	// BootstrapAddr is the externally supplied first peer, empty for
	// the first node in a mesh.
	BootstrapAddr string

	// DataRoot holds the Files/ and SyncFiles/ directories.
	DataRoot string

	// APIAddr is the local status API bind address, empty to disable.
	APIAddr string

	ChunkSize       int           // body transfer chunk, default 4 KiB
	MaxConns        int           // concurrent inbound exchange budget
	ConnectTimeout  time.Duration // outbound exchange dial+IO budget
	DownloadTimeout time.Duration // file transfer exchanges
	WatcherInterval time.Duration // sync watcher poll period
}

// withDefaults fills unset fields with the conventional values.
func (c Config) withDefaults() Config {
	if c.ListenHost == "" {
		c.ListenHost = "127.0.0.1"
	}
	if c.DataRoot == "" {
		c.DataRoot = "."
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 20 * time.Second
	}
	if c.WatcherInterval <= 0 {
		c.WatcherInterval = 500 * time.Millisecond
	}
	return c
}
