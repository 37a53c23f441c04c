package core

// state.go – concurrency-safe shared collections: the peer roster, the
// downloadable-file catalog and the sync-file tables. Each collection
// has its own mutex; methods lock only for the duration of the logical
// operation and return snapshot copies for iteration. Lock order when
// nesting is roster, then sync tables, then catalog.
// -----------------------------------------------------------------------------

import (
	"sync"
)

// State is the mutable heart of a node, passed explicitly to the server
// dispatch and client fan-out paths.
type State struct {
	self Peer

	rosterMu sync.Mutex
	roster   []Peer

	syncMu     sync.Mutex
	available  []SyncFile // advertised by peers, not yet subscribed
	subscribed []SyncFile // tracked for propagation, self is a subscriber

	catalogMu sync.Mutex
	catalog   []File

	// initialFiles is the Files/ listing at startup. Set once by
	// Node.Start before the server loop runs, immutable afterwards, no
	// lock.
	initialFiles []File
}

// NewState builds the collections around the node's own identity.
func NewState(self Peer) *State {
	return &State{self: self}
}

// Self returns the node's own peer record.
func (s *State) Self() Peer {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()
	return s.self
}

// SetSelfPort fixes the advertised port once the listener is bound.
// Only meaningful before any traffic is served.
func (s *State) SetSelfPort(port int) {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()
	s.self.Addr.Port = port
}

// SetInitialFiles records the startup Files/ listing. Called once
// from Node.Start, before the server loop begins accepting.
func (s *State) SetInitialFiles(files []File) {
	s.initialFiles = append([]File(nil), files...)
}

// InitialFiles returns the immutable startup listing.
func (s *State) InitialFiles() []File {
	return append([]File(nil), s.initialFiles...)
}

//---------------------------------------------------------------------
// Roster
//---------------------------------------------------------------------

// AddPeer inserts p unless it is the self-peer or already present.
// Reports whether the roster changed.
func (s *State) AddPeer(p Peer) bool {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()
	if p.Equal(s.self) {
		return false
	}
	for _, existing := range s.roster {
		if existing.Equal(p) {
			return false
		}
	}
	s.roster = append(s.roster, p)
	return true
}

// HasPeer reports whether p is in the roster.
func (s *State) HasPeer(p Peer) bool {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()
	for _, existing := range s.roster {
		if existing.Equal(p) {
			return true
		}
	}
	return false
}

// Peers returns a snapshot of the roster.
func (s *State) Peers() []Peer {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()
	return append([]Peer(nil), s.roster...)
}

// PeersWithSelf returns the roster plus the self-peer, the shape served
// to RequestPeerList.
func (s *State) PeersWithSelf() []Peer {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()
	out := append([]Peer(nil), s.roster...)
	return append(out, s.self)
}

//---------------------------------------------------------------------
// Catalog
//---------------------------------------------------------------------

// MergeFiles adds incoming entries to the catalog, skipping any whose
// filename is already catalogued or already present locally on disk.
// Returns the number of entries added.
func (s *State) MergeFiles(incoming []File, localNames map[string]struct{}) int {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	added := 0
	for _, f := range incoming {
		if _, onDisk := localNames[f.Filename]; onDisk {
			continue
		}
		dup := false
		for _, existing := range s.catalog {
			if existing.Filename == f.Filename {
				dup = true
				break
			}
		}
		if !dup {
			s.catalog = append(s.catalog, f)
			added++
		}
	}
	return added
}

// Files returns a snapshot of the catalog.
func (s *State) Files() []File {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	return append([]File(nil), s.catalog...)
}

// CatalogWithInitial returns the catalog plus the startup listing, the
// shape served to RequestFiles.
func (s *State) CatalogWithInitial() []File {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	out := append([]File(nil), s.catalog...)
	return append(out, s.initialFiles...)
}

// FindFile locates a catalog entry by name.
func (s *State) FindFile(filename string) (File, bool) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	for _, f := range s.catalog {
		if f.Filename == filename {
			return f, true
		}
	}
	return File{}, false
}

//---------------------------------------------------------------------
// Sync-file tables
//---------------------------------------------------------------------

// AdoptLocalSyncFiles seeds the subscription table from the SyncFiles/
// directory at startup: each file becomes a SyncFile with self as the
// sole subscriber.
func (s *State) AdoptLocalSyncFiles(names []string) {
	self := s.Self()
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	for _, name := range names {
		s.subscribed = append(s.subscribed, SyncFile{
			Filename:    name,
			UsersSubbed: []Peer{self},
		})
	}
}

// MergeAvailableSyncFiles adds advertised sync files, skipping any
// filename already tracked (available or subscribed) or already present
// locally on disk. Returns the number added.
func (s *State) MergeAvailableSyncFiles(incoming []SyncFile, localNames map[string]struct{}) int {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	added := 0
	for _, sf := range incoming {
		if len(sf.UsersSubbed) == 0 {
			continue
		}
		if _, onDisk := localNames[sf.Filename]; onDisk {
			continue
		}
		if s.knownSyncFileLocked(sf.Filename) {
			continue
		}
		s.available = append(s.available, sf.Clone())
		added++
	}
	return added
}

func (s *State) knownSyncFileLocked(filename string) bool {
	for _, existing := range s.available {
		if existing.Filename == filename {
			return true
		}
	}
	for _, existing := range s.subscribed {
		if existing.Filename == filename {
			return true
		}
	}
	return false
}

// AvailableSyncFiles returns a snapshot of the advertised table.
func (s *State) AvailableSyncFiles() []SyncFile {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	out := make([]SyncFile, 0, len(s.available))
	for _, sf := range s.available {
		out = append(out, sf.Clone())
	}
	return out
}

// SubscribedSyncFiles returns a snapshot of the subscription table.
func (s *State) SubscribedSyncFiles() []SyncFile {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	out := make([]SyncFile, 0, len(s.subscribed))
	for _, sf := range s.subscribed {
		out = append(out, sf.Clone())
	}
	return out
}

// AllSyncFiles returns available plus subscribed, the shape served to
// RequestSyncFiles.
func (s *State) AllSyncFiles() []SyncFile {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	out := make([]SyncFile, 0, len(s.available)+len(s.subscribed))
	for _, sf := range s.available {
		out = append(out, sf.Clone())
	}
	for _, sf := range s.subscribed {
		out = append(out, sf.Clone())
	}
	return out
}

// LookupSubscribed finds a subscription table entry by filename.
func (s *State) LookupSubscribed(filename string) (SyncFile, bool) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	for _, sf := range s.subscribed {
		if sf.Filename == filename {
			return sf.Clone(), true
		}
	}
	return SyncFile{}, false
}

// LookupAvailable finds an advertised entry by filename.
func (s *State) LookupAvailable(filename string) (SyncFile, bool) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	for _, sf := range s.available {
		if sf.Filename == filename {
			return sf.Clone(), true
		}
	}
	return SyncFile{}, false
}

// AddSubscriber appends p to the named subscription's subscriber list,
// deduplicating by (addr, username). Reports whether the list changed.
func (s *State) AddSubscriber(filename string, p Peer) bool {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	for i := range s.subscribed {
		if s.subscribed[i].Filename != filename {
			continue
		}
		if s.subscribed[i].HasSubscriber(p) {
			return false
		}
		s.subscribed[i].UsersSubbed = append(s.subscribed[i].UsersSubbed, p)
		return true
	}
	return false
}

// MarkSubscribed moves an advertised sync file into the subscription
// table after a successful client subscribe, appending self to its
// subscriber list if absent.
func (s *State) MarkSubscribed(filename string) (SyncFile, bool) {
	self := s.Self()
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	for i, sf := range s.available {
		if sf.Filename != filename {
			continue
		}
		s.available = append(s.available[:i], s.available[i+1:]...)
		if !sf.HasSubscriber(self) {
			sf.UsersSubbed = append(sf.UsersSubbed, self)
		}
		s.subscribed = append(s.subscribed, sf)
		return sf.Clone(), true
	}
	return SyncFile{}, false
}
