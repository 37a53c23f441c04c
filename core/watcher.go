package core

// watcher.go – periodic sync-file change detector. Keeps a map of
// filename to last observed MD5 digest over SyncFiles/ and, when the
// user arms the save flag, propagates changed content to every other
// subscriber of the file. The map itself is thread-local to the watcher
// loop; only the save flag crosses goroutines.
// -----------------------------------------------------------------------------

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// SyncWatcher polls SyncFiles/ for content changes.
type SyncWatcher struct {
	state    *State
	store    *FileStore
	client   *Client
	interval time.Duration
	log      *logrus.Entry

	saveFlag atomic.Bool
	closing  chan struct{}
	done     chan struct{}
}

// NewSyncWatcher wires the change detector.
func NewSyncWatcher(state *State, store *FileStore, client *Client, interval time.Duration, logger *logrus.Logger) *SyncWatcher {
	return &SyncWatcher{
		state:    state,
		store:    store,
		client:   client,
		interval: interval,
		log:      logger.WithField("module", "watcher"),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// MarkSaved arms the watcher: the next poll cycle compares digests and
// propagates any changes. Mirrors the user's explicit "save" action.
func (w *SyncWatcher) MarkSaved() {
	w.saveFlag.Store(true)
}

// Run polls until Close. The digest map is seeded from the directory
// before the first tick.
func (w *SyncWatcher) Run() error {
	digests := make(map[string]string)
	w.seed(digests)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.done)
	for {
		select {
		case <-w.closing:
			return nil
		case <-ticker.C:
			w.poll(digests)
		}
	}
}

// Close stops the poll loop.
func (w *SyncWatcher) Close() {
	select {
	case <-w.closing:
	default:
		close(w.closing)
	}
	<-w.done
}

func (w *SyncWatcher) seed(digests map[string]string) {
	names, err := w.store.ListSyncFiles()
	if err != nil {
		w.log.Warnf("seed: %v", err)
		return
	}
	for _, name := range names {
		digest, err := w.store.Digest(w.store.SyncFilePath(name))
		if err != nil {
			w.log.Warnf("seed %s: %v", name, err)
			continue
		}
		digests[name] = digest
	}
}

// poll runs one watcher cycle: reconcile the digest map with the
// directory, then, if the save flag was set, propagate changed files.
func (w *SyncWatcher) poll(digests map[string]string) {
	names, err := w.store.ListSyncFiles()
	if err != nil {
		w.log.Warnf("poll: %v", err)
		return
	}
	current := nameSet(names)

	for tracked := range digests {
		if _, ok := current[tracked]; !ok {
			delete(digests, tracked)
		}
	}
	for _, name := range names {
		if _, ok := digests[name]; ok {
			continue
		}
		digest, err := w.store.Digest(w.store.SyncFilePath(name))
		if err != nil {
			w.log.Warnf("digest %s: %v", name, err)
			continue
		}
		digests[name] = digest
	}

	if w.saveFlag.Swap(false) {
		w.propagateChanged(digests, names)
	}
}

func (w *SyncWatcher) propagateChanged(digests map[string]string, names []string) {
	self := w.state.Self()
	for _, name := range names {
		previous, tracked := digests[name]
		if !tracked {
			continue
		}
		digest, err := w.store.Digest(w.store.SyncFilePath(name))
		if err != nil {
			w.log.Warnf("digest %s: %v", name, err)
			continue
		}
		if digest == previous {
			continue
		}
		digests[name] = digest

		record, ok := w.state.LookupSubscribed(name)
		if !ok {
			w.log.Debugf("%s changed but is not a tracked sync file", name)
			continue
		}
		recipients := make([]Peer, 0, len(record.UsersSubbed))
		for _, p := range record.UsersSubbed {
			if !p.Equal(self) {
				recipients = append(recipients, p)
			}
		}
		if len(recipients) == 0 {
			w.log.Infof("%s changed but no one else is subscribed", name)
			continue
		}
		w.log.Infof("%s changed, propagating to %d subscribers", name, len(recipients))
		w.client.PropagateUpdate(record, recipients)
	}
}
