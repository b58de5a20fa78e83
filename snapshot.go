package persist

import "sync"

// snapshotEntry records the last-synchronized state of one record: the
// change-version at serialization time and the exact bytes that were
// durably written (or loaded). The serialized bytes are the source of
// truth for "what is on disk", independent of the live value.
type snapshotEntry struct {
	lastVersion uint64
	serialized  []byte
}

// snapshotStore caches one snapshotEntry per record name. It is
// mutated only by the manager, immediately after a confirmed durable
// write or a confirmed load.
type snapshotStore struct {
	mu      sync.RWMutex
	entries map[string]snapshotEntry
}

func newSnapshotStore() *snapshotStore {
	return &snapshotStore{entries: map[string]snapshotEntry{}}
}

func (s *snapshotStore) get(name string) (snapshotEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[name]
	return entry, ok
}

func (s *snapshotStore) put(name string, version uint64, serialized []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = snapshotEntry{lastVersion: version, serialized: serialized}
}

// isDirty reports whether the record diverged from its snapshot. A
// record with no snapshot yet is dirty: the first successful save
// creates the entry. Versions only ever increase while the process
// runs, so a single integer comparison suffices; no value diffing.
func (s *snapshotStore) isDirty(name string, current uint64) bool {
	entry, ok := s.get(name)
	if !ok {
		return true
	}
	return entry.lastVersion != current
}
