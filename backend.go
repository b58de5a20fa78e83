package persist

import (
	"fmt"
	"os"
	"sync"
)

// backend is the contract for all storage targets a strategy can
// resolve to. load MUST return (nil, false, nil) if the target does not
// exist yet; a missing backend is "nothing to load", not an error.
type backend interface {
	load() (data []byte, ok bool, err error)
	store(data []byte) error
	// location uniquely identifies the storage target; dirty records
	// whose backends share a location are merged into one write.
	location() string
	// shared reports whether the target is a container file holding
	// multiple records.
	shared() bool
	// lockPath is the path to lock for the duration of a
	// read-merge-write, or "" when no cross-process coordination is
	// needed.
	lockPath() string
}

// fileBackend reads and writes one local file, atomically.
type fileBackend struct {
	path      string
	container bool
}

func (b *fileBackend) load() ([]byte, bool, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %q: %w", b.path, err)
	}
	return data, true, nil
}

func (b *fileBackend) store(data []byte) error {
	if err := atomicWriteFile(b.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %q: %w", b.path, err)
	}
	return nil
}

func (b *fileBackend) location() string { return b.path }
func (b *fileBackend) shared() bool     { return b.container }
func (b *fileBackend) lockPath() string { return b.path }

// embedBackend serves a payload compiled into the binary. It is
// read-only: store reports success without touching anything, keeping
// one manager code path for all strategies.
type embedBackend struct {
	name string
	data []byte
}

func (b *embedBackend) load() ([]byte, bool, error) {
	if len(b.data) == 0 {
		return nil, false, nil
	}
	return b.data, true, nil
}

func (b *embedBackend) store([]byte) error { return nil }
func (b *embedBackend) location() string   { return "embed:" + b.name }
func (b *embedBackend) shared() bool       { return false }
func (b *embedBackend) lockPath() string   { return "" }

// memoryBackend stores data in memory. For testing.
type memoryBackend struct {
	loc    string
	mu     sync.Mutex
	data   []byte
	exists bool
}

func (b *memoryBackend) load() ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.exists {
		return nil, false, nil
	}
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return cp, true, nil
}

func (b *memoryBackend) store(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make([]byte, len(data))
	copy(b.data, data)
	b.exists = true
	return nil
}

func (b *memoryBackend) location() string { return "memory:" + b.loc }
func (b *memoryBackend) shared() bool     { return false }
func (b *memoryBackend) lockPath() string { return "" }

var (
	_ backend = (*fileBackend)(nil)
	_ backend = (*embedBackend)(nil)
	_ backend = (*memoryBackend)(nil)
)
