package persist

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// record pairs a descriptor with its resolved storage target.
type record struct {
	desc    RecordDescriptor
	codec   codec
	backend backend
}

// Manager tracks registered records, detects when their in-memory
// values diverge from the last durably-written state, and synchronizes
// the diverged ones to storage.
//
// The host drives it synchronously: Register everything, Initialize
// once, then call Tick on whatever cadence suits the application (e.g.
// once per frame). Tick performs synchronous file I/O and runs to
// completion; retry policy, if any, belongs to the caller's scheduling.
type Manager struct {
	mu          sync.Mutex
	opts        Options
	log         *slog.Logger
	records     map[string]*record
	order       []string
	snapshots   *snapshotStore
	initialized bool
}

// NewManager creates a manager with the given options. Zero-value
// option fields fall back to DefaultOptions.
func NewManager(opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:      opts,
		log:       opts.Logger,
		records:   map[string]*record{},
		snapshots: newSnapshotStore(),
	}
}

// Register adds a record descriptor. All registration must happen
// before Initialize; the descriptor table is read-only afterwards.
func (m *Manager) Register(desc RecordDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return ErrAlreadyInitialized
	}
	if desc.Name == "" {
		return errors.New("persist: record name cannot be empty")
	}
	if reservedName(desc.Name) {
		return fmt.Errorf("persist: record name %q is reserved for container metadata", desc.Name)
	}
	if desc.Accessor == nil {
		return fmt.Errorf("persist: record %q has no accessor", desc.Name)
	}
	if _, exists := m.records[desc.Name]; exists {
		return fmt.Errorf("persist: record %q already registered", desc.Name)
	}

	m.records[desc.Name] = &record{desc: desc}
	m.order = append(m.order, desc.Name)
	return nil
}

// Initialize resolves every record's storage backend and loads whatever
// is already persisted into the live values.
//
// Misconfiguration (unknown format, missing vendor/app identity or
// secret, colliding dedicated paths) is fatal and leaves the manager
// uninitialized. Load failures are not: a missing backend means
// "nothing to load", and a malformed one is reported as a LoadError
// while the record keeps its default value and the offending file is
// left untouched until the next successful save. The returned error
// aggregates all per-record load failures; the manager is usable
// regardless.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return ErrAlreadyInitialized
	}

	dedicated := map[string]string{} // location -> record name
	for _, name := range m.order {
		rec := m.records[name]
		c, err := codecFor(rec.desc.Format)
		if err != nil {
			return fmt.Errorf("record %q: %w", name, err)
		}
		b, err := m.resolveBackend(&rec.desc)
		if err != nil {
			return err
		}
		if !b.shared() {
			if other, clash := dedicated[b.location()]; clash {
				return fmt.Errorf("persist: records %q and %q resolve to the same location %q",
					other, name, b.location())
			}
			dedicated[b.location()] = name
		}
		rec.codec = c
		rec.backend = b
	}

	loadErrs := m.loadAll()
	m.initialized = true
	return errors.Join(loadErrs...)
}

// loadAll reads every backend once and applies persisted values to the
// live records. Containers shared by several records are read a single
// time.
func (m *Manager) loadAll() []error {
	var errs []error

	type containerGroup struct {
		backend backend
		codec   codec
		records []*record
	}
	groups := map[string]*containerGroup{}
	var groupOrder []string

	for _, name := range m.order {
		rec := m.records[name]
		if !rec.backend.shared() {
			if err := m.loadDedicated(rec); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		loc := rec.backend.location()
		g, ok := groups[loc]
		if !ok {
			g = &containerGroup{backend: rec.backend, codec: rec.codec}
			groups[loc] = g
			groupOrder = append(groupOrder, loc)
		}
		g.records = append(g.records, rec)
	}

	for _, loc := range groupOrder {
		g := groups[loc]
		data, ok, err := g.backend.load()
		if err != nil {
			for _, rec := range g.records {
				errs = append(errs, &LoadError{Name: rec.desc.Name, Err: err})
			}
			continue
		}
		if !ok {
			continue // nothing persisted yet; defaults stay
		}
		cf, err := decodeContainerFile(g.codec, data)
		if err != nil {
			m.log.Warn("container is malformed; records keep defaults", "path", loc, "error", err)
			for _, rec := range g.records {
				errs = append(errs, &LoadError{Name: rec.desc.Name, Err: err})
			}
			continue
		}
		for _, rec := range g.records {
			fragment, present := cf.get(rec.desc.Name)
			if !present {
				continue
			}
			if err := m.applyLoad(rec, fragment); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errs
}

func (m *Manager) loadDedicated(rec *record) error {
	data, ok, err := rec.backend.load()
	if err != nil {
		return &LoadError{Name: rec.desc.Name, Err: err}
	}
	if !ok {
		return nil
	}
	return m.applyLoad(rec, data)
}

// applyLoad decodes a fragment into the live value and records the
// resulting snapshot.
func (m *Manager) applyLoad(rec *record, fragment []byte) error {
	target := rec.desc.Accessor.NewValue()
	if err := rec.codec.unmarshal(fragment, target); err != nil {
		m.log.Warn("failed to decode record; keeping default", "name", rec.desc.Name, "error", err)
		return &LoadError{Name: rec.desc.Name, Err: err}
	}
	if err := rec.desc.Accessor.WriteValue(target); err != nil {
		return &LoadError{Name: rec.desc.Name, Err: err}
	}
	_, version := rec.desc.Accessor.ReadCurrent()
	m.snapshots.put(rec.desc.Name, version, fragment)
	m.log.Debug("loaded record", "name", rec.desc.Name, "backend", rec.backend.location())
	return nil
}

// Tick synchronizes every auto-saved record whose change-version
// diverged from its snapshot. Dirty records sharing one container file
// are merged into the existing on-disk mapping and written once; Embed
// and Secure records are written to their dedicated locations. A write
// failure on one backend does not prevent writes to the others;
// failures are aggregated in the returned error.
func (m *Manager) Tick() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}

	var candidates []*record
	for _, name := range m.order {
		rec := m.records[name]
		if rec.desc.DisableAutoSave {
			continue
		}
		candidates = append(candidates, rec)
	}
	return m.sync(candidates, false)
}

// SaveNow forces an immediate synchronous write of one record,
// regardless of its dirty state.
func (m *Manager) SaveNow(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	rec, ok := m.records[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return m.sync([]*record{rec}, true)
}

// SaveAll forces an immediate synchronous write of every registered
// record, including those with auto-save disabled.
func (m *Manager) SaveAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	var all []*record
	for _, name := range m.order {
		all = append(all, m.records[name])
	}
	return m.sync(all, true)
}

// BackendState returns a copy of the last-known serialized snapshot for
// the record, primarily for testing and manual inspection. It returns
// (nil, nil) when the record has never been loaded or saved.
func (m *Manager) BackendState(name string) ([]byte, error) {
	m.mu.Lock()
	_, registered := m.records[name]
	m.mu.Unlock()
	if !registered {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	entry, ok := m.snapshots.get(name)
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(entry.serialized))
	copy(cp, entry.serialized)
	return cp, nil
}

// Names returns the registered record names in registration order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// pendingWrite is one record serialized and ready for its backend.
type pendingWrite struct {
	rec      *record
	fragment []byte
	version  uint64
}

// sync serializes the dirty subset of candidates (all of them when
// force is set) and writes each affected backend once. Caller holds
// m.mu.
func (m *Manager) sync(candidates []*record, force bool) error {
	var errs []error

	type containerGroup struct {
		backend backend
		writes  []pendingWrite
	}
	groups := map[string]*containerGroup{}
	var groupOrder []string
	var dedicated []pendingWrite

	for _, rec := range candidates {
		value, version := rec.desc.Accessor.ReadCurrent()
		if !force && !m.snapshots.isDirty(rec.desc.Name, version) {
			continue
		}
		fragment, err := rec.codec.marshal(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %q: %w", rec.desc.Name, err))
			continue
		}
		w := pendingWrite{rec: rec, fragment: fragment, version: version}
		if !rec.backend.shared() {
			dedicated = append(dedicated, w)
			continue
		}
		loc := rec.backend.location()
		g, ok := groups[loc]
		if !ok {
			g = &containerGroup{backend: rec.backend}
			groups[loc] = g
			groupOrder = append(groupOrder, loc)
		}
		g.writes = append(g.writes, w)
	}

	for _, loc := range groupOrder {
		g := groups[loc]
		if err := m.writeContainer(g.backend, g.writes); err != nil {
			errs = append(errs, err)
		}
	}
	for _, w := range dedicated {
		if err := m.writeDedicated(w); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// writeContainer merges the pending fragments into the container's
// existing on-disk mapping and writes once. Reading back before writing
// is essential: serializing only the dirty set and overwriting the file
// would destroy every other record's persisted data. The scoped lock
// spans the whole read-merge-write so a concurrent writer cannot
// interleave.
func (m *Manager) writeContainer(b backend, writes []pendingWrite) error {
	c := writes[0].rec.codec

	write := func() error {
		existing := newContainerFile(c)
		data, ok, err := b.load()
		if err != nil {
			return err
		}
		if ok {
			cf, err := decodeContainerFile(c, data)
			if err != nil {
				// The file is unreadable; a fresh container is the
				// next successful save the load path promised.
				m.log.Warn("container is malformed; rewriting", "path", b.location(), "error", err)
			} else {
				existing = cf
			}
		}

		updates := make(map[string][]byte, len(writes))
		for _, w := range writes {
			updates[w.rec.desc.Name] = w.fragment
		}
		existing.merge(updates)

		out, err := existing.encode(time.Now())
		if err != nil {
			return err
		}
		return b.store(out)
	}

	var err error
	if lp := b.lockPath(); lp != "" {
		err = withFileLock(lp, write)
	} else {
		err = write()
	}
	if err != nil {
		return fmt.Errorf("container %q: %w", b.location(), err)
	}

	for _, w := range writes {
		m.snapshots.put(w.rec.desc.Name, w.version, w.fragment)
	}
	m.log.Debug("saved container", "path", b.location(), "records", len(writes))
	return nil
}

// writeDedicated writes one record to its own location.
func (m *Manager) writeDedicated(w pendingWrite) error {
	b := w.rec.backend

	store := func() error { return b.store(w.fragment) }
	var err error
	if lp := b.lockPath(); lp != "" {
		err = withFileLock(lp, store)
	} else {
		err = store()
	}
	if err != nil {
		return fmt.Errorf("record %q: %w", w.rec.desc.Name, err)
	}

	m.snapshots.put(w.rec.desc.Name, w.version, w.fragment)
	m.log.Debug("saved record", "name", w.rec.desc.Name, "backend", b.location())
	return nil
}
