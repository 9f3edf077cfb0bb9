package snapdb

import (
	"encoding/binary"
	"iter"
	"reflect"
	"sync"
)

type storeConfig struct {
	paired    bool
	cacheSize int
}

// StoreOption configures a store at registration time.
type StoreOption func(*storeConfig)

// WithPairing stores the class under the paired-index reversal
// encoding: indices are allocated two at a time and index^1 is the
// record's time-reversed twin. The record type must implement
// PairedRecord.
func WithPairing() StoreOption {
	return func(c *storeConfig) { c.paired = true }
}

// WithCacheSize bounds the store's identity cache.
func WithCacheSize(n int) StoreOption {
	return func(c *storeConfig) { c.cacheSize = n }
}

// Store is the per-class table manager: it allocates indices, invokes
// feature read/write logic, and maintains the identity cache. All
// mutation is serialized by a single store mutex; the engine assumes
// one logical writer (external mutual exclusion for multi-process
// writers is out of scope).
type Store[R Record] struct {
	file     *File
	class    string
	newRec   func() R
	features []Feature
	paired   bool
	cacheCap int

	mu          sync.Mutex
	initialized bool
	sizing      Sizing
	count       uint64 // committed slots, append-only
	defs        []VarDef
	vars        map[string]*variable
	cache       *cache
}

// Class returns the store's class tag.
func (s *Store[R]) Class() string { return s.class }

// Len returns the number of committed slots (for paired stores this
// counts both halves of every pair).
func (s *Store[R]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.count)
}

// Sizing returns the sizing metadata the store was initialized with.
func (s *Store[R]) Sizing() Sizing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizing
}

func (s *Store[R]) recType() reflect.Type { return reflect.TypeFor[R]() }
func (s *Store[R]) bind(f *File) { s.file = f }

func (s *Store[R]) io(stx storageTx, ts *txState) *varIO {
	return &varIO{f: s.file, stx: stx, ts: ts, store: s.class, vars: s.vars}
}

// Initialize performs the one-time schema setup fixing variable shapes
// for the store's features. Calling it again with identical sizing is a
// no-op; different sizing fails with ErrSchemaConflict. Must be called
// (directly or via File.Initialize) before any save or load.
func (s *Store[R]) Initialize(sz Sizing) error {
	if s.file == nil {
		return storeErrf(s.class, ErrInconsistentState, "store not opened")
	}
	return s.file.update(func(ts *txState) error {
		return s.initTx(ts, sz)
	})
}

func (s *Store[R]) initTx(ts *txState, sz Sizing) error {
	defs, err := composeSchema(s.class, s.features, sz, s.newRec(), s.paired)
	if err != nil {
		return err
	}
	fp := schemaFingerprint(sz, defs)

	meta, ok, err := readStoreMeta(ts.stx, s.class)
	if err != nil {
		return err
	}
	if ok {
		if meta.fingerprint != fp {
			return storeErrf(s.class, ErrSchemaConflict,
				"already initialized with different sizing or schema")
		}
		ts.deferCommit(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.adoptLocked(sz, defs, meta.count)
		})
		return nil
	}

	if _, err := ts.stx.CreateBucket(s.class, ""); err != nil {
		return storeErrf(s.class, err, "creating store bucket")
	}
	for _, d := range defs {
		if _, err := ts.stx.CreateBucket(s.class, "v_"+d.Name); err != nil {
			return storeErrf(s.class, err, "creating variable %q", d.Name)
		}
	}
	if err := writeStoreMeta(ts.stx, s.class, storeMeta{fingerprint: fp, sizing: sz}); err != nil {
		return err
	}
	ts.deferCommit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.adoptLocked(sz, defs, 0)
	})
	return nil
}

// openTx restores the store's schema from its persisted meta when the
// file is reopened. A store with no meta stays uninitialized.
func (s *Store[R]) openTx(stx storageTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok, err := readStoreMeta(stx, s.class)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defs, err := composeSchema(s.class, s.features, meta.sizing, s.newRec(), s.paired)
	if err != nil {
		return err
	}
	if schemaFingerprint(meta.sizing, defs) != meta.fingerprint {
		return storeErrf(s.class, ErrSchemaConflict,
			"on-disk schema does not match registered feature list")
	}
	s.adoptLocked(meta.sizing, defs, meta.count)
	return nil
}

func (s *Store[R]) adoptLocked(sz Sizing, defs []VarDef, count uint64) {
	s.sizing = sz
	s.defs = defs
	s.count = count
	s.vars = make(map[string]*variable, len(defs))
	for _, d := range defs {
		perPair := s.paired && !reservedVar(d.Name)
		s.vars[d.Name] = newVariable(s.class, d, perPair)
	}
	if s.cache == nil {
		s.cache = newCache(s.cacheCap)
	}
	s.initialized = true
}

// Save commits a record and returns its index. A record that already
// carries an index in this store is re-saved in place (explicit
// overwrite, invalidating cached copies); otherwise the next free index
// (or pair) is allocated. The record's class must match the store's.
func (s *Store[R]) Save(rec R) (uint64, error) {
	if s.file == nil {
		return 0, storeErrf(s.class, ErrInconsistentState, "store not opened")
	}
	var idx uint64
	err := s.file.update(func(ts *txState) error {
		var err error
		idx, err = s.saveInTx(ts, rec)
		return err
	})
	if err != nil {
		return 0, err
	}
	if s.file.verbose {
		s.file.logf("snapdb: SAVE %s[%d]", s.class, idx)
	}
	return idx, nil
}

func (s *Store[R]) saveInTx(ts *txState, rec R) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return 0, storeErrf(s.class, ErrInconsistentState, "store not initialized")
	}
	if rec.Class() != s.class {
		return 0, storeErrf(s.class, ErrInconsistentState,
			"record class %q does not match store", rec.Class())
	}
	io := s.io(ts.stx, ts)

	if idx, ok := rec.Index(); ok {
		return s.rewriteLocked(io, ts, idx, rec)
	}

	idx := ts.nextIndex(s, s.count)
	newCount := idx + 1
	if s.paired {
		newCount = idx + 2
	}
	if err := s.writeLocked(io, idx, rec); err != nil {
		return 0, err
	}
	if err := writeStoreCount(ts.stx, s.class, newCount); err != nil {
		return 0, err
	}
	ts.setNextIndex(s, newCount)
	ts.markSaved(rec, idx)
	ts.deferCommit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.count = newCount
		rec.setIndex(idx)
		if s.paired {
			any(rec).(PairedRecord[R]).setTwin(newProxy(s, idx^1))
		}
		s.cache.insert(idx, rec)
	})
	return idx, nil
}

func (s *Store[R]) writeLocked(io *varIO, idx uint64, rec R) error {
	for _, f := range s.features {
		if err := f.Write(io, idx, rec); err != nil {
			return err
		}
	}
	if name := rec.Name(); name != "" {
		if err := io.PutString(varName, idx, name); err != nil {
			return err
		}
	}
	if s.paired {
		pr := any(rec).(PairedRecord[R])
		if err := io.PutBool(varReversed, idx, pr.IsReversed()); err != nil {
			return err
		}
		if err := io.PutBool(varReversed, idx^1, !pr.IsReversed()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store[R]) rewriteLocked(io *varIO, ts *txState, idx uint64, rec R) (uint64, error) {
	if idx >= s.count {
		return 0, storeIdxErrf(s.class, idx, ErrRecordNotFound, "cannot rewrite uncommitted index")
	}
	if s.paired && idx&1 == 1 {
		return 0, storeIdxErrf(s.class, idx, ErrInconsistentState,
			"a paired record can only be rewritten through its canonical even slot")
	}
	if err := s.writeLocked(io, idx, rec); err != nil {
		return 0, err
	}
	ts.deferCommit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cache.remove(idx)
		if s.paired {
			s.cache.remove(idx ^ 1)
		}
		s.cache.insert(idx, rec)
	})
	return idx, nil
}

// ensureSaved commits a sub-record referenced by a parent being saved
// in the same transaction, unless it is already stored (or already
// saved earlier within this transaction).
func (s *Store[R]) ensureSaved(ts *txState, rec R) (uint64, error) {
	if idx, ok := rec.Index(); ok {
		return idx, nil
	}
	if idx, ok := ts.savedIndex(rec); ok {
		return idx, nil
	}
	return s.saveInTx(ts, rec)
}

// Load returns the record committed at idx. While the index (or, for
// paired stores, its sibling) remains cached, Load is referentially
// stable: it returns the identical in-memory instance without touching
// the table.
func (s *Store[R]) Load(idx uint64) (R, error) {
	var zero R
	if s.file == nil {
		return zero, storeErrf(s.class, ErrInconsistentState, "store not opened")
	}

	s.mu.Lock()
	if cached, ok := s.cache.get(idx); ok {
		s.mu.Unlock()
		return cached.(R), nil
	}
	s.mu.Unlock()

	var rec R
	err := s.file.view(func(stx storageTx) error {
		var err error
		rec, err = s.loadInTx(stx, idx)
		return err
	})
	if err != nil {
		return zero, err
	}
	if s.file.verbose {
		s.file.logf("snapdb: LOAD %s[%d]", s.class, idx)
	}
	return rec, nil
}

func (s *Store[R]) loadInTx(stx storageTx, idx uint64) (R, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero R
	if !s.initialized {
		return zero, storeErrf(s.class, ErrInconsistentState, "store not initialized")
	}
	if cached, ok := s.cache.get(idx); ok {
		return cached.(R), nil
	}
	if idx >= s.count {
		return zero, storeIdxErrf(s.class, idx, ErrRecordNotFound, "only %d slots committed", s.count)
	}
	io := s.io(stx, nil)

	if s.paired {
		return s.loadPairedLocked(io, idx)
	}

	rec := s.newRec()
	for _, f := range s.features {
		if err := f.Read(io, idx, rec); err != nil {
			return zero, err
		}
	}
	if name, ok, err := io.StringOK(varName, idx); err != nil {
		return zero, err
	} else if ok {
		rec.setName(name)
	}
	rec.setIndex(idx)
	s.cache.insert(idx, rec)
	return rec, nil
}

// All produces a lazy, restartable sequence of proxies for indices
// 0..Len()-1 in index order. No data is read until an element is
// dereferenced; re-iterating yields fresh proxies.
func (s *Store[R]) All() iter.Seq[*Proxy[R]] {
	return func(yield func(*Proxy[R]) bool) {
		n := uint64(s.Len())
		for idx := uint64(0); idx < n; idx++ {
			if !yield(newProxy(s, idx)) {
				return
			}
		}
	}
}

// LoadAll materializes the records at the given indices.
func (s *Store[R]) LoadAll(indices []uint64) ([]R, error) {
	out := make([]R, 0, len(indices))
	for _, idx := range indices {
		rec, err := s.Load(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// FindByName scans the store's name column for the first record saved
// under the given name.
func (s *Store[R]) FindByName(name string) (R, error) {
	var zero R
	if s.file == nil {
		return zero, storeErrf(s.class, ErrInconsistentState, "store not opened")
	}
	var idx uint64
	var found bool
	err := s.file.view(func(stx storageTx) error {
		b := stx.Bucket(s.class, "v_"+varName)
		if b == nil {
			return storeErrf(s.class, ErrInconsistentState, "store not initialized")
		}
		s.file.ReadCount.Add(1)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == name {
				idx = binary.BigEndian.Uint64(k)
				found = true
				break
			}
		}
		return nil
	})
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, storeErrf(s.class, ErrRecordNotFound, "no record named %q", name)
	}
	return s.Load(idx)
}
