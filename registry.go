package snapdb

import (
	"fmt"
	"log"
	"reflect"
	"sync/atomic"

	"go.etcd.io/bbolt"
)

// anyStore is the type-erased view of Store[R] held by the registry.
type anyStore interface {
	Class() string
	Len() int
	recType() reflect.Type
	bind(f *File)
	initTx(ts *txState, sz Sizing) error
	openTx(stx storageTx) error
}

// StoreHandle is the class-keyed, type-erased view of a store.
type StoreHandle interface {
	Class() string
	Len() int
}

// Registry maps record classes to their stores. Build it once, register
// every store, then bind it to a file with Open; registration after
// binding is a programmer error and panics.
type Registry struct {
	stores  []anyStore
	byClass map[string]anyStore
	byType  map[reflect.Type]anyStore
	bound   bool
}

func NewRegistry() *Registry {
	return &Registry{
		byClass: make(map[string]anyStore),
		byType:  make(map[reflect.Type]anyStore),
	}
}

// RegisterStore adds a store for the given record class. newRec must
// return a blank record for loads to populate. Register sub-record
// stores before the stores that reference them, so that file-level
// initialization runs children first.
func RegisterStore[R Record](reg *Registry, class string, newRec func() R, features []Feature, opts ...StoreOption) *Store[R] {
	if reg.bound {
		panic("snapdb: cannot register stores after Open")
	}
	if _, dup := reg.byClass[class]; dup {
		panic(fmt.Sprintf("snapdb: store class %q registered twice", class))
	}
	rt := reflect.TypeFor[R]()
	if _, dup := reg.byType[rt]; dup {
		panic(fmt.Sprintf("snapdb: record type %v registered twice", rt))
	}

	var cfg storeConfig
	for _, o := range opts {
		o(&cfg)
	}
	s := &Store[R]{
		class:    class,
		newRec:   newRec,
		features: features,
		paired:   cfg.paired,
		cacheCap: cfg.cacheSize,
	}
	if s.paired {
		if _, ok := any(newRec()).(PairedRecord[R]); !ok {
			panic(fmt.Sprintf("snapdb: paired store %q requires a PairedRecord type, got %v", class, rt))
		}
	}
	reg.stores = append(reg.stores, s)
	reg.byClass[class] = s
	reg.byType[rt] = s
	return s
}

// DefaultRegistry builds the standard composite layout: configurations
// (coordinates + box vectors), momenta (velocities), and paired
// snapshots referencing both.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	RegisterStore(reg, ClassConfigurations,
		func() *Configuration { return new(Configuration) },
		[]Feature{CoordinatesFeature{}, BoxVectorsFeature{}})
	RegisterStore(reg, ClassMomenta,
		func() *Momentum { return new(Momentum) },
		[]Feature{VelocitiesFeature{}})
	RegisterStore(reg, ClassSnapshots,
		func() *Snapshot { return new(Snapshot) },
		[]Feature{ConfigurationRefFeature{}, MomentumRefFeature{}},
		WithPairing())
	return reg
}

// Options configure a file.
type Options struct {
	// Logf sinks all log output. Defaults to log.Printf.
	Logf func(format string, args ...any)

	// Verbose logs every save and load.
	Verbose bool

	// IsTesting trades durability for speed (bolt runs with NoSync).
	IsTesting bool

	// InMemory backs the file with an in-process storage instead of
	// bolt; path is ignored. Nothing survives Close.
	InMemory bool

	// MmapSize is the initial bolt mmap size, 0 for the default.
	MmapSize int
}

// File is one persistent object file: a storage backend plus the bound
// registry of stores. ReadCount and WriteCount count variable-level
// storage operations and only ever grow.
type File struct {
	stg     storage
	reg     *Registry
	logf    func(format string, args ...any)
	verbose bool

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

// Open opens or creates a file at path and binds the registry to it.
// Stores whose schema was initialized in an earlier session are restored
// from their persisted meta; fresh stores stay uninitialized until
// Initialize. A nil registry means DefaultRegistry.
func Open(path string, reg *Registry, opt Options) (*File, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if reg.bound {
		panic("snapdb: registry is already bound to a file")
	}
	if opt.Logf == nil {
		opt.Logf = log.Printf
	}

	var stg storage
	if opt.InMemory {
		stg = newMemStorage()
	} else {
		bopt := &bbolt.Options{InitialMmapSize: opt.MmapSize}
		if opt.IsTesting {
			bopt.NoSync = true
		}
		bdb, err := bbolt.Open(path, 0o666, bopt)
		if err != nil {
			return nil, fmt.Errorf("snapdb: open %s: %w", path, err)
		}
		stg = newBoltStorage(bdb)
	}

	f := &File{
		stg:     stg,
		reg:     reg,
		logf:    opt.Logf,
		verbose: opt.Verbose,
	}
	reg.bound = true
	for _, s := range reg.stores {
		s.bind(f)
	}

	err := f.view(func(stx storageTx) error {
		for _, s := range reg.stores {
			if err := s.openTx(stx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		stg.Close()
		return nil, err
	}
	return f, nil
}

// Close closes the underlying storage. In-flight operations must have
// finished.
func (f *File) Close() error {
	return f.stg.Close()
}

// txState is one writable transaction plus the in-memory mutations it
// has staged. Counts, caches and record identities change only after
// the transaction commits, so a failed commit leaves every store
// exactly as it was.
type txState struct {
	stx      storageTx
	onCommit []func()
	nextIdx  map[any]uint64    // per-store allocation cursor within this tx
	saved    map[Record]uint64 // records saved within this tx, pre-commit
}

func (ts *txState) deferCommit(fn func()) {
	ts.onCommit = append(ts.onCommit, fn)
}

func (ts *txState) nextIndex(store any, committed uint64) uint64 {
	if v, ok := ts.nextIdx[store]; ok {
		return v
	}
	return committed
}

func (ts *txState) setNextIndex(store any, v uint64) {
	if ts.nextIdx == nil {
		ts.nextIdx = make(map[any]uint64)
	}
	ts.nextIdx[store] = v
}

func (ts *txState) markSaved(rec Record, idx uint64) {
	if ts.saved == nil {
		ts.saved = make(map[Record]uint64)
	}
	ts.saved[rec] = idx
}

func (ts *txState) savedIndex(rec Record) (uint64, bool) {
	idx, ok := ts.saved[rec]
	return idx, ok
}

func (f *File) update(fn func(ts *txState) error) error {
	stx, err := f.stg.BeginTx(true)
	if err != nil {
		return err
	}
	defer stx.Rollback()
	ts := &txState{stx: stx}
	if err := fn(ts); err != nil {
		return err
	}
	if err := stx.Commit(); err != nil {
		return err
	}
	for _, hook := range ts.onCommit {
		hook()
	}
	return nil
}

func (f *File) view(fn func(stx storageTx) error) error {
	stx, err := f.stg.BeginTx(false)
	if err != nil {
		return err
	}
	defer stx.Rollback()
	return fn(stx)
}

const fileBucket = "file"

// Initialize sets up every registered store with the given sizing, in
// registration order, within one transaction. topology is an opaque
// system-description blob stored alongside (nil to skip). Repeating the
// call with identical sizing is a no-op; a different sizing fails with
// ErrSchemaConflict and changes nothing.
func (f *File) Initialize(sz Sizing, topology []byte) error {
	return f.update(func(ts *txState) error {
		for _, s := range f.reg.stores {
			if err := s.initTx(ts, sz); err != nil {
				return err
			}
		}
		if topology != nil {
			b, err := ts.stx.CreateBucket(fileBucket, "")
			if err != nil {
				return err
			}
			if err := b.Put([]byte(metaKeyTopology), topology); err != nil {
				return err
			}
			f.WriteCount.Add(1)
		}
		return nil
	})
}

// Topology returns the topology blob stored by Initialize, or nil.
func (f *File) Topology() ([]byte, error) {
	var out []byte
	err := f.view(func(stx storageTx) error {
		b := stx.Bucket(fileBucket, "")
		if b == nil {
			return nil
		}
		if raw := b.Get([]byte(metaKeyTopology)); raw != nil {
			out = append([]byte(nil), raw...)
			f.ReadCount.Add(1)
		}
		return nil
	})
	return out, err
}

// StoreNamed returns the store registered for the given class tag.
func (f *File) StoreNamed(class string) (StoreHandle, error) {
	s := f.reg.byClass[class]
	if s == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	return s, nil
}

// StoreOf returns the store registered for the record type R.
func StoreOf[R Record](f *File) (*Store[R], error) {
	return storeOf[R](f)
}

func storeOf[R Record](f *File) (*Store[R], error) {
	if f == nil {
		return nil, fmt.Errorf("%w: record not bound to a file", ErrUnknownClass)
	}
	s := f.reg.byType[reflect.TypeFor[R]()]
	if s == nil {
		return nil, fmt.Errorf("%w: no store registered for %v", ErrUnknownClass, reflect.TypeFor[R]())
	}
	return s.(*Store[R]), nil
}

// Snapshots is a convenience accessor for the default layout.
func (f *File) Snapshots() (*Store[*Snapshot], error) { return storeOf[*Snapshot](f) }

// Configurations is a convenience accessor for the default layout.
func (f *File) Configurations() (*Store[*Configuration], error) { return storeOf[*Configuration](f) }

// Momenta is a convenience accessor for the default layout.
func (f *File) Momenta() (*Store[*Momentum], error) { return storeOf[*Momentum](f) }
