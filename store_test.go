package snapdb

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestConfigurationRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.snapdb")
	f, err := Open(path, nil, Options{Logf: t.Logf, IsTesting: true})
	ok(t, err)
	ok(t, f.Initialize(Sizing{NAtoms: 3, NSpatial: 3}, nil))
	confs, err := f.Configurations()
	ok(t, err)

	idx, err := confs.Save(newConfig(t, testCoords(), nil))
	ok(t, err)
	eq(t, idx, 0)
	ok(t, f.Close())

	// Fresh process: nothing cached, data must come off the table.
	f2, err := Open(path, nil, Options{Logf: t.Logf, IsTesting: true})
	ok(t, err)
	defer f2.Close()
	confs2, err := f2.Configurations()
	ok(t, err)
	eq(t, confs2.Len(), 1)

	got, err := confs2.Load(0)
	ok(t, err)
	matEq(t, got.Coordinates(), testCoords())
	if got.BoxVectors() != nil {
		t.Fatalf("expected nil box vectors, got %v", got.BoxVectors())
	}
}

func TestBoxVectorsRoundTrip(t *testing.T) {
	box := dense(3, 3,
		10, 0, 0,
		0, 10, 0,
		0, 0, 10)
	f := setupInit(t, nil, Sizing{NAtoms: 3, NSpatial: 3})
	confs, err := f.Configurations()
	ok(t, err)

	idx, err := confs.Save(newConfig(t, testCoords(), box))
	ok(t, err)
	got, err := confs.Load(idx)
	ok(t, err)
	matEq(t, got.BoxVectors(), box)
}

func TestLoadIdentityStable(t *testing.T) {
	f := setupInit(t, nil, Sizing{NAtoms: 3, NSpatial: 3})
	confs, err := f.Configurations()
	ok(t, err)

	cfg := newConfig(t, testCoords(), nil)
	idx, err := confs.Save(cfg)
	ok(t, err)

	before := f.ReadCount.Load()
	a, err := confs.Load(idx)
	ok(t, err)
	b, err := confs.Load(idx)
	ok(t, err)
	if a != cfg || b != cfg {
		t.Fatalf("cached loads must return the saved instance")
	}
	eq(t, f.ReadCount.Load(), before)
}

func TestLoadMissing(t *testing.T) {
	f := setupInit(t, nil, Sizing{NAtoms: 3, NSpatial: 3})
	confs, err := f.Configurations()
	ok(t, err)

	_, err = confs.Load(42)
	wantErr(t, err, ErrRecordNotFound)
	var se *StoreError
	if !errors.As(err, &se) || !se.HasIndex || se.Index != 42 {
		t.Fatalf("error should carry store and index: %v", err)
	}
}

func TestSaveBeforeInitialize(t *testing.T) {
	f := setup(t, nil)
	confs, err := f.Configurations()
	ok(t, err)
	_, err = confs.Save(newConfig(t, testCoords(), nil))
	wantErr(t, err, ErrInconsistentState)
}

func TestOverwriteKeepsIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ow.snapdb")
	f, err := Open(path, nil, Options{Logf: t.Logf, IsTesting: true})
	ok(t, err)
	ok(t, f.Initialize(Sizing{NAtoms: 3, NSpatial: 3}, nil))
	confs, err := f.Configurations()
	ok(t, err)

	cfg := newConfig(t, testCoords(), nil)
	idx, err := confs.Save(cfg)
	ok(t, err)

	cfg.SetName("start")
	idx2, err := confs.Save(cfg)
	ok(t, err)
	eq(t, idx2, idx)
	eq(t, confs.Len(), 1)
	ok(t, f.Close())

	f2, err := Open(path, nil, Options{Logf: t.Logf, IsTesting: true})
	ok(t, err)
	defer f2.Close()
	confs2, err := f2.Configurations()
	ok(t, err)
	got, err := confs2.Load(idx)
	ok(t, err)
	eq(t, got.Name(), "start")
}

func TestAllIsLazyAndRestartable(t *testing.T) {
	f := setupInit(t, nil, Sizing{NAtoms: 3, NSpatial: 3})
	confs, err := f.Configurations()
	ok(t, err)

	want := make([]*Configuration, 3)
	for i := range want {
		want[i] = newConfig(t, testCoords(), nil)
		_, err := confs.Save(want[i])
		ok(t, err)
	}

	before := f.ReadCount.Load()
	var proxies []*Proxy[*Configuration]
	for p := range confs.All() {
		proxies = append(proxies, p)
	}
	eq(t, len(proxies), 3)
	eq(t, f.ReadCount.Load(), before) // enumeration alone reads nothing

	for i, p := range proxies {
		eq(t, p.Index(), uint64(i))
		got, err := p.Get()
		ok(t, err)
		if got != want[i] {
			t.Fatalf("proxy %d resolved to a different instance", i)
		}
	}

	// A second pass over the same sequence starts from scratch.
	n := 0
	for p := range confs.All() {
		eq(t, p.Index(), uint64(n))
		n++
	}
	eq(t, n, 3)
}

func TestLoadAll(t *testing.T) {
	f := setupInit(t, nil, Sizing{NAtoms: 3, NSpatial: 3})
	confs, err := f.Configurations()
	ok(t, err)
	for i := 0; i < 3; i++ {
		_, err := confs.Save(newConfig(t, testCoords(), nil))
		ok(t, err)
	}

	recs, err := confs.LoadAll([]uint64{2, 0})
	ok(t, err)
	eq(t, len(recs), 2)
	i0, _ := recs[0].Index()
	i1, _ := recs[1].Index()
	eq(t, i0, 2)
	eq(t, i1, 0)

	_, err = confs.LoadAll([]uint64{0, 9})
	wantErr(t, err, ErrRecordNotFound)
}

func TestFindByName(t *testing.T) {
	f := setupInit(t, nil, Sizing{NAtoms: 3, NSpatial: 3})
	confs, err := f.Configurations()
	ok(t, err)

	a := newConfig(t, testCoords(), nil)
	_, err = confs.Save(a)
	ok(t, err)
	b := newConfig(t, testCoords(), nil)
	b.SetName("minimum")
	bIdx, err := confs.Save(b)
	ok(t, err)

	got, err := confs.FindByName("minimum")
	ok(t, err)
	gi, _ := got.Index()
	eq(t, gi, bIdx)

	_, err = confs.FindByName("nope")
	wantErr(t, err, ErrRecordNotFound)
}

// closeOnWriteFeature closes the backing storage mid-save so that the
// transaction commit fails after every write succeeded.
type closeOnWriteFeature struct{}

func (closeOnWriteFeature) Name() string { return "closer" }
func (closeOnWriteFeature) Variables(Sizing) []VarDef { return nil }
func (closeOnWriteFeature) Check(Record) error { return nil }
func (closeOnWriteFeature) Read(VarReader, uint64, Record) error { return nil }
func (closeOnWriteFeature) Derive(dst, src Record) error { return nil }

func (closeOnWriteFeature) Write(vw VarWriter, idx uint64, rec Record) error {
	_ = vw.File().Close()
	return nil
}

func TestFailedCommitLeavesStoreUnchanged(t *testing.T) {
	reg := NewRegistry()
	confs := RegisterStore(reg, ClassConfigurations,
		func() *Configuration { return new(Configuration) },
		[]Feature{CoordinatesFeature{}, closeOnWriteFeature{}})
	f, err := Open("", reg, Options{Logf: t.Logf, InMemory: true})
	ok(t, err)
	ok(t, f.Initialize(Sizing{NAtoms: 3, NSpatial: 3}, nil))

	cfg := newConfig(t, testCoords(), nil)
	_, err = confs.Save(cfg)
	if err == nil {
		t.Fatalf("expected the commit to fail")
	}

	// The failed save must not leak into in-memory state: no slot, no
	// index on the record, nothing served from the cache.
	eq(t, confs.Len(), 0)
	_, saved := cfg.Index()
	eq(t, saved, false)
}

func TestCacheEvictionFallsBackToTable(t *testing.T) {
	reg := NewRegistry()
	confs := RegisterStore(reg, ClassConfigurations,
		func() *Configuration { return new(Configuration) },
		[]Feature{CoordinatesFeature{}, BoxVectorsFeature{}},
		WithCacheSize(2))
	f := setupInit(t, reg, Sizing{NAtoms: 3, NSpatial: 3})
	_ = f

	first := newConfig(t, testCoords(), nil)
	_, err := confs.Save(first)
	ok(t, err)
	for i := 0; i < 2; i++ {
		_, err := confs.Save(newConfig(t, testCoords(), nil))
		ok(t, err)
	}

	// Index 0 was evicted; the load must hit the table and build a new
	// instance with equal content.
	got, err := confs.Load(0)
	ok(t, err)
	if got == first {
		t.Fatalf("expected a re-read instance after eviction")
	}
	matEq(t, got.Coordinates(), first.Coordinates())
}
