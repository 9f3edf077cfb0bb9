package snapdb

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"
)

func TestStoreNamedUnknownClass(t *testing.T) {
	f := setup(t, nil)
	_, err := f.StoreNamed("widgets")
	wantErr(t, err, ErrUnknownClass)

	h, err := f.StoreNamed(ClassSnapshots)
	ok(t, err)
	eq(t, h.Class(), ClassSnapshots)
}

func TestStoreOfUnregisteredType(t *testing.T) {
	f := setup(t, nil)
	_, err := StoreOf[*toyFrame](f)
	wantErr(t, err, ErrUnknownClass)
}

func TestRegisterAfterOpenPanics(t *testing.T) {
	reg := DefaultRegistry()
	setup(t, reg)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	RegisterStore(reg, "late", func() *toyFrame { return new(toyFrame) }, nil)
}

func TestDuplicateClassPanics(t *testing.T) {
	reg := DefaultRegistry()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	RegisterStore(reg, ClassSnapshots, func() *toyFrame { return new(toyFrame) }, nil)
}

func TestSubRecordsSavedWithSnapshot(t *testing.T) {
	f := setupInit(t, nil, Sizing{NAtoms: 3, NSpatial: 3})
	snaps, err := f.Snapshots()
	ok(t, err)
	confs, err := f.Configurations()
	ok(t, err)
	moms, err := f.Momenta()
	ok(t, err)

	cfg := newConfig(t, testCoords(), nil)
	mom := newMom(t, testVels())
	_, err = snaps.Save(newSnap(t, cfg, mom))
	ok(t, err)
	eq(t, confs.Len(), 1)
	eq(t, moms.Len(), 1)

	cfgIdx, saved := cfg.Index()
	eq(t, saved, true)
	eq(t, cfgIdx, 0)

	// A second snapshot reusing the same configuration does not store a
	// second copy.
	_, err = snaps.Save(newSnap(t, cfg, newMom(t, testVels())))
	ok(t, err)
	eq(t, confs.Len(), 1)
	eq(t, moms.Len(), 2)
}

func TestTopologyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topo.snapdb")
	blob := []byte(`{"residues":["ALA","GLY"]}`)

	f, err := Open(path, nil, Options{Logf: t.Logf, IsTesting: true})
	ok(t, err)
	ok(t, f.Initialize(Sizing{NAtoms: 3, NSpatial: 3}, blob))
	got, err := f.Topology()
	ok(t, err)
	if !bytes.Equal(got, blob) {
		t.Fatalf("got topology %q, wanted %q", got, blob)
	}
	ok(t, f.Close())

	f2, err := Open(path, nil, Options{Logf: t.Logf, IsTesting: true})
	ok(t, err)
	defer f2.Close()
	got2, err := f2.Topology()
	ok(t, err)
	if !bytes.Equal(got2, blob) {
		t.Fatalf("topology lost on reopen: %q", got2)
	}
}

func TestInMemoryFile(t *testing.T) {
	f, err := Open("", nil, Options{Logf: t.Logf, InMemory: true})
	ok(t, err)
	defer f.Close()
	ok(t, f.Initialize(Sizing{NAtoms: 3, NSpatial: 3}, nil))

	snaps, err := f.Snapshots()
	ok(t, err)
	_, err = snaps.Save(newSnap(t, newConfig(t, testCoords(), nil), newMom(t, testVels())))
	ok(t, err)

	twin, err := snaps.Load(1)
	ok(t, err)
	eq(t, twin.IsReversed(), true)
	tv, err := twin.Velocities()
	ok(t, err)
	matEq(t, tv, negated(testVels()))
}

func TestInvalidRecordsRejectedAtConstruction(t *testing.T) {
	nan := dense(1, 3, 0, 0, 0)
	nan.Set(0, 1, math.NaN())
	_, err := NewConfiguration(nan, nil)
	wantErr(t, err, ErrInvalidValue)

	_, err = NewConfiguration(nil, nil)
	wantErr(t, err, ErrInvalidValue)

	_, err = NewMomentum(nan)
	wantErr(t, err, ErrInvalidValue)

	_, err = NewConfiguration(dense(1, 3, 0, 0, 0), dense(2, 3, 0, 0, 0, 0, 0, 0))
	wantErr(t, err, ErrInvalidValue)

	_, err = NewSnapshot(nil, nil)
	wantErr(t, err, ErrInvalidValue)
}
