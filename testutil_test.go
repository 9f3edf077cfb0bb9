package snapdb

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func setup(t *testing.T, reg *Registry) *File {
	t.Helper()
	f, err := Open(filepath.Join(t.TempDir(), "test.snapdb"), reg, Options{Logf: t.Logf, IsTesting: true})
	ok(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func setupInit(t *testing.T, reg *Registry, sz Sizing) *File {
	t.Helper()
	f := setup(t, reg)
	ok(t, f.Initialize(sz, nil))
	return f
}

func ok(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func wantErr(t testing.TB, err, sentinel error) {
	t.Helper()
	if !errors.Is(err, sentinel) {
		t.Fatalf("got error %v, wanted %v", err, sentinel)
	}
}

func eq[T comparable](t testing.TB, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, wanted %v", got, want)
	}
}

func matEq(t testing.TB, got, want *mat.Dense) {
	t.Helper()
	const tol = 1e-6
	if got == nil || want == nil {
		if got != want {
			t.Fatalf("got %v, wanted %v", got, want)
		}
		return
	}
	gr, gc := got.Dims()
	wr, wc := want.Dims()
	if gr != wr || gc != wc {
		t.Fatalf("got %dx%d matrix, wanted %dx%d", gr, gc, wr, wc)
	}
	for i := 0; i < gr; i++ {
		for j := 0; j < gc; j++ {
			if math.Abs(got.At(i, j)-want.At(i, j)) > tol {
				t.Fatalf("matrices differ at (%d,%d): got %v, wanted %v", i, j, got.At(i, j), want.At(i, j))
			}
		}
	}
}

func dense(r, c int, data ...float64) *mat.Dense {
	return mat.NewDense(r, c, data)
}

// testCoords is the canonical 3-atom frame used across tests.
func testCoords() *mat.Dense {
	return dense(3, 3,
		0, 0, 0,
		1, 0, 0,
		2, 0, 0)
}

func testVels() *mat.Dense {
	return dense(3, 3,
		0.1, 0, 0,
		-0.2, 0.3, 0,
		0, 0, 0.5)
}

func newConfig(t testing.TB, coords, box *mat.Dense) *Configuration {
	t.Helper()
	c, err := NewConfiguration(coords, box)
	ok(t, err)
	return c
}

func newMom(t testing.TB, vels *mat.Dense) *Momentum {
	t.Helper()
	m, err := NewMomentum(vels)
	ok(t, err)
	return m
}

func newSnap(t testing.TB, cfg *Configuration, mom *Momentum) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(cfg, mom)
	ok(t, err)
	return s
}
