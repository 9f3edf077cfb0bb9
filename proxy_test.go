package snapdb

import "testing"

func TestProxyResolvesThroughCache(t *testing.T) {
	f := setupInit(t, nil, Sizing{NAtoms: 3, NSpatial: 3})
	confs, err := f.Configurations()
	ok(t, err)
	cfg := newConfig(t, testCoords(), nil)
	idx, err := confs.Save(cfg)
	ok(t, err)

	p := newProxy(confs, idx)
	eq(t, p.Resolved(), false)
	eq(t, p.Index(), idx)

	before := f.ReadCount.Load()
	got, err := p.Get()
	ok(t, err)
	if got != cfg {
		t.Fatalf("proxy must resolve to the cached instance")
	}
	eq(t, p.Resolved(), true)
	eq(t, f.ReadCount.Load(), before) // served from the cache

	again, err := p.Get()
	ok(t, err)
	if again != cfg {
		t.Fatalf("resolution must be memoized")
	}
}

func TestProxyNotFoundIsTerminal(t *testing.T) {
	f := setupInit(t, nil, Sizing{NAtoms: 3, NSpatial: 3})
	confs, err := f.Configurations()
	ok(t, err)

	p := newProxy(confs, 99)
	_, err = p.Get()
	wantErr(t, err, ErrRecordNotFound)

	before := f.ReadCount.Load()
	_, err = p.Get()
	wantErr(t, err, ErrRecordNotFound)
	eq(t, f.ReadCount.Load(), before) // failure replayed, not retried
	eq(t, p.Resolved(), false)
}

func TestResolvedProxyNeedsNoFile(t *testing.T) {
	cfg := newConfig(t, testCoords(), nil)
	p := resolvedProxy(cfg)
	eq(t, p.Resolved(), true)
	got, err := p.Get()
	ok(t, err)
	if got != cfg {
		t.Fatalf("resolved proxy must hand back the wrapped record")
	}
}
