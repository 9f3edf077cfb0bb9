package snapdb

import (
	"errors"
	"sync"
)

type proxyState int

const (
	proxyUnresolved proxyState = iota
	proxyResolving
	proxyResolved
	proxyFailed
)

// Proxy is a lightweight stand-in for a not-yet-materialized record,
// carrying only (store, index). It resolves transparently on first
// access, consulting the store's cache before touching the table.
// Proxies are cheap to copy around inside trajectories; resolution is
// memoized, and a missing record is remembered as a terminal failure.
type Proxy[R Record] struct {
	store *Store[R]
	idx   uint64

	mu    sync.Mutex
	state proxyState
	val   R
	err   error
}

func newProxy[R Record](store *Store[R], idx uint64) *Proxy[R] {
	return &Proxy[R]{store: store, idx: idx}
}

// resolvedProxy wraps an in-memory record that may not be stored yet.
func resolvedProxy[R Record](rec R) *Proxy[R] {
	p := &Proxy[R]{state: proxyResolved, val: rec}
	if idx, ok := rec.Index(); ok {
		p.idx = idx
	}
	return p
}

// Index returns the target index within the proxy's store.
func (p *Proxy[R]) Index() uint64 { return p.idx }

// Resolved reports whether the proxy already holds its record.
func (p *Proxy[R]) Resolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == proxyResolved
}

// Get materializes the target record. The first successful call is
// terminal: subsequent calls short-circuit to the resolved value. A
// missing record is equally terminal and replays ErrRecordNotFound
// without retrying; transient I/O failures leave the proxy unresolved.
func (p *Proxy[R]) Get() (R, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero R
	switch p.state {
	case proxyResolved:
		return p.val, nil
	case proxyFailed:
		return zero, p.err
	}

	p.state = proxyResolving
	rec, err := p.store.Load(p.idx)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			p.state = proxyFailed
			p.err = err
		} else {
			p.state = proxyUnresolved
		}
		return zero, err
	}
	p.state = proxyResolved
	p.val = rec
	return rec, nil
}
