package snapdb

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Sizing is the one-time schema metadata fixing variable shapes for a
// store's features.
type Sizing struct {
	NAtoms   int `msgpack:"a"`
	NSpatial int `msgpack:"s"`
}

// System is the minimal capability a collaborator-supplied template must
// satisfy to derive Sizing from it.
type System interface {
	NAtoms() int
	NSpatial() int
}

// SizingFromSystem derives sizing metadata from a template record.
func SizingFromSystem(sys System) Sizing {
	return Sizing{NAtoms: sys.NAtoms(), NSpatial: sys.NSpatial()}
}

// fingerprint hashes the sizing together with the store's composed
// variable schema. Two Initialize calls conflict iff their fingerprints
// differ.
func schemaFingerprint(s Sizing, defs []VarDef) uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "natoms=%d;nspatial=%d;", s.NAtoms, s.NSpatial)
	for _, d := range defs {
		fmt.Fprintf(h, "var=%s/%v/%dx%d/%v;", d.Name, d.Kind, d.Rows, d.Cols, d.Compress)
	}
	return h.Sum64()
}

const (
	metaBucket = "meta"

	metaKeySchema   = "schema"
	metaKeySizing   = "sizing"
	metaKeyCount    = "count"
	metaKeyTopology = "topology"
)

type storeMeta struct {
	fingerprint uint64
	sizing      Sizing
	count       uint64
}

func readStoreMeta(stx storageTx, store string) (storeMeta, bool, error) {
	b := stx.Bucket(store, metaBucket)
	if b == nil {
		return storeMeta{}, false, nil
	}
	raw := b.Get([]byte(metaKeySchema))
	if raw == nil {
		return storeMeta{}, false, nil
	}
	if len(raw) != 8 {
		return storeMeta{}, false, storeErrf(store, nil, "invalid schema fingerprint %x", raw)
	}
	var m storeMeta
	m.fingerprint = binary.BigEndian.Uint64(raw)

	if raw := b.Get([]byte(metaKeySizing)); raw != nil {
		if err := msgpack.Unmarshal(raw, &m.sizing); err != nil {
			return storeMeta{}, false, storeErrf(store, err, "decoding sizing")
		}
	}
	if raw := b.Get([]byte(metaKeyCount)); raw != nil {
		v, n := binary.Uvarint(raw)
		if n <= 0 {
			return storeMeta{}, false, storeErrf(store, nil, "invalid count %x", raw)
		}
		m.count = v
	}
	return m, true, nil
}

func writeStoreMeta(stx storageTx, store string, m storeMeta) error {
	b, err := stx.CreateBucket(store, metaBucket)
	if err != nil {
		return storeErrf(store, err, "creating meta bucket")
	}
	var fp [8]byte
	binary.BigEndian.PutUint64(fp[:], m.fingerprint)
	if err := b.Put([]byte(metaKeySchema), fp[:]); err != nil {
		return storeErrf(store, err, "writing schema fingerprint")
	}
	raw, err := msgpack.Marshal(m.sizing)
	if err != nil {
		return storeErrf(store, err, "encoding sizing")
	}
	if err := b.Put([]byte(metaKeySizing), raw); err != nil {
		return storeErrf(store, err, "writing sizing")
	}
	return writeStoreCount(stx, store, m.count)
}

func writeStoreCount(stx storageTx, store string, count uint64) error {
	b := stx.Bucket(store, metaBucket)
	if b == nil {
		return storeErrf(store, ErrBucketNotFound, "meta bucket")
	}
	buf := appendUvarint(nil, count)
	if err := b.Put([]byte(metaKeyCount), buf); err != nil {
		return storeErrf(store, err, "writing count")
	}
	return nil
}
