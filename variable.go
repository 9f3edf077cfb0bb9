package snapdb

import (
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

// VarKind enumerates the value types a variable column can hold.
type VarKind int

const (
	VarMatrix VarKind = iota + 1
	VarBool
	VarUint64
	VarString
)

func (k VarKind) String() string {
	switch k {
	case VarMatrix:
		return "matrix"
	case VarBool:
		return "bool"
	case VarUint64:
		return "uint64"
	case VarString:
		return "string"
	default:
		return "invalid"
	}
}

// VarDef describes one named, typed, fixed-shape variable column
// contributed by a feature to a store's schema.
type VarDef struct {
	Name string
	Kind VarKind

	// Rows and Cols fix the shape of VarMatrix variables.
	Rows, Cols int

	// Compress stores the column's payload zstd-compressed.
	Compress bool
}

// Variable names reserved for the store's own columns.
const (
	varReversed = "reversed"
	varName     = "name"
)

type variable struct {
	def     VarDef
	store   string
	bucket  string
	perPair bool // keyed by pair row instead of slot index
}

func newVariable(store string, def VarDef, perPair bool) *variable {
	return &variable{
		def:     def,
		store:   store,
		bucket:  "v_" + def.Name,
		perPair: perPair,
	}
}

func (v *variable) row(idx uint64) uint64 {
	if v.perPair {
		return idx >> 1
	}
	return idx
}

type matrixWire struct {
	Rows int       `msgpack:"r"`
	Cols int       `msgpack:"c"`
	Data []float64 `msgpack:"d"`
}

// VarWriter is handed to features to write one record's worth of
// variables at a given index.
type VarWriter interface {
	PutMatrix(name string, idx uint64, m *mat.Dense) error
	PutBool(name string, idx uint64, v bool) error
	PutUint64(name string, idx uint64, v uint64) error
	PutString(name string, idx uint64, v string) error

	// File returns the enclosing file, for features that persist
	// references into sibling stores.
	File() *File
	tx() *txState
}

// VarReader is handed to features to read one record's worth of
// variables at a given index.
type VarReader interface {
	Matrix(name string, idx uint64) (*mat.Dense, error)
	// MatrixOK distinguishes absent optional columns from faults.
	MatrixOK(name string, idx uint64) (*mat.Dense, bool, error)
	Bool(name string, idx uint64) (bool, error)
	Uint64(name string, idx uint64) (uint64, error)
	StringOK(name string, idx uint64) (string, bool, error)

	File() *File
}

// varIO performs all variable reads and writes of one store within a
// single storage transaction, bumping the file's op counters.
type varIO struct {
	f     *File
	stx   storageTx
	ts    *txState // non-nil on the write path only
	store string
	vars  map[string]*variable
}

var _ VarWriter = (*varIO)(nil)
var _ VarReader = (*varIO)(nil)

func (io *varIO) File() *File { return io.f }
func (io *varIO) tx() *txState { return io.ts }

func (io *varIO) variable(name string) (*variable, error) {
	v := io.vars[name]
	if v == nil {
		return nil, storeErrf(io.store, ErrInconsistentState, "no variable %q in schema", name)
	}
	return v, nil
}

func (io *varIO) bucketFor(v *variable) (storageBucket, error) {
	b := io.stx.Bucket(v.store, v.bucket)
	if b == nil {
		return nil, storeErrf(v.store, ErrBucketNotFound, "variable %q", v.def.Name)
	}
	return b, nil
}

func (io *varIO) put(name string, idx uint64, kind VarKind, encode func(v *variable) ([]byte, error)) error {
	v, err := io.variable(name)
	if err != nil {
		return err
	}
	if v.def.Kind != kind {
		return storeErrf(io.store, ErrInconsistentState, "variable %q is %v, not %v", name, v.def.Kind, kind)
	}
	b, err := io.bucketFor(v)
	if err != nil {
		return err
	}
	raw, err := encode(v)
	if err != nil {
		return err
	}
	if err := b.Put(rowKey(v.row(idx)), raw); err != nil {
		return storeIdxErrf(io.store, idx, err, "writing %q", name)
	}
	io.f.WriteCount.Add(1)
	return nil
}

func (io *varIO) get(name string, idx uint64, kind VarKind) (*variable, []byte, error) {
	v, err := io.variable(name)
	if err != nil {
		return nil, nil, err
	}
	if v.def.Kind != kind {
		return nil, nil, storeErrf(io.store, ErrInconsistentState, "variable %q is %v, not %v", name, v.def.Kind, kind)
	}
	b, err := io.bucketFor(v)
	if err != nil {
		return nil, nil, err
	}
	io.f.ReadCount.Add(1)
	return v, b.Get(rowKey(v.row(idx))), nil
}

func (io *varIO) PutMatrix(name string, idx uint64, m *mat.Dense) error {
	return io.put(name, idx, VarMatrix, func(v *variable) ([]byte, error) {
		r, c := m.Dims()
		if r != v.def.Rows || c != v.def.Cols {
			return nil, storeIdxErrf(io.store, idx, ErrInconsistentState,
				"variable %q wants shape %dx%d, got %dx%d", name, v.def.Rows, v.def.Cols, r, c)
		}
		body, err := msgpack.Marshal(matrixWire{Rows: r, Cols: c, Data: m.RawMatrix().Data})
		if err != nil {
			return nil, storeIdxErrf(io.store, idx, err, "encoding %q", name)
		}
		return encodePayload(nil, body, v.def.Compress), nil
	})
}

func (io *varIO) MatrixOK(name string, idx uint64) (*mat.Dense, bool, error) {
	v, raw, err := io.get(name, idx, VarMatrix)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	body, err := decodePayload(raw)
	if err != nil {
		return nil, false, storeIdxErrf(io.store, idx, err, "reading %q", name)
	}
	var w matrixWire
	if err := msgpack.Unmarshal(body, &w); err != nil {
		return nil, false, storeIdxErrf(io.store, idx, err, "decoding %q", name)
	}
	if w.Rows != v.def.Rows || w.Cols != v.def.Cols || len(w.Data) != w.Rows*w.Cols {
		return nil, false, storeIdxErrf(io.store, idx, ErrInconsistentState,
			"variable %q stored with shape %dx%d, schema wants %dx%d", name, w.Rows, w.Cols, v.def.Rows, v.def.Cols)
	}
	return mat.NewDense(w.Rows, w.Cols, w.Data), true, nil
}

func (io *varIO) Matrix(name string, idx uint64) (*mat.Dense, error) {
	m, ok, err := io.MatrixOK(name, idx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storeIdxErrf(io.store, idx, ErrRecordNotFound, "variable %q", name)
	}
	return m, nil
}

func (io *varIO) PutBool(name string, idx uint64, val bool) error {
	return io.put(name, idx, VarBool, func(v *variable) ([]byte, error) {
		if val {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	})
}

func (io *varIO) Bool(name string, idx uint64) (bool, error) {
	_, raw, err := io.get(name, idx, VarBool)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, storeIdxErrf(io.store, idx, ErrRecordNotFound, "variable %q", name)
	}
	if len(raw) != 1 || raw[0] > 1 {
		return false, storeIdxErrf(io.store, idx, nil, "variable %q: invalid bool %x", name, raw)
	}
	return raw[0] == 1, nil
}

func (io *varIO) PutUint64(name string, idx uint64, val uint64) error {
	return io.put(name, idx, VarUint64, func(v *variable) ([]byte, error) {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], val)
		return buf[:], nil
	})
}

func (io *varIO) Uint64(name string, idx uint64) (uint64, error) {
	_, raw, err := io.get(name, idx, VarUint64)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, storeIdxErrf(io.store, idx, ErrRecordNotFound, "variable %q", name)
	}
	if len(raw) != 8 {
		return 0, storeIdxErrf(io.store, idx, nil, "variable %q: invalid uint64 %x", name, raw)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (io *varIO) PutString(name string, idx uint64, val string) error {
	return io.put(name, idx, VarString, func(v *variable) ([]byte, error) {
		return []byte(val), nil
	})
}

func (io *varIO) StringOK(name string, idx uint64) (string, bool, error) {
	_, raw, err := io.get(name, idx, VarString)
	if err != nil {
		return "", false, err
	}
	if raw == nil {
		return "", false, nil
	}
	return string(raw), true, nil
}
