package snapdb

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Record class tags of the built-in stores.
const (
	ClassConfigurations = "configurations"
	ClassMomenta        = "momenta"
	ClassSnapshots      = "snapshots"
)

// Record is an immutable-once-saved logical record managed by exactly
// one object store.
type Record interface {
	// Class returns the record's class tag, matched against the store's
	// configured class on save.
	Class() string

	// Index returns the record's per-class identity, valid once saved.
	Index() (uint64, bool)

	// Name returns the record's optional human-readable name.
	Name() string

	setIndex(idx uint64)
	setName(name string)
}

// PairedRecord is implemented by snapshot-kind records stored under the
// paired-index reversal encoding.
type PairedRecord[R Record] interface {
	Record

	// IsReversed reports whether this record is the time-reversed half
	// of its pair.
	IsReversed() bool

	setReversed(v bool)
	setTwin(p *Proxy[R])
}

// RecordBase carries the store-assigned identity and optional name.
// Embed it into every record type.
type RecordBase struct {
	idx   uint64
	saved bool
	name  string
}

func (rb *RecordBase) Index() (uint64, bool) { return rb.idx, rb.saved }
func (rb *RecordBase) Name() string          { return rb.name }

// SetName assigns a human-readable name, persisted on the next save.
func (rb *RecordBase) SetName(name string) { rb.name = name }

func (rb *RecordBase) setIndex(idx uint64) { rb.idx, rb.saved = idx, true }
func (rb *RecordBase) setName(name string) { rb.name = name }

// Capability interfaces matched by features against a store's record
// class at schema build time.
type coordinateCarrier interface {
	Coordinates() *mat.Dense
	setCoordinates(m *mat.Dense)
}

type boxVectorCarrier interface {
	BoxVectors() *mat.Dense
	setBoxVectors(m *mat.Dense)
}

type velocityCarrier interface {
	Velocities() *mat.Dense
	setVelocities(m *mat.Dense)
}

type configurationRefCarrier interface {
	Configuration() *Proxy[*Configuration]
	setConfiguration(p *Proxy[*Configuration])
}

type momentumRefCarrier interface {
	Momentum() *Proxy[*Momentum]
	setMomentum(p *Proxy[*Momentum])
}

func validateFinite(m *mat.Dense, what string) error {
	data := m.RawMatrix().Data
	if floats.HasNaN(data) {
		return fmt.Errorf("%w: %s contain NaN; simulation is unstable or buggy", ErrInvalidValue, what)
	}
	for _, v := range data {
		if math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s contain Inf; simulation is unstable or buggy", ErrInvalidValue, what)
		}
	}
	return nil
}

// Configuration holds the atomic coordinates of one frame and the
// associated periodic box vectors (nil for non-periodic systems).
type Configuration struct {
	RecordBase
	coordinates *mat.Dense // n_atoms x n_spatial
	boxVectors  *mat.Dense // n_spatial x n_spatial
}

// NewConfiguration validates and wraps a coordinate matrix. Non-finite
// values are rejected here, before they can reach the table.
func NewConfiguration(coordinates, boxVectors *mat.Dense) (*Configuration, error) {
	if coordinates == nil {
		return nil, fmt.Errorf("%w: nil coordinates", ErrInvalidValue)
	}
	if err := validateFinite(coordinates, "coordinates"); err != nil {
		return nil, err
	}
	if boxVectors != nil {
		if r, c := boxVectors.Dims(); r != c {
			return nil, fmt.Errorf("%w: box vectors must be square, got %dx%d", ErrInvalidValue, r, c)
		}
		if err := validateFinite(boxVectors, "box vectors"); err != nil {
			return nil, err
		}
	}
	return &Configuration{coordinates: coordinates, boxVectors: boxVectors}, nil
}

func (c *Configuration) Class() string { return ClassConfigurations }

// Coordinates returns the stored coordinate matrix. Treat it as
// immutable; it may be shared with other holders of the same index.
func (c *Configuration) Coordinates() *mat.Dense { return c.coordinates }

// BoxVectors returns the periodic box vectors, or nil.
func (c *Configuration) BoxVectors() *mat.Dense { return c.boxVectors }

func (c *Configuration) setCoordinates(m *mat.Dense) { c.coordinates = m }
func (c *Configuration) setBoxVectors(m *mat.Dense) { c.boxVectors = m }

// NAtoms implements System.
func (c *Configuration) NAtoms() int {
	r, _ := c.coordinates.Dims()
	return r
}

// NSpatial implements System.
func (c *Configuration) NSpatial() int {
	_, n := c.coordinates.Dims()
	return n
}

// Momentum holds the atomic velocities of one frame.
type Momentum struct {
	RecordBase
	velocities *mat.Dense // n_atoms x n_spatial
}

func NewMomentum(velocities *mat.Dense) (*Momentum, error) {
	if velocities == nil {
		return nil, fmt.Errorf("%w: nil velocities", ErrInvalidValue)
	}
	if err := validateFinite(velocities, "velocities"); err != nil {
		return nil, err
	}
	return &Momentum{velocities: velocities}, nil
}

func (m *Momentum) Class() string { return ClassMomenta }

// Velocities returns the stored velocity matrix. Treat it as immutable.
func (m *Momentum) Velocities() *mat.Dense { return m.velocities }

func (m *Momentum) setVelocities(v *mat.Dense) { m.velocities = v }

// Snapshot is the composite paired record: a configuration/momentum
// pair plus the reversal flag. Its time-reversed twin lives at
// index^1 and shares both sub-records; the flag decides the sign of
// the velocities.
type Snapshot struct {
	RecordBase
	reversed bool
	config   *Proxy[*Configuration]
	momentum *Proxy[*Momentum]
	twin     *Proxy[*Snapshot]
}

// NewSnapshot builds an in-memory snapshot from fully-populated
// sub-records. Saving the snapshot saves any unsaved sub-record
// through its own store.
func NewSnapshot(config *Configuration, momentum *Momentum) (*Snapshot, error) {
	if config == nil || momentum == nil {
		return nil, fmt.Errorf("%w: snapshot requires both configuration and momentum", ErrInvalidValue)
	}
	return &Snapshot{
		config:   resolvedProxy(config),
		momentum: resolvedProxy(momentum),
	}, nil
}

func (s *Snapshot) Class() string { return ClassSnapshots }

func (s *Snapshot) IsReversed() bool { return s.reversed }

// Configuration returns the (possibly lazy) configuration sub-record.
func (s *Snapshot) Configuration() *Proxy[*Configuration] { return s.config }

// Momentum returns the (possibly lazy) momentum sub-record.
func (s *Snapshot) Momentum() *Proxy[*Momentum] { return s.momentum }

// ReversedTwin returns a lazy reference to the snapshot's time-reversed
// counterpart at index^1. Nil until the snapshot has been saved or
// loaded.
func (s *Snapshot) ReversedTwin() *Proxy[*Snapshot] { return s.twin }

// Coordinates resolves the configuration and returns its coordinates.
func (s *Snapshot) Coordinates() (*mat.Dense, error) {
	cfg, err := s.config.Get()
	if err != nil {
		return nil, err
	}
	return cfg.Coordinates(), nil
}

// Velocities resolves the momentum and returns its velocities, negated
// when the snapshot is the reversed half of its pair.
func (s *Snapshot) Velocities() (*mat.Dense, error) {
	mom, err := s.momentum.Get()
	if err != nil {
		return nil, err
	}
	v := mom.Velocities()
	if !s.reversed {
		return v, nil
	}
	r, c := v.Dims()
	neg := mat.NewDense(r, c, nil)
	neg.Scale(-1, v)
	return neg, nil
}

func (s *Snapshot) setReversed(v bool) { s.reversed = v }
func (s *Snapshot) setTwin(p *Proxy[*Snapshot]) { s.twin = p }
func (s *Snapshot) setConfiguration(p *Proxy[*Configuration]) { s.config = p }
func (s *Snapshot) setMomentum(p *Proxy[*Momentum]) { s.momentum = p }
