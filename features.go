package snapdb

import (
	"gonum.org/v1/gonum/mat"
)

// CoordinatesFeature persists an n_atoms x n_spatial coordinate matrix
// for any record class that carries coordinates.
type CoordinatesFeature struct{}

func (CoordinatesFeature) Name() string { return "coordinates" }

func (CoordinatesFeature) Variables(s Sizing) []VarDef {
	return []VarDef{{Name: "coordinates", Kind: VarMatrix, Rows: s.NAtoms, Cols: s.NSpatial, Compress: true}}
}

func (f CoordinatesFeature) Check(rec Record) error {
	if _, ok := rec.(coordinateCarrier); !ok {
		return featureCheckErr(f, rec)
	}
	return nil
}

func (CoordinatesFeature) Write(vw VarWriter, idx uint64, rec Record) error {
	return vw.PutMatrix("coordinates", idx, rec.(coordinateCarrier).Coordinates())
}

func (CoordinatesFeature) Read(vr VarReader, idx uint64, rec Record) error {
	m, err := vr.Matrix("coordinates", idx)
	if err != nil {
		return err
	}
	rec.(coordinateCarrier).setCoordinates(m)
	return nil
}

func (CoordinatesFeature) Derive(dst, src Record) error {
	dst.(coordinateCarrier).setCoordinates(src.(coordinateCarrier).Coordinates())
	return nil
}

// BoxVectorsFeature persists the optional n_spatial x n_spatial periodic
// box. Absent for non-periodic systems; absence is not a fault.
type BoxVectorsFeature struct{}

func (BoxVectorsFeature) Name() string { return "box_vectors" }

func (BoxVectorsFeature) Variables(s Sizing) []VarDef {
	return []VarDef{{Name: "box_vectors", Kind: VarMatrix, Rows: s.NSpatial, Cols: s.NSpatial}}
}

func (f BoxVectorsFeature) Check(rec Record) error {
	if _, ok := rec.(boxVectorCarrier); !ok {
		return featureCheckErr(f, rec)
	}
	return nil
}

func (BoxVectorsFeature) Write(vw VarWriter, idx uint64, rec Record) error {
	box := rec.(boxVectorCarrier).BoxVectors()
	if box == nil {
		return nil
	}
	return vw.PutMatrix("box_vectors", idx, box)
}

func (BoxVectorsFeature) Read(vr VarReader, idx uint64, rec Record) error {
	m, ok, err := vr.MatrixOK("box_vectors", idx)
	if err != nil {
		return err
	}
	if ok {
		rec.(boxVectorCarrier).setBoxVectors(m)
	}
	return nil
}

// Time reversal does not change the periodic box.
func (BoxVectorsFeature) Derive(dst, src Record) error {
	dst.(boxVectorCarrier).setBoxVectors(src.(boxVectorCarrier).BoxVectors())
	return nil
}

// VelocitiesFeature persists an n_atoms x n_spatial velocity matrix.
// Its reversal transform negates the velocities.
type VelocitiesFeature struct{}

func (VelocitiesFeature) Name() string { return "velocities" }

func (VelocitiesFeature) Variables(s Sizing) []VarDef {
	return []VarDef{{Name: "velocities", Kind: VarMatrix, Rows: s.NAtoms, Cols: s.NSpatial, Compress: true}}
}

func (f VelocitiesFeature) Check(rec Record) error {
	if _, ok := rec.(velocityCarrier); !ok {
		return featureCheckErr(f, rec)
	}
	return nil
}

func (VelocitiesFeature) Write(vw VarWriter, idx uint64, rec Record) error {
	return vw.PutMatrix("velocities", idx, rec.(velocityCarrier).Velocities())
}

func (VelocitiesFeature) Read(vr VarReader, idx uint64, rec Record) error {
	m, err := vr.Matrix("velocities", idx)
	if err != nil {
		return err
	}
	rec.(velocityCarrier).setVelocities(m)
	return nil
}

func (VelocitiesFeature) Derive(dst, src Record) error {
	v := src.(velocityCarrier).Velocities()
	r, c := v.Dims()
	neg := mat.NewDense(r, c, nil)
	neg.Scale(-1, v)
	dst.(velocityCarrier).setVelocities(neg)
	return nil
}

// ConfigurationRefFeature persists a lazy cross-record reference into
// the configurations store. Saving a snapshot whose configuration has
// not been stored yet stores it first.
type ConfigurationRefFeature struct{}

func (ConfigurationRefFeature) Name() string { return "configuration" }

func (ConfigurationRefFeature) Variables(s Sizing) []VarDef {
	return []VarDef{{Name: "configuration", Kind: VarUint64}}
}

func (f ConfigurationRefFeature) Check(rec Record) error {
	if _, ok := rec.(configurationRefCarrier); !ok {
		return featureCheckErr(f, rec)
	}
	return nil
}

func (ConfigurationRefFeature) Write(vw VarWriter, idx uint64, rec Record) error {
	childIdx, err := persistRef(vw, rec.(configurationRefCarrier).Configuration())
	if err != nil {
		return err
	}
	return vw.PutUint64("configuration", idx, childIdx)
}

func (ConfigurationRefFeature) Read(vr VarReader, idx uint64, rec Record) error {
	childIdx, err := vr.Uint64("configuration", idx)
	if err != nil {
		return err
	}
	cs, err := storeOf[*Configuration](vr.File())
	if err != nil {
		return err
	}
	rec.(configurationRefCarrier).setConfiguration(newProxy(cs, childIdx))
	return nil
}

// Both halves of a pair share the same configuration.
func (ConfigurationRefFeature) Derive(dst, src Record) error {
	dst.(configurationRefCarrier).setConfiguration(src.(configurationRefCarrier).Configuration())
	return nil
}

// MomentumRefFeature persists a lazy cross-record reference into the
// momenta store. Both halves of a pair share the same momentum record;
// the snapshot's reversal flag decides the sign of the velocities.
type MomentumRefFeature struct{}

func (MomentumRefFeature) Name() string { return "momentum" }

func (MomentumRefFeature) Variables(s Sizing) []VarDef {
	return []VarDef{{Name: "momentum", Kind: VarUint64}}
}

func (f MomentumRefFeature) Check(rec Record) error {
	if _, ok := rec.(momentumRefCarrier); !ok {
		return featureCheckErr(f, rec)
	}
	return nil
}

func (MomentumRefFeature) Write(vw VarWriter, idx uint64, rec Record) error {
	childIdx, err := persistRef(vw, rec.(momentumRefCarrier).Momentum())
	if err != nil {
		return err
	}
	return vw.PutUint64("momentum", idx, childIdx)
}

func (MomentumRefFeature) Read(vr VarReader, idx uint64, rec Record) error {
	childIdx, err := vr.Uint64("momentum", idx)
	if err != nil {
		return err
	}
	ms, err := storeOf[*Momentum](vr.File())
	if err != nil {
		return err
	}
	rec.(momentumRefCarrier).setMomentum(newProxy(ms, childIdx))
	return nil
}

func (MomentumRefFeature) Derive(dst, src Record) error {
	dst.(momentumRefCarrier).setMomentum(src.(momentumRefCarrier).Momentum())
	return nil
}

func featureCheckErr(f Feature, rec Record) error {
	return storeErrf(rec.Class(), ErrInconsistentState,
		"class %T does not satisfy feature %q", rec, f.Name())
}

// persistRef resolves a sub-record reference to a committed child index,
// storing the child first when it only exists in memory.
func persistRef[R Record](vw VarWriter, p *Proxy[R]) (uint64, error) {
	if p == nil {
		return 0, storeErrf("", ErrInvalidValue, "missing sub-record reference")
	}
	if p.store != nil {
		return p.idx, nil
	}
	st, err := storeOf[R](vw.File())
	if err != nil {
		return 0, err
	}
	idx, err := st.ensureSaved(vw.tx(), p.val)
	if err != nil {
		return 0, err
	}
	p.store, p.idx = st, idx
	return idx, nil
}
