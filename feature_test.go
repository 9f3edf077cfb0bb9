package snapdb

import "testing"

type nameClashFeature struct{}

func (nameClashFeature) Name() string { return "clash" }
func (nameClashFeature) Variables(Sizing) []VarDef {
	return []VarDef{{Name: "name", Kind: VarString}}
}
func (nameClashFeature) Check(Record) error { return nil }
func (nameClashFeature) Write(VarWriter, uint64, Record) error { return nil }
func (nameClashFeature) Read(VarReader, uint64, Record) error { return nil }
func (nameClashFeature) Derive(dst, src Record) error { return nil }

func TestDuplicateVariableFailsBeforeAnyWrite(t *testing.T) {
	reg := NewRegistry()
	confs := RegisterStore(reg, ClassConfigurations,
		func() *Configuration { return new(Configuration) },
		[]Feature{CoordinatesFeature{}, CoordinatesFeature{}})
	f := setup(t, reg)

	err := f.Initialize(Sizing{NAtoms: 3, NSpatial: 3}, nil)
	wantErr(t, err, ErrSchemaConflict)
	eq(t, f.WriteCount.Load(), 0)

	// The failed schema build leaves the store unusable.
	_, err = confs.Save(newConfig(t, testCoords(), nil))
	wantErr(t, err, ErrInconsistentState)
}

func TestReservedNameConflict(t *testing.T) {
	reg := NewRegistry()
	RegisterStore(reg, ClassConfigurations,
		func() *Configuration { return new(Configuration) },
		[]Feature{CoordinatesFeature{}, nameClashFeature{}})
	f := setup(t, reg)

	err := f.Initialize(Sizing{NAtoms: 3, NSpatial: 3}, nil)
	wantErr(t, err, ErrSchemaConflict)
}

func TestReinitialize(t *testing.T) {
	f := setupInit(t, nil, Sizing{NAtoms: 3, NSpatial: 3})
	confs, err := f.Configurations()
	ok(t, err)
	idx, err := confs.Save(newConfig(t, testCoords(), nil))
	ok(t, err)

	// Same sizing: a no-op.
	ok(t, f.Initialize(Sizing{NAtoms: 3, NSpatial: 3}, nil))

	// Different sizing: rejected, existing data untouched.
	err = f.Initialize(Sizing{NAtoms: 5, NSpatial: 3}, nil)
	wantErr(t, err, ErrSchemaConflict)
	got, err := confs.Load(idx)
	ok(t, err)
	matEq(t, got.Coordinates(), testCoords())
}

func TestFeatureCapabilityMismatch(t *testing.T) {
	reg := NewRegistry()
	RegisterStore(reg, ClassConfigurations,
		func() *Configuration { return new(Configuration) },
		[]Feature{VelocitiesFeature{}})
	f := setup(t, reg)

	err := f.Initialize(Sizing{NAtoms: 3, NSpatial: 3}, nil)
	wantErr(t, err, ErrInconsistentState)
}

func TestMatrixShapeEnforced(t *testing.T) {
	f := setupInit(t, nil, Sizing{NAtoms: 3, NSpatial: 3})
	confs, err := f.Configurations()
	ok(t, err)

	_, err = confs.Save(newConfig(t, dense(2, 3, 0, 0, 0, 1, 0, 0), nil))
	wantErr(t, err, ErrInconsistentState)
	eq(t, confs.Len(), 0)
}
