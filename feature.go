package snapdb

// Feature is a stateless, reusable descriptor bundling a set of named
// variables with the code to initialize, read and write them. A store's
// record layout is the composition of its declared feature list; physics
// representations that differ only in which quantities they carry are
// different feature lists against the same store implementation, not
// separate type hierarchies.
type Feature interface {
	// Name identifies the feature in schema errors.
	Name() string

	// Variables returns the feature's variable columns, shaped by the
	// sizing metadata.
	Variables(s Sizing) []VarDef

	// Check verifies that the store's record class carries the
	// capability this feature persists. Called once at schema build.
	Check(rec Record) error

	// Write stores one record's worth of the feature's variables.
	Write(vw VarWriter, idx uint64, rec Record) error

	// Read populates one record's worth of the feature's variables.
	Read(vr VarReader, idx uint64, rec Record) error

	// Derive copies the feature's fields from one half of a pair onto
	// the other, applying the feature's time-reversal transform.
	// Identity for every quantity except velocities.
	Derive(dst, src Record) error
}

// composeSchema merges the variable definitions of every declared
// feature, in list order, after the store's own reserved columns.
// Duplicate names anywhere in the union fail the schema build before
// any record is written.
func composeSchema(store string, features []Feature, s Sizing, template Record, paired bool) ([]VarDef, error) {
	var defs []VarDef
	if paired {
		defs = append(defs, VarDef{Name: varReversed, Kind: VarBool})
	}
	defs = append(defs, VarDef{Name: varName, Kind: VarString})

	seen := make(map[string]string, len(defs)) // var name -> declaring feature
	for _, d := range defs {
		seen[d.Name] = "store"
	}

	for _, f := range features {
		if err := f.Check(template); err != nil {
			return nil, err
		}
		for _, d := range f.Variables(s) {
			if prev, dup := seen[d.Name]; dup {
				return nil, storeErrf(store, ErrSchemaConflict,
					"feature %q declares variable %q already declared by %s", f.Name(), d.Name, prev)
			}
			seen[d.Name] = "feature " + f.Name()
			defs = append(defs, d)
		}
	}
	return defs, nil
}

// reservedVar reports whether a variable is one of the store's own
// per-slot columns rather than feature payload.
func reservedVar(name string) bool {
	return name == varReversed || name == varName
}
