package snapdb

// Paired-index loading. Feature payload is keyed by pair row and written
// once per pair; the only per-slot column besides the name is the
// reversal flag. Loading a slot whose sibling is already in memory
// therefore reads nothing but the flag and derives the record from the
// sibling via the features' reversal transforms.

func (s *Store[R]) loadPairedLocked(io *varIO, idx uint64) (R, error) {
	var zero R

	flag, err := io.Bool(varReversed, idx)
	if err != nil {
		return zero, err
	}

	if sibAny, ok := s.cache.get(idx ^ 1); ok {
		sib := sibAny.(R)
		if flag == any(sib).(PairedRecord[R]).IsReversed() {
			return zero, storeIdxErrf(s.class, idx, ErrInconsistentState,
				"reversal flag equals its sibling's")
		}
		rec, err := s.deriveTwinLocked(sib)
		if err != nil {
			return zero, err
		}
		// The name column is per-slot, not shared across the pair.
		if name, ok, err := io.StringOK(varName, idx); err != nil {
			return zero, err
		} else if ok {
			rec.setName(name)
		}
		return s.finishPairedLocked(rec, idx, flag), nil
	}

	raw := s.newRec()
	for _, f := range s.features {
		if err := f.Read(io, idx, raw); err != nil {
			return zero, err
		}
	}
	rec := raw
	// Payload is stored in the orientation of the canonical even slot;
	// odd slots get the derived view.
	if idx&1 == 1 {
		rec, err = s.deriveTwinLocked(raw)
		if err != nil {
			return zero, err
		}
	}
	if name, ok, err := io.StringOK(varName, idx); err != nil {
		return zero, err
	} else if ok {
		rec.setName(name)
	}
	return s.finishPairedLocked(rec, idx, flag), nil
}

func (s *Store[R]) finishPairedLocked(rec R, idx uint64, reversed bool) R {
	pr := any(rec).(PairedRecord[R])
	pr.setReversed(reversed)
	rec.setIndex(idx)
	pr.setTwin(newProxy(s, idx^1))
	s.cache.insert(idx, rec)
	return rec
}

// deriveTwinLocked builds the time-reversed counterpart of src by
// running every feature's reversal transform.
func (s *Store[R]) deriveTwinLocked(src R) (R, error) {
	dst := s.newRec()
	for _, f := range s.features {
		if err := f.Derive(dst, src); err != nil {
			return dst, err
		}
	}
	return dst, nil
}
