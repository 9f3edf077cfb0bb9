package snapdb

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrSchemaConflict is returned when sizing metadata or a feature
	// schema is requested twice with incompatible values, including two
	// features declaring the same variable name.
	ErrSchemaConflict = errors.New("schema conflict")

	// ErrRecordNotFound is returned when the requested index has never
	// been committed to the store.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInconsistentState is returned when a record's class does not
	// match its target store, or a pairing invariant would be violated.
	ErrInconsistentState = errors.New("inconsistent state")

	// ErrUnknownClass is returned by registry lookups for a class with
	// no registered store.
	ErrUnknownClass = errors.New("unknown record class")

	// ErrBucketNotFound is returned by storage backends when a bucket
	// doesn't exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidValue is returned by record constructors when supplied
	// data fails validation (non-finite coordinates, wrong shapes).
	// Corrupting values never reach the table.
	ErrInvalidValue = errors.New("invalid value")
)

// StoreError decorates one of the sentinel conditions above with the
// store and index it occurred at.
type StoreError struct {
	Store    string
	Index    uint64
	HasIndex bool
	Msg      string
	Err      error
}

func storeErrf(store string, err error, format string, args ...any) error {
	return &StoreError{Store: store, Msg: fmt.Sprintf(format, args...), Err: err}
}

func storeIdxErrf(store string, idx uint64, err error, format string, args ...any) error {
	return &StoreError{Store: store, Index: idx, HasIndex: true, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Store)
	if e.HasIndex {
		buf.WriteByte('[')
		buf.WriteString(strconv.FormatUint(e.Index, 10))
		buf.WriteByte(']')
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// DataError reports a malformed stored value together with the offending
// bytes.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}
