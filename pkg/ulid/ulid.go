// Package ulid wraps github.com/oklog/ulid/v2 with a small helper surface
// for minting and parsing ULIDs (spec.md §3: "a unique id (ULID/UUID)").
// A dedicated package keeps the entropy source and monotonic-sequencing
// setup in one place instead of scattered ulid.New calls with ad hoc
// entropy. The server and indexer do not import it: alert IDs are taken
// from the inbound message's id field.
package ulid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is a monotonic entropy source so IDs minted within the same
// millisecond still sort strictly increasing. oklog/ulid's monotonic
// reader is not safe for concurrent use, so it is guarded by a mutex.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New mints a fresh, time-sortable ULID.
func New() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// NewString mints a fresh ULID and returns its canonical string encoding.
func NewString() string {
	return New().String()
}

// MustParse parses s into a ULID, panicking on malformed input. Use only
// where s is known-valid (e.g. round-tripping a value this package minted).
func MustParse(s string) ulid.ULID {
	return ulid.MustParse(s)
}

// Parse parses s into a ULID, returning an error on malformed input.
func Parse(s string) (ulid.ULID, error) {
	return ulid.Parse(s)
}

// IsValid reports whether s is a well-formed ULID string.
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Time extracts the embedded timestamp component of id.
func Time(id ulid.ULID) time.Time {
	return ulid.Time(id.Time())
}

// Zero returns the zero-value ULID.
func Zero() ulid.ULID {
	return ulid.ULID{}
}

// IsZero reports whether id is the zero-value ULID.
func IsZero(id ulid.ULID) bool {
	return id == Zero()
}

// String returns id's canonical string encoding.
func String(id ulid.ULID) string {
	return id.String()
}
