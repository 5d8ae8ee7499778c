package analysis

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidJobID is returned when an identifier does not match the
// canonical UUID shape. Callers reject such identifiers before any store
// lookup happens.
var ErrInvalidJobID = errors.New("invalid job id format")

// Canonical 8-4-4-4-12 hex groups. Deliberately stricter than uuid.Parse,
// which also accepts URN, braced, and compact forms.
var jobIDPattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`,
)

// JobID is an opaque job identifier. The zero value is invalid; values are
// only constructible through ParseJobID, so any JobID held by a store or
// handler is known to be well-formed.
type JobID struct {
	value string
}

// ParseJobID validates raw against the canonical UUID textual shape and
// returns a JobID, lowercasing the hex digits.
func ParseJobID(raw string) (JobID, error) {
	if !jobIDPattern.MatchString(raw) {
		return JobID{}, ErrInvalidJobID
	}
	return JobID{value: strings.ToLower(raw)}, nil
}

// String returns the canonical lowercase form.
func (id JobID) String() string {
	return id.value
}

// IsZero reports whether the JobID is the unusable zero value.
func (id JobID) IsZero() bool {
	return id.value == ""
}

// MarshalText implements encoding.TextMarshaler so JobID serializes as a
// plain string in JSON bodies.
func (id JobID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler with the same
// validation as ParseJobID.
func (id *JobID) UnmarshalText(text []byte) error {
	parsed, err := ParseJobID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
