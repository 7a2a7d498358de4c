package values

import (
	"fmt"
	"strconv"

	"github.com/kestrelwatch/sentinel/internal/domain/errors"
)

// Version is the 1-based, strictly increasing position of an event within
// its aggregate's stream. The stored sequence for any aggregate is exactly
// 1..N with no duplicates or gaps; the event store rejects any append whose
// version does not directly follow the current head.
type Version struct {
	value uint64
}

const (
	// MaxVersion caps at 2^63-1 so versions round-trip through BIGINT columns.
	MaxVersion = uint64(9223372036854775807)
	MinVersion = uint64(1)
)

// NewVersion creates a Version with validation.
func NewVersion(value uint64) (Version, error) {
	if value == 0 {
		return Version{}, errors.NewValidationError("ZERO_VERSION",
			"event version cannot be zero")
	}
	if value > MaxVersion {
		return Version{}, errors.NewValidationError("VERSION_TOO_LARGE",
			fmt.Sprintf("event version %d exceeds maximum %d", value, MaxVersion))
	}
	return Version{value: value}, nil
}

// MustNewVersion creates a Version and panics on error (for constants/tests).
func MustNewVersion(value uint64) Version {
	v, err := NewVersion(value)
	if err != nil {
		panic(err)
	}
	return v
}

// FirstVersion returns the version of the first event in a stream.
func FirstVersion() Version {
	return MustNewVersion(MinVersion)
}

// Next returns the version that directly follows this one.
func (v Version) Next() Version {
	return Version{value: v.value + 1}
}

// Follows reports whether v is exactly prev+1. A zero prev means "empty
// stream", so the first version follows it.
func (v Version) Follows(prev Version) bool {
	return v.value == prev.value+1
}

func (v Version) Value() uint64 {
	return v.value
}

func (v Version) String() string {
	return strconv.FormatUint(v.value, 10)
}

// IsZero reports the invalid "no version" state, used as the zero lower
// bound when reading a stream from the beginning.
func (v Version) IsZero() bool {
	return v.value == 0
}

func (v Version) Equal(other Version) bool {
	return v.value == other.value
}

func (v Version) LessThan(other Version) bool {
	return v.value < other.value
}

// MarshalJSON encodes the version as a bare number.
func (v Version) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatUint(v.value, 10)), nil
}

// UnmarshalJSON accepts a bare number; zero is allowed so snapshots of
// never-written aggregates round-trip.
func (v *Version) UnmarshalJSON(data []byte) error {
	value, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return errors.NewValidationError("INVALID_VERSION",
			"event version must be a non-negative integer").WithCause(err)
	}
	if value > MaxVersion {
		return errors.NewValidationError("VERSION_TOO_LARGE",
			fmt.Sprintf("event version %d exceeds maximum %d", value, MaxVersion))
	}
	v.value = value
	return nil
}

func (v Version) Compare(other Version) int {
	switch {
	case v.value < other.value:
		return -1
	case v.value > other.value:
		return 1
	default:
		return 0
	}
}
