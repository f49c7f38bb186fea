package snowflake

import (
	"errors"
	"strconv"
	"time"
)

const (
	// Epoch is the platform epoch (January 1, 2015 00:00:00 UTC) in milliseconds.
	// The high 42 bits of every ID encode milliseconds since this instant.
	Epoch int64 = 1420070400000

	// TimestampShift is the number of low bits below the timestamp field
	// (10 worker bits + 12 sequence bits).
	TimestampShift uint8 = 22
)

var ErrInvalidID = errors.New("snowflake: not a valid numeric id")

// ID is a 64-bit globally unique, creation-time-ordered entity identifier.
// Two entities carrying the same ID are the same logical entity everywhere
// in the system.
type ID uint64

// ParseID parses the wire representation of an ID (a decimal string).
func ParseID(s string) (ID, error) {
	if s == "" {
		return 0, ErrInvalidID
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidID
	}
	return ID(n), nil
}

// String returns the decimal wire representation of the ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Time derives the creation instant encoded in the ID's high bits.
// The instant is never stored separately.
func (id ID) Time() time.Time {
	ms := int64(id>>TimestampShift) + Epoch
	return time.UnixMilli(ms).UTC()
}

// MarshalJSON encodes the ID in its decimal string form, matching the
// platform payload schema.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON accepts both a decimal string and a bare number.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
