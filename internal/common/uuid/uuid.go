// Package uuid wraps github.com/google/uuid with UUIDv7 as the default version and
// derives the identifiers the key server hands out (request ids, upload batch tags).
package uuid

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UUID is an alias of github.com/google/uuid.UUID.
type UUID = uuid.UUID

// Nil is the zero UUID value.
var Nil = uuid.Nil

// New returns a new UUIDv7. Panics if the random source fails.
func New() UUID {
	id, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return id
}

// NewRandom returns a new UUIDv7 and any error from the random source.
func NewRandom() (UUID, error) {
	return uuid.NewV7()
}

// Parse parses a UUID string.
func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

// IsUUIDv7 reports whether id is a version 7 UUID.
func IsUUIDv7(id UUID) bool {
	return id.Version() == uuid.Version(7)
}

// Timestamp extracts the creation time embedded in the top 48 bits of a UUIDv7.
func Timestamp(id UUID) time.Time {
	ms := binary.BigEndian.Uint64(id[0:8]) >> 16
	return time.UnixMilli(int64(ms)).UTC()
}

// NewBatchTag returns an upload batch tag of the form "YYYY-MM-DD-<hex>" where the
// date is the UTC day of t and the suffix is a UUIDv7 without dashes. Tags sort by
// creation time within a day.
func NewBatchTag(t time.Time) string {
	return t.UTC().Format("2006-01-02") + "-" + strings.ReplaceAll(New().String(), "-", "")
}
