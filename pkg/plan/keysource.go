package plan

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// KeySource produces fresh storage keys. The planner guarantees
// uniqueness within a plan (and against the old plan) by redrawing on
// collision, so sources only need to be opaque and time-salted.
//
// With a fixed key source, planning is a pure function of its inputs.
type KeySource interface {
	NewKey() (Key, error)
}

// UUIDSource draws keys from UUIDv7: 48 bits of millisecond timestamp
// followed by random bits, so keys from one planning run sort close
// together while staying opaque.
type UUIDSource struct{}

func (UUIDSource) NewKey() (Key, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Key{}, fmt.Errorf("failed to generate storage key: %w", err)
	}
	return Key(id), nil
}

// SequentialSource hands out deterministic counter-based keys. Tests
// use it to make planning reproducible.
type SequentialSource struct {
	next uint64
}

func (s *SequentialSource) NewKey() (Key, error) {
	s.next++
	var k Key
	binary.BigEndian.PutUint64(k[8:], s.next)
	return k, nil
}
