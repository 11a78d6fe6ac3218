// Package value defines the primitive value model shared by the schema
// layer and the TreeWalker VM, together with the two byte encodings the
// engine relies on:
//
//   - Key encoding: order-preserving per type, so that range scans over a
//     set yield elements in primary-key order (see EncodeKeyComponent).
//   - Value encoding: a compact self-describing tagged encoding for leaf
//     KV entries (see EncodeValue / DecodeValue). All backends share it.
package value

import (
	"bytes"
	"fmt"
	"math"
)

// Kind discriminates a Primitive.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt64
	KindDouble
	KindString
	KindBytes
	KindBool
)

// String returns the schema-surface name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt64:
		return "int64"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// KeyEncodable reports whether values of this kind may appear as a
// primary key. Doubles are excluded: their ordering is not guaranteed to
// be stable across backends.
func (k Kind) KeyEncodable() bool {
	switch k {
	case KindInt64, KindString, KindBytes:
		return true
	default:
		return false
	}
}

// Primitive is a scalar runtime value. The zero Primitive is invalid.
type Primitive struct {
	Kind Kind

	I int64
	F float64
	S string
	B []byte
	T bool
}

func Int64(v int64) Primitive    { return Primitive{Kind: KindInt64, I: v} }
func Double(v float64) Primitive { return Primitive{Kind: KindDouble, F: v} }
func String(v string) Primitive  { return Primitive{Kind: KindString, S: v} }
func Bytes(v []byte) Primitive   { return Primitive{Kind: KindBytes, B: v} }
func Bool(v bool) Primitive      { return Primitive{Kind: KindBool, T: v} }

// Equal reports deep equality. Doubles compare by bit pattern so that
// NaN == NaN, matching the storage round-trip.
func (p Primitive) Equal(o Primitive) bool {
	if p.Kind != o.Kind {
		return false
	}
	switch p.Kind {
	case KindInt64:
		return p.I == o.I
	case KindDouble:
		return math.Float64bits(p.F) == math.Float64bits(o.F)
	case KindString:
		return p.S == o.S
	case KindBytes:
		return bytes.Equal(p.B, o.B)
	case KindBool:
		return p.T == o.T
	default:
		return true
	}
}

func (p Primitive) String() string {
	switch p.Kind {
	case KindInt64:
		return fmt.Sprintf("%d", p.I)
	case KindDouble:
		return fmt.Sprintf("%g", p.F)
	case KindString:
		return fmt.Sprintf("%q", p.S)
	case KindBytes:
		return fmt.Sprintf("h%q", fmt.Sprintf("%x", p.B))
	case KindBool:
		return fmt.Sprintf("%t", p.T)
	default:
		return "<invalid>"
	}
}
