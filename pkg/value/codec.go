package value

import (
	"encoding/binary"
	"fmt"
	"math"
)

const signBit = uint64(1) << 63

// EncodeKeyComponent appends the order-preserving key encoding of p to
// dst and returns the extended slice.
//
// The encoding sorts the same way the values do:
//   - int64: 8 bytes big-endian with the sign bit flipped.
//   - double: IEEE-754 bits; negative values are fully inverted, positive
//     values have the sign bit flipped.
//   - string/bytes: raw bytes with embedded 0x00 escaped as 0x00 0xff,
//     so a later 0x00 terminator sorts before any continuation.
//   - bool: a single 0x00/0x01 byte.
//
// Composite keys are plain concatenation of components.
func EncodeKeyComponent(dst []byte, p Primitive) ([]byte, error) {
	switch p.Kind {
	case KindInt64:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(p.I)^signBit)
		return append(dst, buf[:]...), nil
	case KindDouble:
		bits := math.Float64bits(p.F)
		if bits&signBit != 0 {
			bits = ^bits
		} else {
			bits ^= signBit
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], bits)
		return append(dst, buf[:]...), nil
	case KindString:
		return appendEscaped(dst, []byte(p.S)), nil
	case KindBytes:
		return appendEscaped(dst, p.B), nil
	case KindBool:
		if p.T {
			return append(dst, 0x01), nil
		}
		return append(dst, 0x00), nil
	default:
		return dst, fmt.Errorf("cannot key-encode value of kind %s", p.Kind)
	}
}

func appendEscaped(dst, raw []byte) []byte {
	for _, b := range raw {
		if b == 0x00 {
			dst = append(dst, 0x00, 0xff)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

// Value encoding tags. One tag byte followed by the payload.
const (
	tagInt64  = 0x01
	tagDouble = 0x02
	tagString = 0x03
	tagBytes  = 0x04
	tagBool   = 0x05
)

// EncodeValue returns the tagged value encoding of p, used for leaf KV
// entries. Null is represented by the absence of the entry, never by an
// encoded value.
func EncodeValue(p Primitive) ([]byte, error) {
	switch p.Kind {
	case KindInt64:
		buf := make([]byte, 9)
		buf[0] = tagInt64
		binary.BigEndian.PutUint64(buf[1:], uint64(p.I))
		return buf, nil
	case KindDouble:
		buf := make([]byte, 9)
		buf[0] = tagDouble
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(p.F))
		return buf, nil
	case KindString:
		return appendVarBytes([]byte{tagString}, []byte(p.S)), nil
	case KindBytes:
		return appendVarBytes([]byte{tagBytes}, p.B), nil
	case KindBool:
		if p.T {
			return []byte{tagBool, 0x01}, nil
		}
		return []byte{tagBool, 0x00}, nil
	default:
		return nil, fmt.Errorf("cannot encode value of kind %s", p.Kind)
	}
}

func appendVarBytes(dst, raw []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(raw)))
	return append(dst, raw...)
}

// DecodeValue parses a tagged value encoding produced by EncodeValue.
func DecodeValue(data []byte) (Primitive, error) {
	if len(data) == 0 {
		return Primitive{}, fmt.Errorf("empty value encoding")
	}
	tag, payload := data[0], data[1:]
	switch tag {
	case tagInt64:
		if len(payload) != 8 {
			return Primitive{}, fmt.Errorf("int64 payload must be 8 bytes, got %d", len(payload))
		}
		return Int64(int64(binary.BigEndian.Uint64(payload))), nil
	case tagDouble:
		if len(payload) != 8 {
			return Primitive{}, fmt.Errorf("double payload must be 8 bytes, got %d", len(payload))
		}
		return Double(math.Float64frombits(binary.BigEndian.Uint64(payload))), nil
	case tagString:
		raw, err := readVarBytes(payload)
		if err != nil {
			return Primitive{}, err
		}
		return String(string(raw)), nil
	case tagBytes:
		raw, err := readVarBytes(payload)
		if err != nil {
			return Primitive{}, err
		}
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return Bytes(cp), nil
	case tagBool:
		if len(payload) != 1 {
			return Primitive{}, fmt.Errorf("bool payload must be 1 byte, got %d", len(payload))
		}
		return Bool(payload[0] != 0), nil
	default:
		return Primitive{}, fmt.Errorf("unknown value tag 0x%02x", tag)
	}
}

func readVarBytes(payload []byte) ([]byte, error) {
	n, w := binary.Uvarint(payload)
	if w <= 0 {
		return nil, fmt.Errorf("malformed length prefix")
	}
	payload = payload[w:]
	if uint64(len(payload)) != n {
		return nil, fmt.Errorf("length prefix %d does not match payload size %d", n, len(payload))
	}
	return payload, nil
}
