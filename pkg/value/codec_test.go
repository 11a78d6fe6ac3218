package value

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeKey(t *testing.T, p Primitive) []byte {
	t.Helper()
	out, err := EncodeKeyComponent(nil, p)
	require.NoError(t, err)
	return out
}

func TestKeyEncoding_Int64Order(t *testing.T) {
	values := []int64{math.MinInt64, -1000000, -2, -1, 0, 1, 2, 42, 1000000, math.MaxInt64}
	for i := 0; i < len(values)-1; i++ {
		a := encodeKey(t, Int64(values[i]))
		b := encodeKey(t, Int64(values[i+1]))
		assert.Negative(t, bytes.Compare(a, b),
			"encode(%d) must sort before encode(%d)", values[i], values[i+1])
	}
}

func TestKeyEncoding_DoubleOrder(t *testing.T) {
	values := []float64{math.Inf(-1), -1e100, -1.5, -0.0001, 0, 0.0001, 1.5, 1e100, math.Inf(1)}
	for i := 0; i < len(values)-1; i++ {
		a := encodeKey(t, Double(values[i]))
		b := encodeKey(t, Double(values[i+1]))
		assert.Negative(t, bytes.Compare(a, b),
			"encode(%g) must sort before encode(%g)", values[i], values[i+1])
	}
}

func TestKeyEncoding_StringOrder(t *testing.T) {
	values := []string{"", "a", "aa", "ab", "b", "ba"}
	for i := 0; i < len(values)-1; i++ {
		a := encodeKey(t, String(values[i]))
		b := encodeKey(t, String(values[i+1]))
		assert.Negative(t, bytes.Compare(a, b),
			"encode(%q) must sort before encode(%q)", values[i], values[i+1])
	}
}

func TestKeyEncoding_EmbeddedZeroEscaped(t *testing.T) {
	encoded := encodeKey(t, Bytes([]byte{0x01, 0x00, 0x02}))
	assert.Equal(t, []byte{0x01, 0x00, 0xff, 0x02}, encoded)

	// A key must sort before its extension by an embedded zero, even
	// after a 0x00 terminator is appended by the set layout.
	short := append(encodeKey(t, Bytes([]byte{0x01})), 0x00)
	long := append(encodeKey(t, Bytes([]byte{0x01, 0x00})), 0x00)
	assert.Negative(t, bytes.Compare(short, long))
}

func TestKeyEncoding_Bool(t *testing.T) {
	assert.Equal(t, []byte{0x00}, encodeKey(t, Bool(false)))
	assert.Equal(t, []byte{0x01}, encodeKey(t, Bool(true)))
}

func TestKeyEncoding_InvalidKind(t *testing.T) {
	_, err := EncodeKeyComponent(nil, Primitive{})
	assert.Error(t, err)
}

func TestValueCodec_RoundTrip(t *testing.T) {
	cases := []Primitive{
		Int64(0),
		Int64(-1),
		Int64(math.MaxInt64),
		Int64(math.MinInt64),
		Double(3.14),
		Double(math.Inf(1)),
		Double(math.NaN()),
		String(""),
		String("hello"),
		String("with \x00 zero"),
		Bytes(nil),
		Bytes([]byte{0xde, 0xad, 0xbe, 0xef}),
		Bool(true),
		Bool(false),
	}
	for _, p := range cases {
		t.Run(p.Kind.String()+"/"+p.String(), func(t *testing.T) {
			raw, err := EncodeValue(p)
			require.NoError(t, err)
			back, err := DecodeValue(raw)
			require.NoError(t, err)
			assert.True(t, p.Equal(back), "round trip changed %s into %s", p, back)
		})
	}
}

func TestValueCodec_Malformed(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := DecodeValue(nil)
		assert.Error(t, err)
	})
	t.Run("unknown tag", func(t *testing.T) {
		_, err := DecodeValue([]byte{0x7f, 0x01})
		assert.Error(t, err)
	})
	t.Run("truncated int64", func(t *testing.T) {
		_, err := DecodeValue([]byte{0x01, 0x00, 0x01})
		assert.Error(t, err)
	})
	t.Run("length mismatch", func(t *testing.T) {
		_, err := DecodeValue([]byte{0x03, 0x05, 'a'})
		assert.Error(t, err)
	})
}
