package rdberr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(TypeError, "bad thing %d", 7)
	assert.Equal(t, "TypeError: bad thing 7", err.Error())

	located := NewAt(ParseError, Location{Line: 3, Column: 14}, "unexpected token")
	assert.Equal(t, "ParseError at 3:14: unexpected token", located.Error())
}

func TestKindOf(t *testing.T) {
	err := New(RecursionError, "cycle")
	assert.Equal(t, RecursionError, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, RecursionError, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, RecursionError))
}

func TestWrap(t *testing.T) {
	cause := errors.New("io failure")
	err := Wrap(BackendError, cause, "while reading %s", "key")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, BackendError, KindOf(err))

	assert.Nil(t, Wrap(BackendError, nil, "ignored"))
}

func TestThrow(t *testing.T) {
	err := Throw("payload")
	v, ok := ThrownValue(err)
	require.True(t, ok)
	assert.Equal(t, "payload", v)

	_, ok = ThrownValue(New(TypeError, "x"))
	assert.False(t, ok)
}
