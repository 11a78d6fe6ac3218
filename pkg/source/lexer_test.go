package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexOne(t *testing.T, input string) Token {
	t.Helper()
	tokens, err := Lex(input)
	require.NoError(t, err)
	require.Len(t, tokens, 2, "expected exactly one token plus EOF for %q", input)
	return tokens[0]
}

func TestLex_Integers(t *testing.T) {
	cases := map[string]int64{
		"0":      0,
		"42":     42,
		"0x2a":   42,
		"0o52":   42,
		"0b1010": 10,
	}
	for src, want := range cases {
		tok := lexOne(t, src)
		assert.Equal(t, TokenInt, tok.Kind, src)
		assert.Equal(t, want, tok.Int, src)
	}
}

func TestLex_Strings(t *testing.T) {
	tok := lexOne(t, `"hello\nworld A"`)
	assert.Equal(t, TokenString, tok.Kind)
	assert.Equal(t, "hello\nworld A", tok.Str)

	_, err := Lex(`"unterminated`)
	assert.Error(t, err)
}

func TestLex_HexBytes(t *testing.T) {
	tok := lexOne(t, `h"deadbeef"`)
	assert.Equal(t, TokenHexBytes, tok.Kind)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, tok.Bytes)

	tok = lexOne(t, `h"de ad"`)
	assert.Equal(t, []byte{0xde, 0xad}, tok.Bytes)

	_, err := Lex(`h"abc"`)
	assert.Error(t, err, "odd-length hex must not lex")
}

func TestLex_Comments(t *testing.T) {
	tokens, err := Lex(`
	// line comment
	a /* block
	comment */ b
	`)
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, "a", tokens[0].Text)
	assert.Equal(t, "b", tokens[1].Text)

	_, err = Lex(`/* unterminated`)
	assert.Error(t, err)
}

func TestLex_Punctuation(t *testing.T) {
	tokens, err := Lex(`a == b != c && d || e ?? f`)
	require.NoError(t, err)
	var puncts []string
	for _, tok := range tokens {
		if tok.Kind == TokenPunct {
			puncts = append(puncts, tok.Text)
		}
	}
	assert.Equal(t, []string{"==", "!=", "&&", "||", "??"}, puncts)
}

func TestLex_Locations(t *testing.T) {
	tokens, err := Lex("a\n  b")
	require.NoError(t, err)
	assert.Equal(t, 1, tokens[0].Loc.Line)
	assert.Equal(t, 1, tokens[0].Loc.Column)
	assert.Equal(t, 2, tokens[1].Loc.Line)
	assert.Equal(t, 3, tokens[1].Loc.Column)
}

func TestLex_UnexpectedCharacter(t *testing.T) {
	_, err := Lex("a # b")
	assert.Error(t, err)
}
