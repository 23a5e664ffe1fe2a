package claimcode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]struct{})
	for range 200 {
		code, err := Generate()
		require.NoError(t, err)
		assert.Len(t, code, Length)
		assert.True(t, Valid(code), "generated invalid code %q", code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 190, "codes should practically never repeat")
}

func TestGenerate_ShortRead(t *testing.T) {
	_, err := generate(bytes.NewReader(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read random")
}

func TestAlphabetExcludesConfusables(t *testing.T) {
	for _, c := range "IL O01" {
		assert.NotContains(t, Alphabet, string(c))
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ABCD2345", Normalize("  abcd-2345 "))
	assert.Equal(t, "ABCD2345", Normalize("ab cd 23 45"))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("ABCD2345"))
	assert.False(t, Valid("ABCD234"), "too short")
	assert.False(t, Valid("ABCD23456"), "too long")
	assert.False(t, Valid("ABCD2340"), "contains zero")
	assert.False(t, Valid("abcd2345"), "not normalised")
}
