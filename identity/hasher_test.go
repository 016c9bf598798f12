package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPepper  = "a3f1c2d4e5b6978812345678901234567890abcdef1234567890abcdef123456"
	otherPepper = "b3f1c2d4e5b6978812345678901234567890abcdef1234567890abcdef123456"
)

func TestNewHasherValidatesPepper(t *testing.T) {
	_, err := NewHasher("")
	assert.Error(t, err)

	_, err = NewHasher("abc123")
	assert.Error(t, err)

	_, err = NewHasher(strings.Repeat("zz", 32))
	assert.Error(t, err)

	_, err = NewHasher(testPepper)
	assert.NoError(t, err)
}

func TestAliasDeterminism(t *testing.T) {
	h1, err := NewHasher(testPepper)
	require.NoError(t, err)
	h2, err := NewHasher(testPepper)
	require.NoError(t, err)

	for _, id := range []int64{1, 123456789012345678, 999999999999999999} {
		assert.Equal(t, h1.Alias(id), h2.Alias(id))
		assert.Len(t, h1.Alias(id), AliasLen)
	}
}

func TestAliasDependsOnPepper(t *testing.T) {
	h1, err := NewHasher(testPepper)
	require.NoError(t, err)
	h2, err := NewHasher(otherPepper)
	require.NoError(t, err)

	assert.NotEqual(t, h1.Alias(123456789012345678), h2.Alias(123456789012345678))
}

func TestAliasDistinctUsers(t *testing.T) {
	h, err := NewHasher(testPepper)
	require.NoError(t, err)
	assert.NotEqual(t, h.Alias(1), h.Alias(2))
}

func TestFormatAuthor(t *testing.T) {
	h, err := NewHasher(testPepper)
	require.NoError(t, err)
	alias := h.Alias(42)

	assert.Equal(t, alias, FormatAuthor(alias, ""))
	tagged := FormatAuthor(alias, "MOD")
	assert.Equal(t, alias[:8]+":MOD", tagged)
}
