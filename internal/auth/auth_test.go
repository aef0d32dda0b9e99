package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey_HasExpectedPrefixAndLength(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, "xch_"))
	require.Len(t, key, len("xch_")+20)
}

func TestGenerateAPIKey_IsUnpredictable(t *testing.T) {
	a, err := GenerateAPIKey()
	require.NoError(t, err)
	b, err := GenerateAPIKey()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestExtractKey_RequiresLiteralTokenPrefix(t *testing.T) {
	key, ok := ExtractKey("TOKEN abc123")
	require.True(t, ok)
	require.Equal(t, "abc123", key)

	_, ok = ExtractKey("token abc123")
	require.False(t, ok, "prefix match must be case-sensitive")

	_, ok = ExtractKey("TOKENabc123")
	require.False(t, ok, "the single space separator is part of the literal prefix")

	_, ok = ExtractKey("")
	require.False(t, ok)

	_, ok = ExtractKey("TOKEN ")
	require.False(t, ok, "an empty key after the prefix is not valid")
}
