package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	s, c, err := Generate()
	require.NoError(t, err)
	assert.Equal(t, CommitmentOf(s), c)
	assert.True(t, Verify(s, c))
}

func TestGenerateUnique(t *testing.T) {
	s1, c1, err := Generate()
	require.NoError(t, err)
	s2, c2, err := Generate()
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, c1, c2)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	s1, c1, err := Generate()
	require.NoError(t, err)
	s2, _, err := Generate()
	require.NoError(t, err)

	assert.True(t, Verify(s1, c1))
	assert.False(t, Verify(s2, c1))
}

func TestHexRoundTrip(t *testing.T) {
	s, c, err := Generate()
	require.NoError(t, err)

	gotS, err := SecretFromHex(s.Hex())
	require.NoError(t, err)
	assert.Equal(t, s, gotS)

	gotC, err := CommitmentFromHex(c.String())
	require.NoError(t, err)
	assert.Equal(t, c, gotC)
}

func TestSecretFromHexBadLength(t *testing.T) {
	_, err := SecretFromHex("deadbeef")
	assert.Error(t, err)
}

func TestCommitmentFromHexBadInput(t *testing.T) {
	_, err := CommitmentFromHex("not-hex")
	assert.Error(t, err)
}
