package keygen

import (
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigningSecret(t *testing.T) {
	s, err := SigningSecret(32)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	other, err := SigningSecret(32)
	require.NoError(t, err)
	assert.NotEqual(t, s, other)

	_, err = SigningSecret(8)
	assert.Error(t, err)
}

func TestTokenIDIsUUID(t *testing.T) {
	_, err := uuid.Parse(TokenID())
	assert.NoError(t, err)
}
