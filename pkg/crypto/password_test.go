package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("ILuvM4th!")
	require.NoError(t, err)
	assert.NotEqual(t, "ILuvM4th!", hash)

	assert.True(t, CheckPassword("ILuvM4th!", hash))
	assert.False(t, CheckPassword("ILuvMath!", hash))
}

func TestBcryptHasher(t *testing.T) {
	var h BcryptHasher
	hash, err := h.Hash("password")
	require.NoError(t, err)
	assert.True(t, h.Compare(hash, "password"))
	assert.False(t, h.Compare(hash, "Password"))
}
