package service_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usermodel/internal/service"
)

func TestUserPatchDecodingDistinguishesAbsentNullAndValue(t *testing.T) {
	var patch service.UserPatch
	require.NoError(t, json.Unmarshal([]byte(`{"username":null,"useremails":[],"roles":[{"role":{"roleid":3}}]}`), &patch))

	assert.True(t, patch.Username.IsSpecified())
	assert.True(t, patch.Username.IsNull())

	assert.False(t, patch.Password.IsSpecified())

	emails, err := patch.Useremails.Get()
	require.NoError(t, err)
	assert.Empty(t, emails)

	roles, err := patch.Roles.Get()
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.EqualValues(t, 3, roles[0].Role.RoleID)
}

func TestUserPatchDecodingEmptyBody(t *testing.T) {
	var patch service.UserPatch
	require.NoError(t, json.Unmarshal([]byte(`{}`), &patch))

	assert.False(t, patch.Username.IsSpecified())
	assert.False(t, patch.Password.IsSpecified())
	assert.False(t, patch.Useremails.IsSpecified())
	assert.False(t, patch.Roles.IsSpecified())
}
