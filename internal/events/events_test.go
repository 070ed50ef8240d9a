package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEncode(t *testing.T) {
	e := New(UserRoleAdded, 7).WithRole(2)
	data, err := e.Encode()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "user.role_added", decoded["type"])
	assert.EqualValues(t, 7, decoded["userid"])
	assert.EqualValues(t, 2, decoded["roleid"])
	assert.NotEmpty(t, decoded["at"])
}

func TestEventEncodeOmitsZeroRole(t *testing.T) {
	data, err := New(UserDeleted, 3).Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "roleid")
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), New(UserCreated, 1)))
}
