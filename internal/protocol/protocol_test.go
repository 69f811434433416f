package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedran77/lattice/internal/domain"
)

func TestParseRequest(t *testing.T) {
	req, resp, err := Parse([]byte(`{"id":"abc","type":"ping"}`))
	require.NoError(t, err)
	assert.Nil(t, resp)
	require.NotNil(t, req)
	assert.Equal(t, "abc", req.ID)
	assert.Equal(t, TypePing, req.Type)
}

func TestParseResponse(t *testing.T) {
	req, resp, err := Parse([]byte(`{"requestId":"abc","status":"OK","payload":{"n":1}}`))
	require.NoError(t, err)
	assert.Nil(t, req)
	require.NotNil(t, resp)
	assert.Equal(t, "abc", resp.RequestID)
	assert.Equal(t, StatusOK, resp.Status)
	assert.JSONEq(t, `{"n":1}`, string(resp.Payload))
}

func TestParseRejectsUnknownFrames(t *testing.T) {
	_, _, err := Parse([]byte(`{"hello":"world"}`))
	assert.ErrorIs(t, err, ErrBadFrame)

	_, _, err = Parse([]byte(`not json`))
	assert.Error(t, err)

	// A request id alone is not enough; the type is what routes it.
	_, _, err = Parse([]byte(`{"id":"abc"}`))
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestNewRequestRoundTrip(t *testing.T) {
	req, err := NewRequest(TypeUserSearch, UserSearchPayload{Username: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)

	data, err := json.Marshal(req)
	require.NoError(t, err)

	parsed, _, err := Parse(data)
	require.NoError(t, err)
	require.NotNil(t, parsed)

	var payload UserSearchPayload
	require.NoError(t, json.Unmarshal(parsed.Payload, &payload))
	assert.Equal(t, "alice", payload.Username)
}

func TestNewRequestIDsAreUnique(t *testing.T) {
	a, err := NewRequest(TypePing, nil)
	require.NoError(t, err)
	b, err := NewRequest(TypePing, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNewResponseWithoutPayload(t *testing.T) {
	resp, err := NewResponse("abc", StatusNotFound, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, resp.Status)
	assert.Nil(t, resp.Payload)
}

func TestUserInfoRequestFor(t *testing.T) {
	p := &domain.UserProfile{
		UserID:    "u1",
		PostCount: 7,
		Details:   &domain.ProfileDetails{VersionLock: domain.VersionLock{Version: 3}},
		Friends:   &domain.UserList{VersionLock: domain.VersionLock{Version: 5}},
	}

	info := UserInfoRequestFor(p)
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, int64(7), info.PostCount)
	assert.Equal(t, int64(3), info.DetailsVersion)
	assert.Equal(t, int64(5), info.FriendListVersion)
	assert.Zero(t, info.ProfilePictureVersion)
	assert.Zero(t, info.BlockedListVersion)
}
