package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedran77/lattice/internal/crypto"
	"github.com/vedran77/lattice/internal/domain"
)

func TestNewProfileIsSigned(t *testing.T) {
	key := crypto.FromPassword("alice", "password1A")
	_, recovery, err := crypto.NewRecoveryKey()
	require.NoError(t, err)

	profile := NewProfile(key, "alice", recovery.PublicKey)

	assert.NotEmpty(t, profile.UserID)
	assert.EqualValues(t, 1, profile.PostCount)
	assert.True(t, crypto.Verify(key.PublicKey, profile.BasicSigningPayload(), profile.PostCountSignature))
	assert.True(t, crypto.Verify(key.PublicKey, profile.Friends.SigningPayload(), profile.Friends.VersionLock.Signature))
	assert.True(t, crypto.Verify(key.PublicKey, profile.Blocked.SigningPayload(), profile.Blocked.VersionLock.Signature))
	assert.True(t, crypto.Verify(key.PublicKey, profile.Details.SigningPayload(), profile.Details.VersionLock.Signature))
	assert.True(t, crypto.Verify(key.PublicKey, profile.ProfilePicture.SigningPayload(), profile.ProfilePicture.VersionLock.Signature))
}

func TestNewPostSignature(t *testing.T) {
	key := crypto.FromPassword("alice", "password1A")

	post := NewContentPost(key, 3, "hello world", "somewhere", 1700000000003)
	assert.True(t, crypto.Verify(key.PublicKey, post.SigningPayload(), post.Signature))

	post.Content.Text = "tampered"
	assert.False(t, crypto.Verify(key.PublicKey, post.SigningPayload(), post.Signature))
}

func TestIncrementPostCountReturnsNewObject(t *testing.T) {
	key := crypto.FromPassword("alice", "password1A")
	_, recovery, err := crypto.NewRecoveryKey()
	require.NoError(t, err)

	profile := NewProfile(key, "alice", recovery.PublicKey)
	bumped := IncrementPostCount(key, profile)

	assert.EqualValues(t, 1, profile.PostCount, "input must not be mutated")
	assert.EqualValues(t, 2, bumped.PostCount)
	assert.NotEqual(t, profile.PostCountSignature, bumped.PostCountSignature)
	assert.True(t, crypto.Verify(key.PublicKey, bumped.BasicSigningPayload(), bumped.PostCountSignature))
}

func TestTombstoneShape(t *testing.T) {
	tomb := domain.Tombstone(5)
	assert.True(t, tomb.IsTombstone())

	post := NewContentPost(crypto.FromPassword("a", "password1A"), 5, "x", "", 1)
	post.Deleted = true
	assert.False(t, post.IsTombstone(), "a deleted flag alone is not the stripped shape")
}
