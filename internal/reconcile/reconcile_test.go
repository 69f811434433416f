package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vedran77/lattice/internal/content"
	"github.com/vedran77/lattice/internal/crypto"
	"github.com/vedran77/lattice/internal/domain"
	"github.com/vedran77/lattice/internal/storage/memory"
)

func setup(t *testing.T) (*Reconciler, *memory.ProfileStore, *memory.PostStore, *domain.UserProfile, *crypto.KeyPair) {
	t.Helper()
	profiles := memory.NewProfileStore()
	posts := memory.NewPostStore()
	r := New(profiles, posts, zaptest.NewLogger(t))

	key := crypto.FromPassword("alice", "password1A")
	_, recovery, err := crypto.NewRecoveryKey()
	require.NoError(t, err)
	profile := content.NewProfile(key, "alice", recovery.PublicKey)
	require.NoError(t, profiles.Add(context.Background(), profile))
	require.NoError(t, posts.Add(context.Background(), profile.UserID,
		[]domain.Post{*content.NewPost(key, 1, domain.PostTypeProfileUpdate, nil)}))
	return r, profiles, posts, profile, key
}

func TestMergeProfileFillsAbsentSections(t *testing.T) {
	r, profiles, _, profile, key := setup(t)
	ctx := context.Background()

	// A partial update carrying only a new friends list.
	update := content.IncrementPostCount(key, profile)
	update.Friends.Elements = []domain.UserRef{{ID: "u2", Username: "bob"}}
	update.Friends.VersionLock.Version++
	content.SignProfile(key, update)
	partial := update.BasicFields()
	partial.Friends = update.Friends

	merged, err := r.MergeProfile(ctx, profile, partial)
	require.NoError(t, err)

	assert.Equal(t, update.PostCount, merged.PostCount)
	assert.Len(t, merged.Friends.Elements, 1)
	// Absent sections come from the stored copy.
	require.NotNil(t, merged.Details)
	assert.Equal(t, profile.Details.VersionLock.Version, merged.Details.VersionLock.Version)

	stored, err := profiles.GetByID(ctx, profile.UserID)
	require.NoError(t, err)
	assert.Equal(t, merged.PostCount, stored.PostCount)
	assert.Len(t, stored.Friends.Elements, 1)
}

func TestMergeProfileIdempotent(t *testing.T) {
	r, profiles, _, profile, key := setup(t)
	ctx := context.Background()

	update := content.IncrementPostCount(key, profile)
	partial := update.BasicFields()
	partial.Details = update.Details

	_, err := r.MergeProfile(ctx, profile, partial)
	require.NoError(t, err)
	first, err := profiles.GetByID(ctx, profile.UserID)
	require.NoError(t, err)

	_, err = r.MergeProfile(ctx, profile, partial)
	require.NoError(t, err)
	second, err := profiles.GetByID(ctx, profile.UserID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMergeProfileDeletedTombstonesAndPurges(t *testing.T) {
	r, profiles, posts, profile, key := setup(t)
	ctx := context.Background()

	update := content.IncrementPostCount(key, profile.Clone())
	deleted := update.Tombstoned()
	content.SignProfile(key, deleted)

	merged, err := r.MergeProfile(ctx, profile, deleted)
	require.NoError(t, err)
	assert.True(t, merged.Deleted)
	assert.Nil(t, merged.Friends)

	stored, err := profiles.GetByID(ctx, profile.UserID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)
	assert.Nil(t, stored.Details)

	remaining, err := posts.All(ctx, profile.UserID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestProcessNewPostsAppliesDeletions(t *testing.T) {
	r, _, posts, profile, key := setup(t)
	ctx := context.Background()

	// Append content post 2, then a deletion of it via post 3.
	p2 := content.NewContentPost(key, 2, "to be deleted", "", 1700000000002)
	update2 := content.IncrementPostCount(key, profile)
	require.NoError(t, r.ProcessNewPosts(ctx, update2.BasicFields(), []domain.Post{*p2}))

	p3 := content.NewPost(key, 3, domain.PostTypePostDeletion, &domain.PostContent{DeletedPostID: 2})
	update3 := content.IncrementPostCount(key, update2)
	require.NoError(t, r.ProcessNewPosts(ctx, update3.BasicFields(), []domain.Post{*p3}))

	stored, err := posts.Get(ctx, profile.UserID, 2)
	require.NoError(t, err)
	assert.True(t, stored.IsTombstone())

	// Deleting a non-content post is a no-op.
	p4 := content.NewPost(key, 4, domain.PostTypePostDeletion, &domain.PostContent{DeletedPostID: 1})
	update4 := content.IncrementPostCount(key, update3)
	require.NoError(t, r.ProcessNewPosts(ctx, update4.BasicFields(), []domain.Post{*p4}))

	first, err := posts.Get(ctx, profile.UserID, 1)
	require.NoError(t, err)
	assert.False(t, first.IsTombstone())
}
