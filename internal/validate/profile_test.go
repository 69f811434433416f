package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedran77/lattice/internal/content"
	"github.com/vedran77/lattice/internal/crypto"
	"github.com/vedran77/lattice/internal/domain"
)

func testProfile(t *testing.T) (*domain.UserProfile, *crypto.KeyPair) {
	t.Helper()
	key := crypto.FromPassword("alice.w", "password1A")
	_, recovery, err := crypto.NewRecoveryKey()
	require.NoError(t, err)
	return content.NewProfile(key, "alice.w", recovery.PublicKey), key
}

func TestProfileValid(t *testing.T) {
	profile, _ := testProfile(t)
	require.NoError(t, Profile(profile))

	// Sections are optional on the wire.
	partial := profile.Clone()
	partial.Details = nil
	partial.Friends = nil
	require.NoError(t, Profile(partial))

	require.NoError(t, Profile(profile.BasicFields()))
}

func TestProfileMissingFields(t *testing.T) {
	profile, _ := testProfile(t)

	for _, mutate := range []func(p *domain.UserProfile){
		func(p *domain.UserProfile) { p.UserID = "" },
		func(p *domain.UserProfile) { p.Username = "" },
		func(p *domain.UserProfile) { p.PublicKey = "" },
		func(p *domain.UserProfile) { p.RecoveryPublicKey = "" },
		func(p *domain.UserProfile) { p.PostCount = 0 },
		func(p *domain.UserProfile) { p.PostCountSignature = "" },
		func(p *domain.UserProfile) { p.SharePermission = 3 },
	} {
		broken := profile.Clone()
		mutate(broken)
		assert.ErrorIs(t, Profile(broken), ErrMissingFields)
	}
	assert.ErrorIs(t, Profile(nil), ErrMissingFields)
}

func TestProfileUsernameRule(t *testing.T) {
	key := crypto.FromPassword("x", "password1A")
	_, recovery, err := crypto.NewRecoveryKey()
	require.NoError(t, err)

	for _, username := range []string{"ab", "has space", "double..dot", "trailing.", ".leading", "wayyyyyyy.tooooo.loooooooooong.name"} {
		p := content.NewProfile(key, username, recovery.PublicKey)
		assert.ErrorIs(t, Profile(p), ErrBadUsername, "username %q", username)
	}
	for _, username := range []string{"abcd", "alice.w", "under_score", "1234", "a.b.c.d"} {
		p := content.NewProfile(key, username, recovery.PublicKey)
		assert.NoError(t, Profile(p), "username %q", username)
	}
}

func TestProfileRejectsOwnerInLists(t *testing.T) {
	profile, key := testProfile(t)

	bad := profile.Clone()
	bad.Friends.Elements = append(bad.Friends.Elements, domain.UserRef{ID: bad.UserID, Username: bad.Username})
	content.SignProfile(key, bad)
	assert.ErrorIs(t, Profile(bad), ErrOwnerInList)

	bad = profile.Clone()
	bad.Blocked.Elements = append(bad.Blocked.Elements, domain.UserRef{ID: "other", Username: bad.Username})
	content.SignProfile(key, bad)
	assert.ErrorIs(t, Profile(bad), ErrOwnerInList)
}

func TestProfileRejectsTamperedSections(t *testing.T) {
	profile, _ := testProfile(t)

	bad := profile.Clone()
	bad.PostCount = 99
	assert.ErrorIs(t, Profile(bad), ErrBadSignature)

	bad = profile.Clone()
	bad.Friends.Elements = append(bad.Friends.Elements, domain.UserRef{ID: "u2", Username: "mallory"})
	assert.ErrorIs(t, Profile(bad), ErrBadSignature)

	bad = profile.Clone()
	bad.Details.VersionLock.Signature = ""
	assert.ErrorIs(t, Profile(bad), ErrBadSection)
}

func TestProfileDeletedMustBeStripped(t *testing.T) {
	profile, key := testProfile(t)

	deleted := profile.Clone()
	deleted.Deleted = true
	content.SignProfile(key, deleted)
	assert.ErrorIs(t, Profile(deleted), ErrDeletedSections)

	stripped := deleted.Tombstoned()
	content.SignProfile(key, stripped)
	require.NoError(t, Profile(stripped))
}
