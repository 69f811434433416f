// Package content constructs correctly signed posts and profile mutations.
// Nothing here touches shared state: every function returns fresh objects,
// and callers pair each increment-and-resign of a profile with exactly one
// new post whose id equals the new postCount.
package content

import (
	"time"

	"github.com/google/uuid"

	"github.com/vedran77/lattice/internal/crypto"
	"github.com/vedran77/lattice/internal/domain"
)

// NewPost builds and signs a post. The signature is computed over the post
// with the signature field blanked.
func NewPost(key *crypto.KeyPair, id int64, postType domain.PostType, content *domain.PostContent) *domain.Post {
	post := &domain.Post{
		ID:       id,
		PostType: postType,
		Content:  content,
	}
	post.Signature = key.Sign(post.SigningPayload())
	return post
}

func NewContentPost(key *crypto.KeyPair, id int64, text, location string, timestamp int64) *domain.Post {
	return NewPost(key, id, domain.PostTypeContent, &domain.PostContent{
		Text:      text,
		Timestamp: timestamp,
		Location:  location,
	})
}

// IncrementPostCount clones the profile, bumps postCount and re-signs it.
// The caller must emit a companion post with id == the returned postCount.
func IncrementPostCount(key *crypto.KeyPair, profile *domain.UserProfile) *domain.UserProfile {
	clone := profile.Clone()
	clone.PostCount++
	SignProfile(key, clone)
	return clone
}

// SignProfile recomputes the basic-fields signature and every present
// section's version lock signature.
func SignProfile(key *crypto.KeyPair, profile *domain.UserProfile) {
	profile.PostCountSignature = key.Sign(profile.BasicSigningPayload())
	if profile.Details != nil {
		profile.Details.VersionLock.Signature = key.Sign(profile.Details.SigningPayload())
	}
	if profile.ProfilePicture != nil {
		profile.ProfilePicture.VersionLock.Signature = key.Sign(profile.ProfilePicture.SigningPayload())
	}
	if profile.Friends != nil {
		profile.Friends.VersionLock.Signature = key.Sign(profile.Friends.SigningPayload())
	}
	if profile.Blocked != nil {
		profile.Blocked.VersionLock.Signature = key.Sign(profile.Blocked.SigningPayload())
	}
}

// NewProfile builds the signed snapshot a registration starts from:
// postCount 1, all four sections present and freshly locked.
func NewProfile(key *crypto.KeyPair, username, recoveryPublicKey string) *domain.UserProfile {
	now := time.Now().UnixMilli()
	profile := &domain.UserProfile{
		UserID:            uuid.NewString(),
		Username:          username,
		PublicKey:         key.PublicKey,
		RecoveryPublicKey: recoveryPublicKey,
		PostCount:         1,
		SharePermission:   domain.SharePublic,
		Details: &domain.ProfileDetails{
			RegistrationTimestamp: now,
			VersionLock:           domain.VersionLock{Version: now},
		},
		ProfilePicture: &domain.ProfilePicture{
			VersionLock: domain.VersionLock{Version: now},
		},
		Friends: &domain.UserList{
			Elements:    []domain.UserRef{},
			VersionLock: domain.VersionLock{Version: now},
		},
		Blocked: &domain.UserList{
			Elements:    []domain.UserRef{},
			VersionLock: domain.VersionLock{Version: now},
		},
	}
	SignProfile(key, profile)
	return profile
}
