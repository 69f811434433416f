package validate

import (
	"encoding/json"
	"errors"

	"github.com/vedran77/lattice/internal/crypto"
	"github.com/vedran77/lattice/internal/domain"
)

// Serialized size ceiling per post. Anything larger is rejected before
// signature verification.
const MaxPostSize = 1 << 20

var (
	ErrMissingPostFields = errors.New("post is missing required fields")
	ErrMissingContent    = errors.New("post content is missing required fields")
	ErrOversizedPost     = errors.New("post exceeds the size ceiling")
)

// SinglePost checks one post in isolation. Tombstones are never valid input
// here; they are only accepted inside a range walk that can corroborate them.
// KEY_CHANGE and ACCOUNT_DELETION posts verify against the recovery key, all
// other types against publicKey.
func SinglePost(post *domain.Post, publicKey, recoveryPublicKey string) error {
	if post == nil || post.ID <= 0 || post.Signature == "" || post.PostType == "" {
		return ErrMissingPostFields
	}

	key := publicKey
	switch post.PostType {
	case domain.PostTypeContent:
		if post.Content == nil || post.Content.Timestamp == 0 || post.Content.Text == "" {
			return ErrMissingContent
		}
	case domain.PostTypePostDeletion:
		if post.Content == nil || post.Content.DeletedPostID == 0 {
			return ErrMissingContent
		}
	case domain.PostTypeKeyChange:
		if post.Content == nil || post.Content.OldPublicKey == "" {
			return ErrMissingContent
		}
		key = recoveryPublicKey
	case domain.PostTypeAccountDeletion:
		key = recoveryPublicKey
	case domain.PostTypeProfileUpdate:
	default:
		return ErrMissingPostFields
	}

	if serialized, err := json.Marshal(post); err != nil || len(serialized) > MaxPostSize {
		return ErrOversizedPost
	}

	if !crypto.Verify(key, post.SigningPayload(), post.Signature) {
		return ErrBadSignature
	}
	return nil
}
