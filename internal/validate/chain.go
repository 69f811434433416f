package validate

import (
	"errors"

	"github.com/vedran77/lattice/internal/domain"
)

var (
	ErrEmptyRange         = errors.New("post range is empty")
	ErrRangeGap           = errors.New("post range is not contiguous")
	ErrOutOfSequence      = errors.New("post id does not match its position")
	ErrUnvouchedTombstone = errors.New("tombstone without a corroborating deletion in range")
	ErrUnprovenDeletion   = errors.New("deletion whose in-range target was never shown")
	ErrBrokenContinuity   = errors.New("key chain does not reach the trusted predecessor key")
)

// PostRange validates a contiguous slice of a user's log, sorted ascending by
// id, received from an untrusted source. The walk runs backward from the
// newest post: lastPublicKey must be the key valid for the newest post, and
// recorded KEY_CHANGE posts rotate the expected key as the walk moves into
// older territory. If the range does not start at genesis (id 1), the key
// reached at the end of the walk must equal firstPublicKey, the key the
// caller already trusts for the state immediately before the range.
//
// Tombstones are accepted only when a later POST_DELETION in the same range
// vouches for them, and a POST_DELETION whose target lies inside the range
// must come with the target's tombstone. Either direction failing rejects
// the whole range.
func PostRange(posts []domain.Post, recoveryPublicKey, lastPublicKey, firstPublicKey string) error {
	if len(posts) == 0 {
		return ErrEmptyRange
	}
	begin := posts[0].ID
	end := posts[len(posts)-1].ID
	if begin <= 0 || end <= 0 || int64(len(posts)) != end-begin+1 {
		return ErrRangeGap
	}

	allowedDeleted := make(map[int64]int)
	currentPk := lastPublicKey

	for i := len(posts) - 1; i >= 0; i-- {
		post := &posts[i]
		expectedID := begin + int64(i)

		if post.IsTombstone() {
			if post.ID != expectedID {
				return ErrOutOfSequence
			}
			if allowedDeleted[post.ID] == 0 {
				return ErrUnvouchedTombstone
			}
			allowedDeleted[post.ID]--
			continue
		}

		if err := SinglePost(post, currentPk, recoveryPublicKey); err != nil {
			return err
		}
		if post.ID != expectedID {
			return ErrOutOfSequence
		}

		switch post.PostType {
		case domain.PostTypeKeyChange:
			currentPk = post.Content.OldPublicKey
		case domain.PostTypePostDeletion:
			allowedDeleted[post.Content.DeletedPostID]++
		}
	}

	// Deletions targeting posts inside this range must have been consumed by
	// their tombstones. Targets older than the range cannot be proven here
	// and are left to the caller's own copy of the log.
	for id, n := range allowedDeleted {
		if n > 0 && id >= begin {
			return ErrUnprovenDeletion
		}
	}

	if begin != 1 && currentPk != firstPublicKey {
		return ErrBrokenContinuity
	}
	return nil
}
