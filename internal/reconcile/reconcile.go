// Package reconcile merges validated partial profile updates into stored
// state. It never fabricates newer versions: absent sections mean "you
// already have my latest", and everything passed in is assumed to have been
// validated already.
package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vedran77/lattice/internal/domain"
	"github.com/vedran77/lattice/internal/storage"
)

type Reconciler struct {
	profiles storage.ProfileRepository
	posts    storage.PostRepository
	log      *zap.Logger
}

func New(profiles storage.ProfileRepository, posts storage.PostRepository, log *zap.Logger) *Reconciler {
	return &Reconciler{profiles: profiles, posts: posts, log: log}
}

// MergeProfile reconciles a partial update against the stored profile and
// persists the result. A deleted update tombstones the account. Merging the
// same update twice yields the same stored state as merging it once.
func (r *Reconciler) MergeProfile(ctx context.Context, old, update *domain.UserProfile) (*domain.UserProfile, error) {
	if update.Deleted {
		if err := r.DeleteAccount(ctx, update); err != nil {
			return nil, err
		}
		return update.Tombstoned(), nil
	}

	merged := update.Clone()
	if merged.Details == nil {
		merged.Details = old.Details
	}
	if merged.ProfilePicture == nil {
		merged.ProfilePicture = old.ProfilePicture
	}
	if merged.Friends == nil {
		merged.Friends = old.Friends
	}
	if merged.Blocked == nil {
		merged.Blocked = old.Blocked
	}

	if err := r.profiles.Update(ctx, merged); err != nil {
		return nil, fmt.Errorf("merging profile %s: %w", merged.UserID, err)
	}
	return merged, nil
}

// ProcessNewPosts merges the updated profile, appends the posts, and applies
// any POST_DELETION entries to the stored log.
func (r *Reconciler) ProcessNewPosts(ctx context.Context, update *domain.UserProfile, posts []domain.Post) error {
	old, err := r.profiles.GetByID(ctx, update.UserID)
	if err != nil {
		return err
	}
	if old == nil {
		return fmt.Errorf("no stored profile for %s", update.UserID)
	}
	merged, err := r.MergeProfile(ctx, old, update)
	if err != nil {
		return err
	}
	if merged.Deleted {
		// the purge wins; nothing gets appended to a closed log
		return nil
	}

	if err := r.posts.Add(ctx, update.UserID, posts); err != nil {
		return fmt.Errorf("appending posts for %s: %w", update.UserID, err)
	}
	for i := range posts {
		if posts[i].PostType == domain.PostTypePostDeletion {
			r.applyPostDeletion(ctx, update.UserID, posts[i].Content.DeletedPostID)
		}
	}
	return nil
}

// DeleteAccount stores the tombstoned basic-fields profile and purges the
// user's post log.
func (r *Reconciler) DeleteAccount(ctx context.Context, profile *domain.UserProfile) error {
	if !profile.Deleted {
		return fmt.Errorf("profile %s is not flagged deleted", profile.UserID)
	}
	if err := r.profiles.Update(ctx, profile.Tombstoned()); err != nil {
		return fmt.Errorf("tombstoning profile %s: %w", profile.UserID, err)
	}
	if err := r.posts.DeleteAll(ctx, profile.UserID); err != nil {
		return fmt.Errorf("purging posts for %s: %w", profile.UserID, err)
	}
	return nil
}

// applyPostDeletion tombstones a stored content post in place. Storage
// failures are logged, not retried: the state is re-derivable on next sync.
func (r *Reconciler) applyPostDeletion(ctx context.Context, userID string, postID int64) {
	target, err := r.posts.Get(ctx, userID, postID)
	if err != nil {
		r.log.Error("loading deletion target failed", zap.String("user_id", userID), zap.Int64("post_id", postID), zap.Error(err))
		return
	}
	if target == nil || target.Deleted || target.PostType != domain.PostTypeContent {
		return
	}
	tomb := domain.Tombstone(postID)
	if err := r.posts.Update(ctx, userID, &tomb); err != nil {
		r.log.Error("tombstoning post failed", zap.String("user_id", userID), zap.Int64("post_id", postID), zap.Error(err))
	}
}
