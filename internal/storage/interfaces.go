// Package storage defines the persistence contracts for the profile index
// and the per-user post log, plus a priority-ordered profile lookup shared
// by clients and servers.
package storage

import (
	"context"

	"github.com/vedran77/lattice/internal/domain"
)

// ProfileRepository is the profile index keyed by userId with unique
// secondary lookups. Lookups return (nil, nil) when nothing matches.
type ProfileRepository interface {
	Add(ctx context.Context, profile *domain.UserProfile) error
	Update(ctx context.Context, profile *domain.UserProfile) error
	GetByID(ctx context.Context, userID string) (*domain.UserProfile, error)
	GetByUsername(ctx context.Context, username string) (*domain.UserProfile, error)
	GetByPublicKey(ctx context.Context, publicKey string) (*domain.UserProfile, error)
	GetByRecoveryPublicKey(ctx context.Context, recoveryPublicKey string) (*domain.UserProfile, error)
}

// PostRepository is the post log keyed by (userId, id) with range scans.
type PostRepository interface {
	Add(ctx context.Context, userID string, posts []domain.Post) error
	Get(ctx context.Context, userID string, id int64) (*domain.Post, error)
	Range(ctx context.Context, userID string, begin, end int64) ([]domain.Post, error)
	All(ctx context.Context, userID string) ([]domain.Post, error)
	Update(ctx context.Context, userID string, post *domain.Post) error
	DeleteAll(ctx context.Context, userID string) error
}

// FindProfile searches by the given identifiers in priority order, skipping
// empty ones. The first hit wins.
func FindProfile(ctx context.Context, profiles ProfileRepository, userID, username, publicKey, recoveryPublicKey string) (*domain.UserProfile, error) {
	if userID != "" {
		if p, err := profiles.GetByID(ctx, userID); err != nil || p != nil {
			return p, err
		}
	}
	if username != "" {
		if p, err := profiles.GetByUsername(ctx, username); err != nil || p != nil {
			return p, err
		}
	}
	if publicKey != "" {
		if p, err := profiles.GetByPublicKey(ctx, publicKey); err != nil || p != nil {
			return p, err
		}
	}
	if recoveryPublicKey != "" {
		if p, err := profiles.GetByRecoveryPublicKey(ctx, recoveryPublicKey); err != nil || p != nil {
			return p, err
		}
	}
	return nil, nil
}
