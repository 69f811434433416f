package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vedran77/lattice/internal/domain"
)

const profileColumns = `user_id, username, public_key, recovery_public_key, post_count,
	post_count_signature, share_permission, deleted, details, profile_picture, friends, blocked`

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

func (r *ProfileRepo) Add(ctx context.Context, p *domain.UserProfile) error {
	query := `
		INSERT INTO profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		p.UserID, p.Username, p.PublicKey, p.RecoveryPublicKey, p.PostCount,
		p.PostCountSignature, p.SharePermission, p.Deleted,
		p.Details, p.ProfilePicture, p.Friends, p.Blocked,
	)
	return err
}

func (r *ProfileRepo) Update(ctx context.Context, p *domain.UserProfile) error {
	query := `
		UPDATE profiles
		SET username = $2, public_key = $3, recovery_public_key = $4, post_count = $5,
			post_count_signature = $6, share_permission = $7, deleted = $8,
			details = $9, profile_picture = $10, friends = $11, blocked = $12
		WHERE user_id = $1`

	_, err := r.pool.Exec(ctx, query,
		p.UserID, p.Username, p.PublicKey, p.RecoveryPublicKey, p.PostCount,
		p.PostCountSignature, p.SharePermission, p.Deleted,
		p.Details, p.ProfilePicture, p.Friends, p.Blocked,
	)
	return err
}

func (r *ProfileRepo) GetByID(ctx context.Context, userID string) (*domain.UserProfile, error) {
	return r.scanProfile(ctx, "SELECT "+profileColumns+" FROM profiles WHERE user_id = $1", userID)
}

func (r *ProfileRepo) GetByUsername(ctx context.Context, username string) (*domain.UserProfile, error) {
	return r.scanProfile(ctx, "SELECT "+profileColumns+" FROM profiles WHERE username = $1", username)
}

func (r *ProfileRepo) GetByPublicKey(ctx context.Context, publicKey string) (*domain.UserProfile, error) {
	return r.scanProfile(ctx, "SELECT "+profileColumns+" FROM profiles WHERE public_key = $1", publicKey)
}

func (r *ProfileRepo) GetByRecoveryPublicKey(ctx context.Context, recoveryPublicKey string) (*domain.UserProfile, error) {
	return r.scanProfile(ctx, "SELECT "+profileColumns+" FROM profiles WHERE recovery_public_key = $1", recoveryPublicKey)
}

// All lists every stored profile, for background sweeps.
func (r *ProfileRepo) All(ctx context.Context) ([]*domain.UserProfile, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+profileColumns+" FROM profiles ORDER BY user_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.UserProfile
	for rows.Next() {
		var p domain.UserProfile
		if err := rows.Scan(
			&p.UserID, &p.Username, &p.PublicKey, &p.RecoveryPublicKey, &p.PostCount,
			&p.PostCountSignature, &p.SharePermission, &p.Deleted,
			&p.Details, &p.ProfilePicture, &p.Friends, &p.Blocked,
		); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *ProfileRepo) scanProfile(ctx context.Context, query string, arg any) (*domain.UserProfile, error) {
	var p domain.UserProfile
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&p.UserID, &p.Username, &p.PublicKey, &p.RecoveryPublicKey, &p.PostCount,
		&p.PostCountSignature, &p.SharePermission, &p.Deleted,
		&p.Details, &p.ProfilePicture, &p.Friends, &p.Blocked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
