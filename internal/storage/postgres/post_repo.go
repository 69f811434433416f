package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vedran77/lattice/internal/domain"
)

type PostRepo struct {
	pool *pgxpool.Pool
}

func NewPostRepo(pool *pgxpool.Pool) *PostRepo {
	return &PostRepo{pool: pool}
}

func (r *PostRepo) Add(ctx context.Context, userID string, posts []domain.Post) error {
	// ON CONFLICT DO NOTHING keeps replays from multiple sources idempotent.
	query := `
		INSERT INTO posts (user_id, id, post_type, signature, content, deleted)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, id) DO NOTHING`

	batch := &pgx.Batch{}
	for i := range posts {
		p := &posts[i]
		batch.Queue(query, userID, p.ID, string(p.PostType), p.Signature, p.Content, p.Deleted)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

func (r *PostRepo) Get(ctx context.Context, userID string, id int64) (*domain.Post, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, post_type, signature, content, deleted FROM posts WHERE user_id = $1 AND id = $2`,
		userID, id)

	var p domain.Post
	var postType string
	err := row.Scan(&p.ID, &postType, &p.Signature, &p.Content, &p.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.PostType = domain.PostType(postType)
	return &p, nil
}

func (r *PostRepo) Range(ctx context.Context, userID string, begin, end int64) ([]domain.Post, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, post_type, signature, content, deleted
		 FROM posts WHERE user_id = $1 AND id BETWEEN $2 AND $3
		 ORDER BY id ASC`,
		userID, begin, end)
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

func (r *PostRepo) All(ctx context.Context, userID string) ([]domain.Post, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, post_type, signature, content, deleted
		 FROM posts WHERE user_id = $1 ORDER BY id ASC`,
		userID)
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

func (r *PostRepo) Update(ctx context.Context, userID string, post *domain.Post) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE posts SET post_type = $3, signature = $4, content = $5, deleted = $6
		 WHERE user_id = $1 AND id = $2`,
		userID, post.ID, string(post.PostType), post.Signature, post.Content, post.Deleted)
	return err
}

func (r *PostRepo) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM posts WHERE user_id = $1`, userID)
	return err
}

func scanPosts(rows pgx.Rows) ([]domain.Post, error) {
	defer rows.Close()
	var posts []domain.Post
	for rows.Next() {
		var p domain.Post
		var postType string
		if err := rows.Scan(&p.ID, &postType, &p.Signature, &p.Content, &p.Deleted); err != nil {
			return nil, err
		}
		p.PostType = domain.PostType(postType)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
