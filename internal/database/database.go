package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vedran77/lattice/internal/config"
)

func Connect(cfg *config.Config) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	pool, err := pgxpool.New(context.Background(), dsn)

	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

// Init creates the schema if it does not exist yet.
func Init(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS profiles (
			user_id              TEXT PRIMARY KEY,
			username             TEXT NOT NULL UNIQUE,
			public_key           TEXT NOT NULL,
			recovery_public_key  TEXT NOT NULL,
			post_count           BIGINT NOT NULL,
			post_count_signature TEXT NOT NULL,
			share_permission     INT NOT NULL DEFAULT 0,
			deleted              BOOLEAN NOT NULL DEFAULT FALSE,
			details              JSONB,
			profile_picture      JSONB,
			friends              JSONB,
			blocked              JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_profiles_public_key ON profiles (public_key);
		CREATE INDEX IF NOT EXISTS idx_profiles_recovery_public_key ON profiles (recovery_public_key);

		CREATE TABLE IF NOT EXISTS posts (
			user_id   TEXT NOT NULL REFERENCES profiles (user_id) ON DELETE CASCADE,
			id        BIGINT NOT NULL,
			post_type TEXT NOT NULL DEFAULT '',
			signature TEXT NOT NULL DEFAULT '',
			content   JSONB,
			deleted   BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (user_id, id)
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}
