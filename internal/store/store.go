package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS leads (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	company    TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	data       JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS leads_user_id_idx ON leads (user_id);

CREATE TABLE IF NOT EXISTS group_members (
	group_ref  TEXT NOT NULL,
	member_id  BIGINT NOT NULL,
	username   TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	bio        TEXT NOT NULL DEFAULT '',
	scraped_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (group_ref, member_id)
);
`

// EnsureSchema creates the tables envoy writes to if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
