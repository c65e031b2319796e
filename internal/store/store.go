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
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS extraction_runs (
	id          uuid PRIMARY KEY,
	lesson_id   text NOT NULL,
	source      text NOT NULL DEFAULT '',
	link        text NOT NULL DEFAULT '',
	chunks      integer NOT NULL DEFAULT 0,
	type_counts jsonb NOT NULL DEFAULT '{}',
	warnings    text[] NOT NULL DEFAULT '{}',
	created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS extraction_runs_lesson_idx ON extraction_runs (lesson_id);

CREATE TABLE IF NOT EXISTS learning_records (
	id         uuid PRIMARY KEY,
	run_id     uuid NOT NULL REFERENCES extraction_runs (id) ON DELETE CASCADE,
	record_key text NOT NULL,
	seq        integer NOT NULL,
	fields     jsonb NOT NULL,
	confidence double precision NOT NULL DEFAULT 0,
	evidence   jsonb NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS learning_records_run_idx ON learning_records (run_id, seq);
`

// Migrate creates the run and record tables when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
