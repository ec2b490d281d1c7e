package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CreateGINIndexes creates the full-text search GIN index used by lexical
// retrieval. Kept out of the numbered migrations because to_tsvector
// expressions are easier to evolve as plain idempotent statements.
func CreateGINIndexes(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_notes_text_gin
		ON notes USING gin(to_tsvector('english', title || ' ' || content))`)
	if err != nil {
		return fmt.Errorf("creating notes text GIN index: %w", err)
	}
	return nil
}
