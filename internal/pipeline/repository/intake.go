package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetIntakeCursor returns the zero time when the source has never been read.
func (r *Repository) GetIntakeCursor(ctx context.Context, source string) (time.Time, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx, `SELECT last_fetched_at FROM intake_cursors WHERE source = $1`, source).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	return at, err
}

// SaveIntakeCursor only ever moves the cursor forward.
func (r *Repository) SaveIntakeCursor(ctx context.Context, source string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO intake_cursors (source, last_fetched_at)
		VALUES ($1, $2)
		ON CONFLICT (source) DO UPDATE
		SET last_fetched_at = GREATEST(intake_cursors.last_fetched_at, EXCLUDED.last_fetched_at),
			updated_at = now()
	`, source, at)
	return err
}
