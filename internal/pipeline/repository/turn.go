package repository

import (
	"context"
	"errors"
	"fmt"

	"acquisition_backend/internal/pipeline/domain"
)

// CommitTurn appends msgs and applies the version-checked lead update in one
// transaction. Outbound messages already in the log are skipped. An inbound
// message whose provider id is already recorded aborts the turn with
// ErrDuplicateMessage. Nothing is written when the update fails.
func (r *Repository) CommitTurn(ctx context.Context, lead *domain.Lead, msgs []domain.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, m := range msgs {
		if _, err := insertMessage(ctx, tx, m); err != nil {
			if errors.Is(err, ErrDuplicateMessage) && m.Direction == domain.DirectionOutbound {
				continue
			}
			return fmt.Errorf("append %s message: %w", m.Kind, err)
		}
	}

	version, updatedAt := lead.Version, lead.UpdatedAt
	if err := updateLead(ctx, tx, lead); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		lead.Version, lead.UpdatedAt = version, updatedAt
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}
