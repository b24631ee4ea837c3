package repository

import (
	"context"
	"time"

	"acquisition_backend/internal/pipeline/domain"
)

const defaultBatch = 100

func batch(limit int) int {
	if limit <= 0 {
		return defaultBatch
	}
	return limit
}

func (r *Repository) listWhere(ctx context.Context, where string, args ...any) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+leadColumns+` FROM leads WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	return collectLeads(rows)
}

func (r *Repository) ListNewLeads(ctx context.Context, limit int) ([]domain.Lead, error) {
	return r.listWhere(ctx, `stage = 'NEW_LEAD' ORDER BY created_at LIMIT $1`, batch(limit))
}

func (r *Repository) ListPendingValidation(ctx context.Context, limit int) ([]domain.Lead, error) {
	return r.listWhere(ctx, `stage = 'DEAL_VALIDATION' AND validated_at IS NULL ORDER BY stage_changed_at LIMIT $1`, batch(limit))
}

// ListDueRetries returns leads in the retry loop whose next action is due, including
// those whose final deadline has passed.
func (r *Repository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.Lead, error) {
	return r.listWhere(ctx, `
		stage IN ('VIDEO_SENT', 'RETRY_1', 'RETRY_2', 'RETRY_3')
			AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at LIMIT $2`, now, batch(limit))
}

func (r *Repository) ListAwaitingPaperwork(ctx context.Context, limit int) ([]domain.Lead, error) {
	return r.listWhere(ctx, `stage = 'OFFER_ACCEPTED' AND solicitor IS NOT NULL ORDER BY stage_changed_at LIMIT $1`, batch(limit))
}

func (r *Repository) ListAwaitingDeal(ctx context.Context, limit int) ([]domain.Lead, error) {
	return r.listWhere(ctx, `stage = 'PAPERWORK_SENT' AND deal_id IS NULL ORDER BY stage_changed_at LIMIT $1`, batch(limit))
}

// ListStale returns conversations whose last seller activity is older than inactiveSince.
func (r *Repository) ListStale(ctx context.Context, inactiveSince time.Time, limit int) ([]domain.Lead, error) {
	return r.listWhere(ctx, `
		stage IN ('NEW_LEAD', 'AI_CONVERSATION')
			AND COALESCE(last_inbound_at, stage_changed_at) < $1
		ORDER BY stage_changed_at LIMIT $2`, inactiveSince, batch(limit))
}
