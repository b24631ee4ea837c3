package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"acquisition_backend/internal/pipeline/domain"
)

// AppendMessage inserts msg, keeping msg.ID when the caller pre-assigned one.
func (r *Repository) AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	return insertMessage(ctx, r.pool, msg)
}

// insertMessage skips rows that hit a unique index so it can run inside a
// transaction without aborting it. A skipped row is reported as ErrDuplicateMessage.
func insertMessage(ctx context.Context, q querier, msg domain.Message) (domain.Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	var (
		direction string
		kind      string
		extract   []byte
	)
	err := q.QueryRow(ctx, `
		INSERT INTO messages (id, lead_id, direction, kind, body, provider_message_id, in_reply_to, extraction, tokens_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING
		RETURNING id, lead_id, direction, kind, body, provider_message_id, in_reply_to, extraction, tokens_used, created_at
	`, msg.ID, msg.LeadID, string(msg.Direction), string(msg.Kind), msg.Body, msg.ProviderMessageID, msg.InReplyTo,
		nullableJSON(msg.Extraction), msg.TokensUsed,
	).Scan(
		&msg.ID, &msg.LeadID, &direction, &kind, &msg.Body, &msg.ProviderMessageID, &msg.InReplyTo,
		&extract, &msg.TokensUsed, &msg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return domain.Message{}, ErrDuplicateMessage
	}
	if err != nil {
		return domain.Message{}, err
	}
	msg.Direction = domain.Direction(direction)
	msg.Kind = domain.MessageKind(kind)
	msg.Extraction = extract
	return msg, nil
}

func (r *Repository) ListMessages(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, lead_id, direction, kind, body, provider_message_id, in_reply_to, extraction, tokens_used, created_at
		FROM (
			SELECT *, seq AS ord FROM messages
			WHERE lead_id = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) recent
		ORDER BY created_at, ord
	`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.pool.Query(ctx, query, leadID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]domain.Message, 0)
	for rows.Next() {
		var (
			m         domain.Message
			direction string
			kind      string
			extract   []byte
		)
		if err := rows.Scan(
			&m.ID, &m.LeadID, &direction, &kind, &m.Body, &m.ProviderMessageID, &m.InReplyTo,
			&extract, &m.TokensUsed, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		m.Direction = domain.Direction(direction)
		m.Kind = domain.MessageKind(kind)
		m.Extraction = extract
		msgs = append(msgs, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return msgs, nil
}

func (r *Repository) HasMessageKind(ctx context.Context, leadID uuid.UUID, kind domain.MessageKind) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM messages WHERE lead_id = $1 AND kind = $2 AND direction = 'outbound')
	`, leadID, string(kind)).Scan(&exists)
	return exists, err
}

func (r *Repository) HasProviderMessage(ctx context.Context, providerMessageID string) (bool, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM messages WHERE provider_message_id = $1`, providerMessageID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
