package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"acquisition_backend/internal/pipeline/domain"
)

const leadColumns = `
	id, external_id, source, first_name, last_name, phone, email,
	address, postcode, asking_price, property_type, bedrooms, bathrooms, condition, square_footage,
	stage, stage_changed_at, motivation_score, conversation_state,
	bmv_score, estimated_market_value, estimated_refurb_cost, profit_potential,
	validation_passed, validation_notes, validated_at,
	offer_amount, offer_percentage, offer_breakdown, offer_sent_at, offer_accepted_at, offer_rejected_at, rejection_reason,
	retry_count, next_retry_at, last_inbound_at, last_outbound_at,
	solicitor, deal_id, dead_reason, version, created_at, updated_at`

// scanLead reads a row selected with leadColumns.
func scanLead(s rowScanner) (domain.Lead, error) {
	var (
		l            domain.Lead
		stage        string
		propertyType string
		condition    string
		rawState     []byte
		rawBreakdown []byte
		rawSolicitor []byte
	)
	if err := s.Scan(
		&l.ID, &l.ExternalID, &l.Source, &l.FirstName, &l.LastName, &l.Phone, &l.Email,
		&l.Address, &l.Postcode, &l.AskingPrice, &propertyType, &l.Bedrooms, &l.Bathrooms, &condition, &l.SquareFootage,
		&stage, &l.StageChangedAt, &l.MotivationScore, &rawState,
		&l.BMVScore, &l.EstimatedMarketValue, &l.EstimatedRefurbCost, &l.ProfitPotential,
		&l.ValidationPassed, &l.ValidationNotes, &l.ValidatedAt,
		&l.OfferAmount, &l.OfferPercentage, &rawBreakdown, &l.OfferSentAt, &l.OfferAcceptedAt, &l.OfferRejectedAt, &l.RejectionReason,
		&l.RetryCount, &l.NextRetryAt, &l.LastInboundAt, &l.LastOutboundAt,
		&rawSolicitor, &l.DealID, &l.DeadReason, &l.Version, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return domain.Lead{}, err
	}

	l.Stage = domain.Stage(stage)
	l.PropertyType = domain.PropertyType(propertyType)
	l.Condition = domain.Condition(condition)
	if len(rawState) > 0 {
		if err := json.Unmarshal(rawState, &l.ConversationState); err != nil {
			return domain.Lead{}, fmt.Errorf("decode conversation state for lead %s: %w", l.ID, err)
		}
	}
	if len(rawBreakdown) > 0 {
		l.OfferBreakdown = json.RawMessage(rawBreakdown)
	}
	if len(rawSolicitor) > 0 {
		var sol domain.Solicitor
		if err := json.Unmarshal(rawSolicitor, &sol); err != nil {
			return domain.Lead{}, fmt.Errorf("decode solicitor for lead %s: %w", l.ID, err)
		}
		l.Solicitor = &sol
	}
	return l, nil
}

func collectLeads(rows pgx.Rows) ([]domain.Lead, error) {
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return leads, nil
}

func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	l, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	return l, err
}

// FindLeadByPhone prefers the most recent lead still in the pipeline, falling back
// to the most recent lead of any stage.
func (r *Repository) FindLeadByPhone(ctx context.Context, phone string) (domain.Lead, error) {
	l, err := scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE phone = $1
		ORDER BY CASE WHEN stage IN ('DEAD_LEAD', 'READY_FOR_INVESTORS') THEN 1 ELSE 0 END, created_at DESC
		LIMIT 1
	`, phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	return l, err
}

func (r *Repository) ListLeads(ctx context.Context, params ListParams) ([]domain.Lead, int, error) {
	where := []string{"1=1"}
	args := []any{}
	argIdx := 1
	if params.Stage != nil {
		where = append(where, fmt.Sprintf("stage = $%d", argIdx))
		args = append(args, string(*params.Stage))
		argIdx++
	}
	if params.Phone != "" {
		where = append(where, fmt.Sprintf("phone = $%d", argIdx))
		args = append(args, params.Phone)
		argIdx++
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM leads WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, params.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM leads
		WHERE %s
		ORDER BY updated_at DESC
		LIMIT $%d OFFSET $%d
	`, leadColumns, whereClause, argIdx, argIdx+1), args...)
	if err != nil {
		return nil, 0, err
	}
	leads, err := collectLeads(rows)
	if err != nil {
		return nil, 0, err
	}
	return leads, total, nil
}

func (r *Repository) CountByStage(ctx context.Context) (map[domain.Stage]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT stage, COUNT(*) FROM leads GROUP BY stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Stage]int)
	for rows.Next() {
		var (
			stage string
			n     int
		)
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[domain.Stage(stage)] = n
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return counts, nil
}

func (r *Repository) CreateLead(ctx context.Context, lead domain.Lead) (domain.Lead, bool, error) {
	state, err := json.Marshal(lead.ConversationState)
	if err != nil {
		return domain.Lead{}, false, fmt.Errorf("encode conversation state: %w", err)
	}
	stage := lead.Stage
	if stage == "" {
		stage = domain.StageNewLead
	}

	created, err := scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (
			external_id, source, first_name, last_name, phone, email,
			address, postcode, asking_price, property_type, bedrooms, condition,
			stage, conversation_state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING `+leadColumns,
		lead.ExternalID, lead.Source, lead.FirstName, lead.LastName, lead.Phone, lead.Email,
		lead.Address, lead.Postcode, lead.AskingPrice, string(lead.PropertyType), lead.Bedrooms, string(lead.Condition),
		string(stage), state,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || lead.ExternalID == nil {
		return domain.Lead{}, false, err
	}

	existing, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE external_id = $1`, *lead.ExternalID))
	if err != nil {
		return domain.Lead{}, false, err
	}
	return existing, false, nil
}

func (r *Repository) UpdateLead(ctx context.Context, lead *domain.Lead) error {
	return updateLead(ctx, r.pool, lead)
}

func updateLead(ctx context.Context, q querier, lead *domain.Lead) error {
	state, err := json.Marshal(lead.ConversationState)
	if err != nil {
		return fmt.Errorf("encode conversation state: %w", err)
	}
	var solicitor []byte
	if lead.Solicitor != nil {
		if solicitor, err = json.Marshal(lead.Solicitor); err != nil {
			return fmt.Errorf("encode solicitor: %w", err)
		}
	}

	var (
		version   int64
		updatedAt time.Time
	)
	err = q.QueryRow(ctx, `
		UPDATE leads SET
			first_name = $3, last_name = $4, email = $5,
			address = $6, postcode = $7, asking_price = $8, property_type = $9,
			bedrooms = $10, bathrooms = $11, condition = $12, square_footage = $13,
			stage = $14, stage_changed_at = $15, motivation_score = $16, conversation_state = $17,
			bmv_score = $18, estimated_market_value = $19, estimated_refurb_cost = $20, profit_potential = $21,
			validation_passed = $22, validation_notes = $23, validated_at = $24,
			offer_amount = $25, offer_percentage = $26, offer_breakdown = $27,
			offer_sent_at = $28, offer_accepted_at = $29, offer_rejected_at = $30, rejection_reason = $31,
			retry_count = $32, next_retry_at = $33, last_inbound_at = $34, last_outbound_at = $35,
			solicitor = $36, deal_id = $37, dead_reason = $38,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`,
		lead.ID, lead.Version,
		lead.FirstName, lead.LastName, lead.Email,
		lead.Address, lead.Postcode, lead.AskingPrice, string(lead.PropertyType),
		lead.Bedrooms, lead.Bathrooms, string(lead.Condition), lead.SquareFootage,
		string(lead.Stage), lead.StageChangedAt, lead.MotivationScore, state,
		lead.BMVScore, lead.EstimatedMarketValue, lead.EstimatedRefurbCost, lead.ProfitPotential,
		lead.ValidationPassed, lead.ValidationNotes, lead.ValidatedAt,
		lead.OfferAmount, lead.OfferPercentage, nullableJSON(lead.OfferBreakdown),
		lead.OfferSentAt, lead.OfferAcceptedAt, lead.OfferRejectedAt, lead.RejectionReason,
		lead.RetryCount, lead.NextRetryAt, lead.LastInboundAt, lead.LastOutboundAt,
		nullableJSON(solicitor), lead.DealID, lead.DeadReason,
	).Scan(&version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)`, lead.ID).Scan(&exists); err == nil && !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	if err != nil {
		return err
	}

	lead.Version = version
	lead.UpdatedAt = updatedAt
	return nil
}
