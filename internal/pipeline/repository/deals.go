package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"acquisition_backend/internal/pipeline/domain"
)

const dealColumns = `id, lead_id, purchase_price, market_value, refurb_cost, profit_potential,
	solicitor_name, solicitor_firm, solicitor_email, solicitor_phone, created_at`

func scanDeal(s rowScanner) (domain.Deal, error) {
	var d domain.Deal
	err := s.Scan(
		&d.ID, &d.LeadID, &d.PurchasePrice, &d.MarketValue, &d.RefurbCost, &d.ProfitPotential,
		&d.Solicitor.Name, &d.Solicitor.Firm, &d.Solicitor.Email, &d.Solicitor.Phone, &d.CreatedAt,
	)
	return d, err
}

func (r *Repository) CreateDeal(ctx context.Context, deal domain.Deal) (domain.Deal, error) {
	created, err := scanDeal(r.pool.QueryRow(ctx, `
		INSERT INTO deals (lead_id, purchase_price, market_value, refurb_cost, profit_potential,
			solicitor_name, solicitor_firm, solicitor_email, solicitor_phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (lead_id) DO NOTHING
		RETURNING `+dealColumns,
		deal.LeadID, deal.PurchasePrice, deal.MarketValue, deal.RefurbCost, deal.ProfitPotential,
		deal.Solicitor.Name, deal.Solicitor.Firm, deal.Solicitor.Email, deal.Solicitor.Phone,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.GetDealByLead(ctx, deal.LeadID)
	}
	return created, err
}

func (r *Repository) GetDealByLead(ctx context.Context, leadID uuid.UUID) (domain.Deal, error) {
	d, err := scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE lead_id = $1`, leadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Deal{}, ErrNotFound
	}
	return d, err
}
