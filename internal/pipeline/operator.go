package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"acquisition_backend/internal/events"
	"acquisition_backend/internal/pipeline/domain"
	"acquisition_backend/internal/pipeline/repository"
	"acquisition_backend/platform/apperr"
	"acquisition_backend/platform/sanitize"
	"acquisition_backend/platform/validator"
)

// NewLead is a lead entered by an operator.
type NewLead struct {
	ExternalID   string
	Source       string
	FirstName    string
	LastName     string
	Phone        string
	Email        string
	Address      string
	Postcode     string
	AskingPrice  *float64
	PropertyType domain.PropertyType
	Bedrooms     *int
	Condition    domain.Condition
}

// LeadDetail is a lead with its message log and deal, if any.
type LeadDetail struct {
	Lead     domain.Lead
	Messages []domain.Message
	Deal     *domain.Deal
}

// CreateLead stores a manually entered lead. A duplicate external id is a conflict.
func (o *Orchestrator) CreateLead(ctx context.Context, in NewLead) (domain.Lead, error) {
	e164, ok := o.phone.Parse(in.Phone)
	if !ok {
		return domain.Lead{}, apperr.Validation("invalid phone number").WithDetails(map[string]string{"phone": "e164"})
	}
	l := domain.Lead{
		Source:       in.Source,
		FirstName:    sanitize.Text(in.FirstName),
		LastName:     sanitize.Text(in.LastName),
		Phone:        e164,
		Address:      sanitize.Text(in.Address),
		Postcode:     strings.ToUpper(strings.TrimSpace(in.Postcode)),
		AskingPrice:  in.AskingPrice,
		PropertyType: in.PropertyType,
		Bedrooms:     in.Bedrooms,
		Condition:    in.Condition,
		Stage:        domain.StageNewLead,
	}
	if l.Source == "" {
		l.Source = "manual"
	}
	if in.ExternalID != "" {
		id := in.ExternalID
		l.ExternalID = &id
	}
	if email := strings.TrimSpace(in.Email); email != "" {
		l.Email = &email
	}
	l.SeedExtraction()

	created, isNew, err := o.store.CreateLead(ctx, l)
	if err != nil {
		return domain.Lead{}, err
	}
	if !isNew {
		return created, apperr.Conflict("lead with this external id already exists").WithDetails(map[string]string{"leadId": created.ID.String()})
	}
	o.bus.Publish(ctx, events.LeadCreated{BaseEvent: events.NewBaseEvent(), LeadID: created.ID, Source: created.Source})
	return created, nil
}

func (o *Orchestrator) GetLead(ctx context.Context, id uuid.UUID) (LeadDetail, error) {
	l, err := o.store.GetLead(ctx, id)
	if err != nil {
		return LeadDetail{}, mapError(err)
	}
	msgs, err := o.store.ListMessages(ctx, id, 0)
	if err != nil {
		return LeadDetail{}, err
	}
	detail := LeadDetail{Lead: l, Messages: msgs}
	if l.DealID != nil {
		deal, err := o.store.GetDealByLead(ctx, id)
		switch {
		case err == nil:
			detail.Deal = &deal
		case !errors.Is(err, repository.ErrNotFound):
			return LeadDetail{}, err
		}
	}
	return detail, nil
}

func (o *Orchestrator) ListLeads(ctx context.Context, params repository.ListParams) ([]domain.Lead, int, error) {
	if params.Phone != "" {
		params.Phone = o.phone.NormalizeE164(params.Phone)
	}
	return o.store.ListLeads(ctx, params)
}

// StageCounts returns how many leads sit in each stage.
func (o *Orchestrator) StageCounts(ctx context.Context) (map[domain.Stage]int, error) {
	return o.store.CountByStage(ctx)
}

// AcceptOffer records an acceptance taken outside the text conversation.
func (o *Orchestrator) AcceptOffer(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	return o.operatorTurn(ctx, id, func(ctx context.Context, l *domain.Lead, turn *inboundTurn) error {
		if !l.Stage.AwaitingOfferResponse() {
			return apperr.Conflict("lead has no open offer")
		}
		return o.acceptOffer(ctx, l, turn)
	})
}

// RejectOffer records a rejection taken outside the text conversation.
func (o *Orchestrator) RejectOffer(ctx context.Context, id uuid.UUID, reason string) (domain.Lead, error) {
	return o.operatorTurn(ctx, id, func(ctx context.Context, l *domain.Lead, turn *inboundTurn) error {
		if !l.Stage.AwaitingOfferResponse() {
			return apperr.Conflict("lead has no open offer")
		}
		return o.rejectOffer(ctx, l, turn, reason, "")
	})
}

// SetSolicitor stores the seller's conveyancer once the offer is accepted.
func (o *Orchestrator) SetSolicitor(ctx context.Context, id uuid.UUID, sol domain.Solicitor) (domain.Lead, error) {
	if err := o.validate.Struct(sol); err != nil {
		return domain.Lead{}, apperr.Validation("invalid solicitor details").WithDetails(validator.FieldErrors(err))
	}
	return o.operatorTurn(ctx, id, func(_ context.Context, l *domain.Lead, _ *inboundTurn) error {
		if l.Stage != domain.StageOfferAccepted {
			return apperr.Conflict("solicitor details can only be set after the offer is accepted")
		}
		s := sol
		l.Solicitor = &s
		l.ConversationState.Extracted.Solicitor = &s
		return nil
	})
}

// operatorTurn runs an operator action under the lead lock, then commits its
// messages and lead update together like an inbound turn.
func (o *Orchestrator) operatorTurn(ctx context.Context, id uuid.UUID, fn func(context.Context, *domain.Lead, *inboundTurn) error) (domain.Lead, error) {
	var updated domain.Lead
	err := o.withLeadLock(ctx, id, o.settings.LeadLockWait, func(ctx context.Context, l *domain.Lead) error {
		turn := &inboundTurn{}
		if err := fn(ctx, l, turn); err != nil {
			return err
		}
		if err := o.commit(ctx, l, turn.changes, turn.outbox); err != nil {
			return err
		}
		updated = *l
		return nil
	})
	if err != nil {
		return domain.Lead{}, mapError(err)
	}
	return updated, nil
}
