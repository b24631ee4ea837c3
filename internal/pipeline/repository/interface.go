package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"acquisition_backend/internal/pipeline/domain"
)

// LeadReader provides read-only access to leads.
type LeadReader interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	FindLeadByPhone(ctx context.Context, phone string) (domain.Lead, error)
	ListLeads(ctx context.Context, params ListParams) ([]domain.Lead, int, error)
	CountByStage(ctx context.Context) (map[domain.Stage]int, error)
}

// LeadWriter creates leads and applies version-checked updates.
type LeadWriter interface {
	// CreateLead inserts a lead. When the external id already exists it returns the
	// existing lead and created=false.
	CreateLead(ctx context.Context, lead domain.Lead) (domain.Lead, bool, error)
	// UpdateLead persists every mutable column if lead.Version is current, then
	// advances lead.Version. Returns ErrVersionConflict otherwise.
	UpdateLead(ctx context.Context, lead *domain.Lead) error
}

// CycleQueries select the leads each cycle step works on.
type CycleQueries interface {
	ListNewLeads(ctx context.Context, limit int) ([]domain.Lead, error)
	ListPendingValidation(ctx context.Context, limit int) ([]domain.Lead, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.Lead, error)
	ListAwaitingPaperwork(ctx context.Context, limit int) ([]domain.Lead, error)
	ListAwaitingDeal(ctx context.Context, limit int) ([]domain.Lead, error)
	ListStale(ctx context.Context, inactiveSince time.Time, limit int) ([]domain.Lead, error)
}

// MessageStore is the append-only conversation log.
type MessageStore interface {
	// AppendMessage returns ErrDuplicateMessage when a stage-entry kind or provider
	// message id is already recorded.
	AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	// ListMessages returns the newest limit messages in chronological order; limit<=0 returns all.
	ListMessages(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Message, error)
	HasMessageKind(ctx context.Context, leadID uuid.UUID, kind domain.MessageKind) (bool, error)
	HasProviderMessage(ctx context.Context, providerMessageID string) (bool, error)
}

// TurnCommitter writes the outcome of one conversation turn atomically.
type TurnCommitter interface {
	CommitTurn(ctx context.Context, lead *domain.Lead, msgs []domain.Message) error
}

// DealStore records handed-off deals.
type DealStore interface {
	// CreateDeal is idempotent per lead and returns the stored deal.
	CreateDeal(ctx context.Context, deal domain.Deal) (domain.Deal, error)
	GetDealByLead(ctx context.Context, leadID uuid.UUID) (domain.Deal, error)
}

// IntakeCursorStore persists how far each lead source has been read.
type IntakeCursorStore interface {
	GetIntakeCursor(ctx context.Context, source string) (time.Time, error)
	SaveIntakeCursor(ctx context.Context, source string, at time.Time) error
}

// Store is everything the pipeline needs from persistence.
type Store interface {
	LeadReader
	LeadWriter
	CycleQueries
	MessageStore
	TurnCommitter
	DealStore
	IntakeCursorStore
}

// ListParams filters the operator lead listing.
type ListParams struct {
	Stage  *domain.Stage
	Phone  string
	Limit  int
	Offset int
}

var _ Store = (*Repository)(nil)
