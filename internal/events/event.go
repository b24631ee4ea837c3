// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"github.com/google/uuid"

	"acquisition_backend/platform/events"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Pipeline Domain Events
// =============================================================================

// LeadCreated is published when a lead enters the pipeline (intake or manual).
type LeadCreated struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	Source string    `json:"source"`
}

func (e LeadCreated) EventName() string { return "pipeline.lead.created" }

// StageChanged is published after a stage transition is persisted.
type StageChanged struct {
	BaseEvent
	LeadID uuid.UUID `json:"leadId"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
}

func (e StageChanged) EventName() string { return "pipeline.lead.stage_changed" }

// OfferSent is published once the offer message has been delivered.
type OfferSent struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	Amount      float64   `json:"amount"`
	AskingPrice float64   `json:"askingPrice"`
}

func (e OfferSent) EventName() string { return "pipeline.offer.sent" }

// DealCreated is published when an accepted lead is handed to investors.
type DealCreated struct {
	BaseEvent
	LeadID        uuid.UUID `json:"leadId"`
	DealID        uuid.UUID `json:"dealId"`
	PurchasePrice float64   `json:"purchasePrice"`
}

func (e DealCreated) EventName() string { return "pipeline.deal.created" }
