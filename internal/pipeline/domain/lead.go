package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lead is a property seller moving through the acquisition pipeline.
type Lead struct {
	ID         uuid.UUID
	ExternalID *string
	Source     string
	FirstName  string
	LastName   string
	Phone      string
	Email      *string

	Address       string
	Postcode      string
	AskingPrice   *float64
	PropertyType  PropertyType
	Bedrooms      *int
	Bathrooms     *int
	Condition     Condition
	SquareFootage *int

	Stage          Stage
	StageChangedAt time.Time

	MotivationScore   *int
	ConversationState ConversationState

	BMVScore             *float64
	EstimatedMarketValue *float64
	EstimatedRefurbCost  *float64
	ProfitPotential      *float64
	ValidationPassed     *bool
	ValidationNotes      *string
	ValidatedAt          *time.Time

	OfferAmount     *float64
	OfferPercentage *float64
	OfferBreakdown  json.RawMessage
	OfferSentAt     *time.Time
	OfferAcceptedAt *time.Time
	OfferRejectedAt *time.Time
	RejectionReason *string

	RetryCount  int
	NextRetryAt *time.Time

	LastInboundAt  *time.Time
	LastOutboundAt *time.Time

	Solicitor  *Solicitor
	DealID     *uuid.UUID
	DeadReason *string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName returns the seller's display name.
func (l Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// Greeting returns the name used to address the seller.
func (l Lead) Greeting() string {
	if name := strings.TrimSpace(l.FirstName); name != "" {
		return name
	}
	return "there"
}

// LastSellerActivity is when the seller last did something the pipeline noticed.
func (l Lead) LastSellerActivity() time.Time {
	if l.LastInboundAt != nil && l.LastInboundAt.After(l.StageChangedAt) {
		return *l.LastInboundAt
	}
	return l.StageChangedAt
}

// AbsorbExtraction copies known conversation facts onto the lead's property columns.
func (l *Lead) AbsorbExtraction() {
	e := l.ConversationState.Extracted
	if e.Address != nil {
		l.Address = *e.Address
	}
	if e.Postcode != nil {
		l.Postcode = *e.Postcode
	}
	if e.AskingPrice != nil {
		v := *e.AskingPrice
		l.AskingPrice = &v
	}
	if e.PropertyType != nil {
		l.PropertyType = *e.PropertyType
	}
	if e.Bedrooms != nil {
		v := *e.Bedrooms
		l.Bedrooms = &v
	}
	if e.Bathrooms != nil {
		v := *e.Bathrooms
		l.Bathrooms = &v
	}
	if e.SquareFootage != nil {
		v := *e.SquareFootage
		l.SquareFootage = &v
	}
	if e.Condition != nil {
		l.Condition = *e.Condition
	}
	if e.MotivationScore != nil {
		v := *e.MotivationScore
		l.MotivationScore = &v
	}
	if e.Solicitor != nil {
		sol := *e.Solicitor
		l.Solicitor = &sol
	}
}

// SeedExtraction initialises the conversation state from facts known at intake,
// so the agent does not ask for them again.
func (l *Lead) SeedExtraction() {
	e := &l.ConversationState.Extracted
	if l.Address != "" && e.Address == nil {
		v := l.Address
		e.Address = &v
	}
	if l.Postcode != "" && e.Postcode == nil {
		v := l.Postcode
		e.Postcode = &v
	}
	if l.AskingPrice != nil && e.AskingPrice == nil {
		v := *l.AskingPrice
		e.AskingPrice = &v
	}
	if l.PropertyType != "" && e.PropertyType == nil {
		v := l.PropertyType
		e.PropertyType = &v
	}
	if l.Bedrooms != nil && e.Bedrooms == nil {
		v := *l.Bedrooms
		e.Bedrooms = &v
	}
	if l.Condition != "" && e.Condition == nil {
		v := l.Condition
		e.Condition = &v
	}
}

// Direction of a message relative to the seller.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageKind labels why a message was sent.
type MessageKind string

const (
	KindInbound          MessageKind = "inbound"
	KindOpening          MessageKind = "opening"
	KindReply            MessageKind = "reply"
	KindOffer            MessageKind = "offer"
	KindObjection        MessageKind = "objection"
	KindRetry1           MessageKind = "retry_1"
	KindRetry2           MessageKind = "retry_2"
	KindRetry3           MessageKind = "retry_3"
	KindSolicitorRequest MessageKind = "solicitor_request"
	KindPaperwork        MessageKind = "paperwork"
	KindAcknowledgement  MessageKind = "acknowledgement"
)

// RetryKind returns the message kind for retry number n (1-based).
func RetryKind(n int) MessageKind {
	switch n {
	case 1:
		return KindRetry1
	case 2:
		return KindRetry2
	default:
		return KindRetry3
	}
}

// IsStageEntry reports whether at most one message of this kind may exist per lead.
func (k MessageKind) IsStageEntry() bool {
	switch k {
	case KindOpening, KindOffer, KindObjection, KindRetry1, KindRetry2, KindRetry3, KindSolicitorRequest, KindPaperwork:
		return true
	}
	return false
}

// Message is one entry of the append-only conversation log.
type Message struct {
	ID                uuid.UUID
	LeadID            uuid.UUID
	Direction         Direction
	Kind              MessageKind
	Body              string
	ProviderMessageID *string
	InReplyTo         *uuid.UUID
	Extraction        json.RawMessage
	TokensUsed        int
	CreatedAt         time.Time
}

// Deal is the hand-off record created once paperwork is out.
type Deal struct {
	ID              uuid.UUID
	LeadID          uuid.UUID
	PurchasePrice   float64
	MarketValue     *float64
	RefurbCost      *float64
	ProfitPotential *float64
	Solicitor       Solicitor
	CreatedAt       time.Time
}
