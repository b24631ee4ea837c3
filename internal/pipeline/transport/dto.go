package transport

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"acquisition_backend/internal/pipeline/domain"
)

// InboundMessageRequest is the messaging gateway's webhook payload.
type InboundMessageRequest struct {
	MessageID  string     `json:"messageId" validate:"required,max=200"`
	From       string     `json:"from" validate:"required,max=32"`
	To         string     `json:"to" validate:"omitempty,max=32"`
	Body       string     `json:"body" validate:"max=4096"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
}

type InboundMessageResponse struct {
	Status string `json:"status"`
}

// CreateLeadRequest is the request body for entering a lead by hand.
type CreateLeadRequest struct {
	ExternalID   string   `json:"externalId" validate:"omitempty,max=120"`
	Source       string   `json:"source" validate:"omitempty,max=60"`
	FirstName    string   `json:"firstName" validate:"required,min=1,max=100"`
	LastName     string   `json:"lastName" validate:"omitempty,max=100"`
	Phone        string   `json:"phone" validate:"required,min=6,max=32"`
	Email        string   `json:"email" validate:"omitempty,email,max=254"`
	Address      string   `json:"address" validate:"omitempty,min=5,max=200"`
	Postcode     string   `json:"postcode" validate:"omitempty,min=5,max=8"`
	AskingPrice  *float64 `json:"askingPrice,omitempty" validate:"omitempty,gt=0,lte=100000000"`
	PropertyType string   `json:"propertyType" validate:"omitempty,oneof=flat terraced semi_detached detached bungalow land commercial parking other"`
	Bedrooms     *int     `json:"bedrooms,omitempty" validate:"omitempty,gte=0,lte=20"`
	Condition    string   `json:"condition" validate:"omitempty,oneof=excellent good fair needs_work poor"`
}

type RejectOfferRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

type SolicitorRequest struct {
	Name  string `json:"name" validate:"required,min=2,max=120"`
	Firm  string `json:"firm" validate:"required,min=2,max=160"`
	Email string `json:"email" validate:"omitempty,email,max=254"`
	Phone string `json:"phone" validate:"omitempty,min=6,max=32"`
}

// ListLeadsRequest is the query string for the operator lead listing.
type ListLeadsRequest struct {
	Stage    string `form:"stage" validate:"omitempty,max=40"`
	Phone    string `form:"phone" validate:"omitempty,max=32"`
	Page     int    `form:"page" validate:"omitempty,min=1"`
	PageSize int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

type SolicitorResponse struct {
	Name  string `json:"name"`
	Firm  string `json:"firm"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type LeadResponse struct {
	ID           uuid.UUID `json:"id"`
	ExternalID   *string   `json:"externalId,omitempty"`
	Source       string    `json:"source"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Phone        string    `json:"phone"`
	Email        *string   `json:"email,omitempty"`
	Address      string    `json:"address"`
	Postcode     string    `json:"postcode"`
	AskingPrice  *float64  `json:"askingPrice,omitempty"`
	PropertyType string    `json:"propertyType,omitempty"`
	Bedrooms     *int      `json:"bedrooms,omitempty"`
	Condition    string    `json:"condition,omitempty"`

	Stage           string    `json:"stage"`
	StageChangedAt  time.Time `json:"stageChangedAt"`
	MotivationScore *int      `json:"motivationScore,omitempty"`
	Exchanges       int       `json:"exchanges"`
	MissingFields   []string  `json:"missingFields,omitempty"`

	BMVScore             *float64   `json:"bmvScore,omitempty"`
	EstimatedMarketValue *float64   `json:"estimatedMarketValue,omitempty"`
	EstimatedRefurbCost  *float64   `json:"estimatedRefurbCost,omitempty"`
	ProfitPotential      *float64   `json:"profitPotential,omitempty"`
	ValidationPassed     *bool      `json:"validationPassed,omitempty"`
	ValidationNotes      *string    `json:"validationNotes,omitempty"`
	ValidatedAt          *time.Time `json:"validatedAt,omitempty"`

	OfferAmount     *float64        `json:"offerAmount,omitempty"`
	OfferPercentage *float64        `json:"offerPercentage,omitempty"`
	OfferBreakdown  json.RawMessage `json:"offerBreakdown,omitempty"`
	OfferSentAt     *time.Time      `json:"offerSentAt,omitempty"`
	OfferAcceptedAt *time.Time      `json:"offerAcceptedAt,omitempty"`
	OfferRejectedAt *time.Time      `json:"offerRejectedAt,omitempty"`
	RejectionReason *string         `json:"rejectionReason,omitempty"`

	RetryCount  int        `json:"retryCount"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`

	Solicitor  *SolicitorResponse `json:"solicitor,omitempty"`
	DealID     *uuid.UUID         `json:"dealId,omitempty"`
	DeadReason *string            `json:"deadReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type MessageResponse struct {
	ID                uuid.UUID  `json:"id"`
	Direction         string     `json:"direction"`
	Kind              string     `json:"kind"`
	Body              string     `json:"body"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	InReplyTo         *uuid.UUID `json:"inReplyTo,omitempty"`
	TokensUsed        int        `json:"tokensUsed,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

type DealResponse struct {
	ID              uuid.UUID         `json:"id"`
	PurchasePrice   float64           `json:"purchasePrice"`
	MarketValue     *float64          `json:"marketValue,omitempty"`
	RefurbCost      *float64          `json:"refurbCost,omitempty"`
	ProfitPotential *float64          `json:"profitPotential,omitempty"`
	Solicitor       SolicitorResponse `json:"solicitor"`
	CreatedAt       time.Time         `json:"createdAt"`
}

type LeadDetailResponse struct {
	Lead     LeadResponse      `json:"lead"`
	Messages []MessageResponse `json:"messages"`
	Deal     *DealResponse     `json:"deal,omitempty"`
}

type LeadListResponse struct {
	Items    []LeadResponse `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

type StageCountsResponse struct {
	Stages map[string]int `json:"stages"`
	Total  int            `json:"total"`
}

func ToSolicitorResponse(s domain.Solicitor) SolicitorResponse {
	return SolicitorResponse{Name: s.Name, Firm: s.Firm, Email: s.Email, Phone: s.Phone}
}

func ToLeadResponse(l domain.Lead) LeadResponse {
	resp := LeadResponse{
		ID:                   l.ID,
		ExternalID:           l.ExternalID,
		Source:               l.Source,
		FirstName:            l.FirstName,
		LastName:             l.LastName,
		Phone:                l.Phone,
		Email:                l.Email,
		Address:              l.Address,
		Postcode:             l.Postcode,
		AskingPrice:          l.AskingPrice,
		PropertyType:         string(l.PropertyType),
		Bedrooms:             l.Bedrooms,
		Condition:            string(l.Condition),
		Stage:                string(l.Stage),
		StageChangedAt:       l.StageChangedAt,
		MotivationScore:      l.MotivationScore,
		Exchanges:            l.ConversationState.Exchanges,
		BMVScore:             l.BMVScore,
		EstimatedMarketValue: l.EstimatedMarketValue,
		EstimatedRefurbCost:  l.EstimatedRefurbCost,
		ProfitPotential:      l.ProfitPotential,
		ValidationPassed:     l.ValidationPassed,
		ValidationNotes:      l.ValidationNotes,
		ValidatedAt:          l.ValidatedAt,
		OfferAmount:          l.OfferAmount,
		OfferPercentage:      l.OfferPercentage,
		OfferBreakdown:       l.OfferBreakdown,
		OfferSentAt:          l.OfferSentAt,
		OfferAcceptedAt:      l.OfferAcceptedAt,
		OfferRejectedAt:      l.OfferRejectedAt,
		RejectionReason:      l.RejectionReason,
		RetryCount:           l.RetryCount,
		NextRetryAt:          l.NextRetryAt,
		DealID:               l.DealID,
		DeadReason:           l.DeadReason,
		CreatedAt:            l.CreatedAt,
		UpdatedAt:            l.UpdatedAt,
	}
	if l.Stage.InConversation() {
		resp.MissingFields = l.ConversationState.MissingFields()
	}
	if l.Solicitor != nil {
		sol := ToSolicitorResponse(*l.Solicitor)
		resp.Solicitor = &sol
	}
	return resp
}

func ToMessageResponse(m domain.Message) MessageResponse {
	return MessageResponse{
		ID:                m.ID,
		Direction:         string(m.Direction),
		Kind:              string(m.Kind),
		Body:              m.Body,
		ProviderMessageID: m.ProviderMessageID,
		InReplyTo:         m.InReplyTo,
		TokensUsed:        m.TokensUsed,
		CreatedAt:         m.CreatedAt,
	}
}

func ToDealResponse(d domain.Deal) DealResponse {
	return DealResponse{
		ID:              d.ID,
		PurchasePrice:   d.PurchasePrice,
		MarketValue:     d.MarketValue,
		RefurbCost:      d.RefurbCost,
		ProfitPotential: d.ProfitPotential,
		Solicitor:       ToSolicitorResponse(d.Solicitor),
		CreatedAt:       d.CreatedAt,
	}
}
