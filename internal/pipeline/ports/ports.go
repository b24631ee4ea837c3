// Package ports defines the collaborator interfaces the pipeline depends on.
// Adapters live outside the pipeline package and are chosen once at startup.
package ports

import (
	"context"
	"errors"
	"time"
)

// ErrNoEstimate means the valuation source answered but has no figure for the property.
// This is incomplete data, not an outage.
var ErrNoEstimate = errors.New("no valuation estimate available")

// SendResult is the gateway's acknowledgement of an outbound text message.
type SendResult struct {
	MessageID string
	Status    string
}

// MessagingGateway delivers outbound text messages to sellers.
type MessagingGateway interface {
	Send(ctx context.Context, to, body string) (SendResult, error)
}

// ChatRole is the author of a chat turn sent to the inference provider.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    ChatRole
	Content string
}

// InferenceRequest is a single completion request.
type InferenceRequest struct {
	SystemPrompt string
	Messages     []ChatMessage
	JSONMode     bool
	MaxTokens    int
	Temperature  float32
}

// InferenceResponse carries the raw model text and token accounting.
type InferenceResponse struct {
	Text       string
	TokensUsed int
}

// InferenceProvider produces model completions.
type InferenceProvider interface {
	Name() string
	Respond(ctx context.Context, req InferenceRequest) (InferenceResponse, error)
}

// ValuationQuery identifies the property to value.
type ValuationQuery struct {
	Address      string
	Postcode     string
	PropertyType string
	Bedrooms     *int
}

// Valuation is an estimated market value.
type Valuation struct {
	Value  float64
	Source string
}

// ValuationLookup estimates market value. Returns ErrNoEstimate (possibly wrapped)
// when the property cannot be valued.
type ValuationLookup interface {
	Estimate(ctx context.Context, q ValuationQuery) (Valuation, error)
}

// LeadFacts is a new lead as delivered by the lead source.
type LeadFacts struct {
	ExternalID   string
	Source       string
	FirstName    string
	LastName     string
	Phone        string
	Email        string
	Address      string
	Postcode     string
	AskingPrice  *float64
	PropertyType string
	Bedrooms     *int
	Condition    string
	ReceivedAt   time.Time
}

// LeadIntake fetches leads received after a point in time, oldest first.
type LeadIntake interface {
	FetchSince(ctx context.Context, since time.Time) ([]LeadFacts, error)
}
