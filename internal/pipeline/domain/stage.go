package domain

import (
	"errors"
	"fmt"
)

// Stage is a lead's position in the acquisition pipeline.
type Stage string

const (
	StageNewLead           Stage = "NEW_LEAD"
	StageAIConversation    Stage = "AI_CONVERSATION"
	StageDealValidation    Stage = "DEAL_VALIDATION"
	StageOfferMade         Stage = "OFFER_MADE"
	StageOfferAccepted     Stage = "OFFER_ACCEPTED"
	StagePaperworkSent     Stage = "PAPERWORK_SENT"
	StageReadyForInvestors Stage = "READY_FOR_INVESTORS"
	StageVideoSent         Stage = "VIDEO_SENT"
	StageRetry1            Stage = "RETRY_1"
	StageRetry2            Stage = "RETRY_2"
	StageRetry3            Stage = "RETRY_3"
	StageDeadLead          Stage = "DEAD_LEAD"
)

// ErrIllegalTransition is returned for moves that are not edges of the stage graph.
var ErrIllegalTransition = errors.New("illegal stage transition")

var transitions = map[Stage][]Stage{
	StageNewLead:           {StageAIConversation, StageDeadLead},
	StageAIConversation:    {StageDealValidation, StageDeadLead},
	StageDealValidation:    {StageOfferMade, StageDeadLead},
	StageOfferMade:         {StageOfferAccepted, StageVideoSent, StageDeadLead},
	StageVideoSent:         {StageRetry1, StageOfferAccepted, StageDeadLead},
	StageRetry1:            {StageRetry2, StageOfferAccepted, StageDeadLead},
	StageRetry2:            {StageRetry3, StageOfferAccepted, StageDeadLead},
	StageRetry3:            {StageDeadLead, StageOfferAccepted},
	StageOfferAccepted:     {StagePaperworkSent},
	StagePaperworkSent:     {StageReadyForInvestors},
	StageReadyForInvestors: nil,
	StageDeadLead:          nil,
}

// retryStages maps the retry number just sent to the stage it leads into.
var retryStages = map[int]Stage{
	1: StageRetry1,
	2: StageRetry2,
	3: StageRetry3,
}

// ParseStage validates a persisted or user-supplied stage name.
func ParseStage(s string) (Stage, bool) {
	stage := Stage(s)
	_, ok := transitions[stage]
	return stage, ok
}

// AllStages lists every stage in pipeline order.
func AllStages() []Stage {
	return []Stage{
		StageNewLead, StageAIConversation, StageDealValidation, StageOfferMade,
		StageVideoSent, StageRetry1, StageRetry2, StageRetry3,
		StageOfferAccepted, StagePaperworkSent, StageReadyForInvestors, StageDeadLead,
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s Stage) IsTerminal() bool {
	return s == StageDeadLead || s == StageReadyForInvestors
}

// AwaitingOfferResponse reports whether the seller still has an open offer to accept.
func (s Stage) AwaitingOfferResponse() bool {
	switch s {
	case StageOfferMade, StageVideoSent, StageRetry1, StageRetry2, StageRetry3:
		return true
	}
	return false
}

// InConversation reports whether the seller is still being interviewed.
func (s Stage) InConversation() bool {
	return s == StageNewLead || s == StageAIConversation
}

// CanTransition reports whether from -> to is an edge of the stage graph.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrIllegalTransition (wrapped) for non-edges.
func ValidateTransition(from, to Stage) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// RetryStage returns the stage entered after sending retry number n (1-based).
func RetryStage(n int) (Stage, bool) {
	s, ok := retryStages[n]
	return s, ok
}
