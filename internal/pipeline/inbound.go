package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"acquisition_backend/internal/pipeline/agent"
	"acquisition_backend/internal/pipeline/domain"
	"acquisition_backend/internal/pipeline/repository"
	"acquisition_backend/platform/sanitize"
)

// InboundMessage is a seller text delivered by the messaging gateway.
type InboundMessage struct {
	ProviderMessageID string    `json:"providerMessageId"`
	From              string    `json:"from"`
	To                string    `json:"to"`
	Body              string    `json:"body"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

// InboundStatus says what HandleInbound did with a message.
type InboundStatus string

const (
	InboundProcessed     InboundStatus = "processed"
	InboundDuplicate     InboundStatus = "duplicate"
	InboundUnknownSender InboundStatus = "unknown_sender"
)

// InboundResult reports the outcome of handling one inbound message.
type InboundResult struct {
	Status InboundStatus `json:"status"`
	LeadID uuid.UUID     `json:"leadId,omitempty"`
	Stage  domain.Stage  `json:"stage,omitempty"`
	Intent agent.Intent  `json:"intent,omitempty"`
}

var (
	optOutKeywords = map[string]bool{"STOP": true, "STOPALL": true, "UNSUBSCRIBE": true, "CANCEL": true, "END": true, "QUIT": true}
	acceptKeywords = map[string]bool{"YES": true, "Y": true, "ACCEPT": true, "ACCEPTED": true, "DEAL": true}
)

const maxRejectionReasonLength = 500

// inboundTurn collects the messages of one exchange so they can be recorded after
// every outbound message has been delivered.
type inboundTurn struct {
	inbound domain.Message
	outbox  []domain.Message
	changes []stageChange
	intent  agent.Intent
}

// HandleInbound processes one seller message. Redelivery of the same provider
// message id is a no-op. The inbound message, replies and lead update are written
// together after every reply is delivered, so a failed delivery or write leaves
// nothing behind and the message can be retried as a whole.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg InboundMessage) (InboundResult, error) {
	if msg.ProviderMessageID == "" {
		return InboundResult{}, errors.New("inbound message has no provider message id")
	}
	if seen, err := o.store.HasProviderMessage(ctx, msg.ProviderMessageID); err != nil {
		return InboundResult{}, err
	} else if seen {
		return InboundResult{Status: InboundDuplicate}, nil
	}

	from := o.phone.NormalizeE164(msg.From)
	lead, err := o.store.FindLeadByPhone(ctx, from)
	if errors.Is(err, repository.ErrNotFound) {
		o.log.WithContext(ctx).Warn("inbound message from unknown sender", "provider_message_id", msg.ProviderMessageID)
		return InboundResult{Status: InboundUnknownSender}, nil
	}
	if err != nil {
		return InboundResult{}, err
	}

	result := InboundResult{Status: InboundProcessed, LeadID: lead.ID}
	err = o.withLeadLock(ctx, lead.ID, o.settings.LeadLockWait, func(ctx context.Context, l *domain.Lead) error {
		// The lead lock serialises redeliveries racing each other.
		if seen, err := o.store.HasProviderMessage(ctx, msg.ProviderMessageID); err != nil {
			return err
		} else if seen {
			result.Status = InboundDuplicate
			return nil
		}

		o.metrics.MessagesReceived.Inc()
		receivedAt := msg.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = o.now()
		}
		l.LastInboundAt = &receivedAt

		providerID := msg.ProviderMessageID
		turn := &inboundTurn{inbound: domain.Message{
			ID:                uuid.New(),
			LeadID:            l.ID,
			Direction:         domain.DirectionInbound,
			Kind:              domain.KindInbound,
			Body:              sanitize.Text(msg.Body),
			ProviderMessageID: &providerID,
		}}

		if err := o.dispatchInbound(ctx, l, turn); err != nil {
			return err
		}

		for i := range turn.outbox {
			turn.outbox[i].InReplyTo = &turn.inbound.ID
		}
		msgs := append([]domain.Message{turn.inbound}, turn.outbox...)
		if err := o.commit(ctx, l, turn.changes, msgs); err != nil {
			if errors.Is(err, repository.ErrDuplicateMessage) {
				result.Status = InboundDuplicate
				return nil
			}
			return err
		}
		result.Stage = l.Stage
		result.Intent = turn.intent
		return nil
	})
	if err != nil {
		return result, mapError(err)
	}
	return result, nil
}

func (o *Orchestrator) dispatchInbound(ctx context.Context, l *domain.Lead, turn *inboundTurn) error {
	keyword := strings.ToUpper(strings.Trim(strings.TrimSpace(turn.inbound.Body), ".!"))

	if optOutKeywords[keyword] {
		turn.intent = agent.IntentOptOut
		return o.optOut(l, turn)
	}

	switch {
	case l.Stage.InConversation():
		return o.converse(ctx, l, turn)
	case l.Stage.AwaitingOfferResponse():
		if acceptKeywords[keyword] {
			turn.intent = agent.IntentAcceptOffer
			return o.acceptOffer(ctx, l, turn)
		}
		return o.negotiate(ctx, l, turn)
	case l.Stage == domain.StageOfferAccepted:
		return o.captureSolicitor(ctx, l, turn)
	case l.Stage == domain.StageDeadLead && l.DeadReason != nil && *l.DeadReason == reasonOptOut:
		return nil
	default:
		return o.reply(ctx, l, turn, domain.KindAcknowledgement, o.composer.Acknowledgement, 0)
	}
}

const reasonOptOut = "opt_out"

// optOut closes the lead without replying. Stages past acceptance cannot be
// closed automatically and are left for an operator.
func (o *Orchestrator) optOut(l *domain.Lead, turn *inboundTurn) error {
	if !domain.CanTransition(l.Stage, domain.StageDeadLead) {
		o.log.Warn("opt-out received after acceptance, leaving for operator", "lead_id", l.ID.String(), "stage", string(l.Stage))
		return nil
	}
	reason := reasonOptOut
	l.DeadReason = &reason
	l.NextRetryAt = nil
	return o.moveTo(l, domain.StageDeadLead, reasonOptOut, &turn.changes)
}

// turnFor runs the agent and folds its extraction into the conversation state.
func (o *Orchestrator) turnFor(ctx context.Context, l *domain.Lead, turn *inboundTurn) (agent.TurnOutput, error) {
	history, err := o.store.ListMessages(ctx, l.ID, o.settings.HistoryLimit)
	if err != nil {
		return agent.TurnOutput{}, err
	}
	actx, cancel := o.collaboratorCtx(ctx)
	out, respErr := o.agent.Respond(actx, agent.TurnInput{Lead: *l, History: history, Inbound: turn.inbound.Body})
	cancel()
	o.recordTurnMetrics(ctx, l, out, respErr)
	turn.intent = out.Intent

	state := &l.ConversationState
	merge := state.Merge(out.Extraction, o.validate)
	for field, reason := range merge.Rejected {
		o.log.WithContext(ctx).Warn("extracted value rejected", "lead_id", l.ID.String(), "field", field, "reason", reason)
	}
	state.Exchanges++
	state.LastIntent = string(out.Intent)
	state.NextQuestion = out.NextQuestion
	l.AbsorbExtraction()

	meta := map[string]any{"intent": out.Intent, "applied": merge.Applied}
	if len(merge.Rejected) > 0 {
		meta["rejected"] = merge.Rejected
	}
	if out.ParseFailure != nil {
		meta["parseFailure"] = out.ParseFailure
	}
	if out.Fallback {
		meta["fallback"] = true
	}
	if raw, err := json.Marshal(meta); err == nil {
		turn.inbound.Extraction = raw
	}
	return out, nil
}

// reply delivers a message as part of the turn. Stage-entry kinds already in the
// log are skipped.
func (o *Orchestrator) reply(ctx context.Context, l *domain.Lead, turn *inboundTurn, kind domain.MessageKind, render func(domain.Lead) (string, error), tokens int) error {
	sent, err := o.alreadySent(ctx, l, kind)
	if err != nil || sent {
		return err
	}
	body, err := render(*l)
	if err != nil {
		return fmt.Errorf("render %s: %w", kind, err)
	}
	msg, err := o.deliver(ctx, l, kind, body)
	if err != nil {
		return err
	}
	msg.TokensUsed = tokens
	turn.outbox = append(turn.outbox, msg)
	return nil
}

func text(s string) func(domain.Lead) (string, error) {
	return func(domain.Lead) (string, error) { return s, nil }
}

func (o *Orchestrator) converse(ctx context.Context, l *domain.Lead, turn *inboundTurn) error {
	out, err := o.turnFor(ctx, l, turn)
	if err != nil {
		return err
	}
	if out.Intent == agent.IntentOptOut {
		return o.optOut(l, turn)
	}
	if err := o.reply(ctx, l, turn, domain.KindReply, text(out.Reply), out.TokensUsed); err != nil {
		return err
	}

	if l.Stage == domain.StageNewLead {
		if err := o.moveTo(l, domain.StageAIConversation, "seller_replied", &turn.changes); err != nil {
			return err
		}
	}
	state := &l.ConversationState
	if !state.IsComplete(o.settings.ConversationMaxExchanges) {
		return nil
	}
	now := o.now()
	state.CompletedAt = &now
	reason := "conversation_complete"
	if len(state.MissingFields()) > 0 {
		reason = "exchange_limit_reached"
	}
	return o.moveTo(l, domain.StageDealValidation, reason, &turn.changes)
}

func (o *Orchestrator) negotiate(ctx context.Context, l *domain.Lead, turn *inboundTurn) error {
	out, err := o.turnFor(ctx, l, turn)
	if err != nil {
		return err
	}
	switch out.Intent {
	case agent.IntentOptOut:
		return o.optOut(l, turn)
	case agent.IntentAcceptOffer:
		return o.acceptOffer(ctx, l, turn)
	case agent.IntentRejectOffer:
		return o.rejectOffer(ctx, l, turn, turn.inbound.Body, out.Reply)
	default:
		return o.reply(ctx, l, turn, domain.KindReply, text(out.Reply), out.TokensUsed)
	}
}

func (o *Orchestrator) acceptOffer(ctx context.Context, l *domain.Lead, turn *inboundTurn) error {
	if err := o.reply(ctx, l, turn, domain.KindSolicitorRequest, o.composer.SolicitorRequest, 0); err != nil {
		return err
	}
	now := o.now()
	l.OfferAcceptedAt = &now
	l.NextRetryAt = nil
	return o.moveTo(l, domain.StageOfferAccepted, "offer_accepted", &turn.changes)
}

// rejectOffer handles the first rejection with the objection message and starts the
// follow-up schedule. Later rejections are answered but leave the schedule alone.
func (o *Orchestrator) rejectOffer(ctx context.Context, l *domain.Lead, turn *inboundTurn, reason, agentReply string) error {
	now := o.now()
	l.OfferRejectedAt = &now
	if reason = sanitize.Truncate(reason, maxRejectionReasonLength); reason != "" {
		l.RejectionReason = &reason
	}

	if l.Stage != domain.StageOfferMade {
		if agentReply == "" {
			return nil
		}
		return o.reply(ctx, l, turn, domain.KindReply, text(agentReply), 0)
	}

	if err := o.reply(ctx, l, turn, domain.KindObjection, o.composer.Objection, 0); err != nil {
		return err
	}
	firstRetry := o.schedule.FirstRetryAt(now)
	l.NextRetryAt = &firstRetry
	return o.moveTo(l, domain.StageVideoSent, "offer_rejected", &turn.changes)
}

func (o *Orchestrator) captureSolicitor(ctx context.Context, l *domain.Lead, turn *inboundTurn) error {
	out, err := o.turnFor(ctx, l, turn)
	if err != nil {
		return err
	}
	return o.reply(ctx, l, turn, domain.KindReply, text(out.Reply), out.TokensUsed)
}
