// Package agent runs the seller conversation: it prompts the inference provider,
// parses the structured reply, and falls back to canned messages when either fails.
package agent

import (
	"context"
	"strings"

	"acquisition_backend/internal/pipeline/domain"
	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/platform/apperr"
	"acquisition_backend/platform/logger"
	"acquisition_backend/platform/sanitize"
)

const (
	// MaxReplyLength keeps replies within a single SMS.
	MaxReplyLength     = 160
	maxInboundLength   = 2000
	defaultMaxTokens   = 600
	defaultTemperature = 0.3
)

// Fallbacks supplies canned messages used when the model is unavailable or unparseable.
type Fallbacks interface {
	Opening(l domain.Lead) (string, error)
	SafeReply(l domain.Lead) (string, error)
	Acknowledgement(l domain.Lead) (string, error)
}

// Config tunes the agent.
type Config struct {
	CompanyName  string
	HistoryLimit int
	MaxTokens    int
}

// TurnInput is one seller message plus the context to answer it.
// History holds earlier messages, oldest first, excluding Inbound.
type TurnInput struct {
	Lead    domain.Lead
	History []domain.Message
	Inbound string
}

// TurnOutput is the agent's answer. Reply is always safe to send.
type TurnOutput struct {
	Reply                string
	Intent               Intent
	Extraction           domain.ExtractedData
	MotivationScore      *int
	ConversationComplete bool
	NextQuestion         string
	TokensUsed           int
	Fallback             bool
	ParseFailure         *ParseFailure
}

// OpeningInput is the lead to greet.
type OpeningInput struct {
	Lead domain.Lead
}

type ConversationAgent struct {
	provider  ports.InferenceProvider
	fallbacks Fallbacks
	cfg       Config
	log       *logger.Logger
}

func New(provider ports.InferenceProvider, fallbacks Fallbacks, cfg Config, log *logger.Logger) *ConversationAgent {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &ConversationAgent{provider: provider, fallbacks: fallbacks, cfg: cfg, log: log}
}

// Respond produces the reply to a seller message. When the provider fails the
// returned output carries a canned acknowledgement and Fallback=true, and the
// provider error is returned alongside it so the caller can record it. The output
// is usable in both cases.
func (a *ConversationAgent) Respond(ctx context.Context, in TurnInput) (TurnOutput, error) {
	req := ports.InferenceRequest{
		SystemPrompt: buildSystemPrompt(a.cfg.CompanyName, in.Lead),
		Messages:     a.history(in.History, in.Inbound),
		JSONMode:     true,
		MaxTokens:    a.cfg.MaxTokens,
		Temperature:  defaultTemperature,
	}

	resp, err := a.provider.Respond(ctx, req)
	if err != nil {
		out := TurnOutput{Intent: IntentOther, Fallback: true}
		out.Reply = a.canned(in.Lead, a.fallbacks.Acknowledgement)
		return out, apperr.Unavailable("inference", err)
	}

	out := TurnOutput{TokensUsed: resp.TokensUsed}
	parsed := ParseTurn(resp.Text)
	if !parsed.OK() {
		a.log.Warn("unparseable agent response",
			"lead_id", in.Lead.ID.String(),
			"provider", a.provider.Name(),
			"reason", parsed.Failure.Reason,
		)
		out.Intent = IntentOther
		out.Fallback = true
		out.ParseFailure = parsed.Failure
		out.Reply = a.canned(in.Lead, a.fallbacks.SafeReply)
		return out, nil
	}

	turn := parsed.Turn
	if len(turn.Dropped) > 0 {
		a.log.Warn("dropped malformed extracted fields",
			"lead_id", in.Lead.ID.String(),
			"fields", turn.Dropped,
		)
	}
	out.Intent = turn.Intent
	out.Extraction = turn.Extraction
	out.MotivationScore = turn.MotivationScore
	out.ConversationComplete = turn.ConversationComplete
	out.NextQuestion = turn.NextQuestion
	out.Reply = sanitize.Truncate(sanitize.Text(turn.Reply), MaxReplyLength)
	if out.Reply == "" {
		out.Fallback = true
		out.Reply = a.canned(in.Lead, a.fallbacks.SafeReply)
	}
	return out, nil
}

// Opening writes the first message to a new lead. Provider or parse failures fall
// back to the opening template; the provider error is still returned.
func (a *ConversationAgent) Opening(ctx context.Context, in OpeningInput) (TurnOutput, error) {
	resp, err := a.provider.Respond(ctx, ports.InferenceRequest{
		SystemPrompt: buildOpeningPrompt(a.cfg.CompanyName, in.Lead),
		Messages:     []ports.ChatMessage{{Role: ports.RoleUser, Content: "Write the opening message."}},
		JSONMode:     true,
		MaxTokens:    a.cfg.MaxTokens,
		Temperature:  defaultTemperature,
	})
	if err != nil {
		return TurnOutput{Intent: IntentOther, Fallback: true, Reply: a.canned(in.Lead, a.fallbacks.Opening)},
			apperr.Unavailable("inference", err)
	}

	out := TurnOutput{Intent: IntentOther, TokensUsed: resp.TokensUsed}
	parsed := ParseTurn(resp.Text)
	if parsed.OK() {
		out.Reply = sanitize.Truncate(sanitize.Text(parsed.Turn.Reply), MaxReplyLength)
	} else {
		out.ParseFailure = parsed.Failure
	}
	if out.Reply == "" {
		out.Fallback = true
		out.Reply = a.canned(in.Lead, a.fallbacks.Opening)
	}
	return out, nil
}

// history converts the tail of the message log into chat turns and appends the
// new seller message.
func (a *ConversationAgent) history(log []domain.Message, inbound string) []ports.ChatMessage {
	if len(log) > a.cfg.HistoryLimit {
		log = log[len(log)-a.cfg.HistoryLimit:]
	}
	msgs := make([]ports.ChatMessage, 0, len(log)+1)
	for _, m := range log {
		if strings.TrimSpace(m.Body) == "" {
			continue
		}
		if m.Direction == domain.DirectionInbound {
			msgs = append(msgs, ports.ChatMessage{Role: ports.RoleUser, Content: wrapSellerText(m.Body)})
			continue
		}
		msgs = append(msgs, ports.ChatMessage{Role: ports.RoleAssistant, Content: m.Body})
	}
	text := sanitize.Truncate(sanitize.Text(inbound), maxInboundLength)
	msgs = append(msgs, ports.ChatMessage{Role: ports.RoleUser, Content: wrapSellerText(text)})
	return msgs
}

func (a *ConversationAgent) canned(l domain.Lead, render func(domain.Lead) (string, error)) string {
	msg, err := render(l)
	if err != nil || msg == "" {
		a.log.Error("failed to render fallback message", "lead_id", l.ID.String(), "error", err)
		return "Thanks " + l.Greeting() + ", we'll be in touch shortly."
	}
	return msg
}
