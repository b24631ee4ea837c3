// Package pipeline drives leads through the acquisition stages: intake, conversation,
// underwriting, offer, follow-ups and hand-off.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"acquisition_backend/internal/events"
	"acquisition_backend/internal/pipeline/agent"
	"acquisition_backend/internal/pipeline/domain"
	"acquisition_backend/internal/pipeline/offer"
	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/internal/pipeline/repository"
	"acquisition_backend/internal/pipeline/underwriting"
	"acquisition_backend/platform/apperr"
	"acquisition_backend/platform/lock"
	"acquisition_backend/platform/logger"
	"acquisition_backend/platform/metrics"
	"acquisition_backend/platform/phone"
	"acquisition_backend/platform/validator"
)

const cycleLockName = "cycle"

// ErrCycleInProgress is returned when another process holds the cycle lock.
var ErrCycleInProgress = errors.New("pipeline cycle already running")

// Conversation is the seller-facing agent.
type Conversation interface {
	Respond(ctx context.Context, in agent.TurnInput) (agent.TurnOutput, error)
	Opening(ctx context.Context, in agent.OpeningInput) (agent.TurnOutput, error)
}

// Underwriter scores a deal.
type Underwriter interface {
	Validate(ctx context.Context, in underwriting.Input) (underwriting.Result, error)
}

// Pricer computes the cash offer.
type Pricer interface {
	Calculate(in offer.Input) (offer.Breakdown, error)
}

// Composer renders templated seller messages.
type Composer interface {
	Offer(l domain.Lead, amount float64) (string, error)
	Objection(l domain.Lead) (string, error)
	Retry(l domain.Lead, n int, deadline time.Time) (string, error)
	SolicitorRequest(l domain.Lead) (string, error)
	Paperwork(l domain.Lead) (string, error)
	Acknowledgement(l domain.Lead) (string, error)
}

// Settings are the orchestrator's runtime limits.
type Settings struct {
	IntakeSource             string
	Workers                  int
	BatchSize                int
	ConversationTimeout      time.Duration
	ConversationMaxExchanges int
	HistoryLimit             int
	CollaboratorTimeout      time.Duration
	LeadLockTTL              time.Duration
	LeadLockWait             time.Duration
	CycleLockTTL             time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.IntakeSource == "" {
		s.IntakeSource = "default"
	}
	if s.Workers <= 0 {
		s.Workers = 1
	}
	if s.ConversationTimeout <= 0 {
		s.ConversationTimeout = 72 * time.Hour
	}
	if s.ConversationMaxExchanges <= 0 {
		s.ConversationMaxExchanges = 12
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = 10
	}
	if s.CollaboratorTimeout <= 0 {
		s.CollaboratorTimeout = 20 * time.Second
	}
	if s.LeadLockTTL <= 0 {
		s.LeadLockTTL = 4 * s.CollaboratorTimeout
	}
	if s.LeadLockWait <= 0 {
		s.LeadLockWait = 10 * time.Second
	}
	if s.CycleLockTTL <= 0 {
		s.CycleLockTTL = 2 * time.Minute
	}
	return s
}

// Deps are the orchestrator's collaborators. Intake may be nil.
type Deps struct {
	Store       repository.Store
	Gateway     ports.MessagingGateway
	Agent       Conversation
	Underwriter Underwriter
	Pricer      Pricer
	Composer    Composer
	Schedule    offer.RetrySchedule
	Intake      ports.LeadIntake
	Locker      *lock.Locker
	Bus         events.Bus
	Metrics     *metrics.Metrics
	Validator   *validator.Validator
	Phone       phone.Normalizer
	Log         *logger.Logger
	Clock       func() time.Time
}

type Orchestrator struct {
	store       repository.Store
	gateway     ports.MessagingGateway
	agent       Conversation
	underwriter Underwriter
	pricer      Pricer
	composer    Composer
	schedule    offer.RetrySchedule
	intake      ports.LeadIntake
	locker      *lock.Locker
	bus         events.Bus
	metrics     *metrics.Metrics
	validate    *validator.Validator
	phone       phone.Normalizer
	log         *logger.Logger
	now         func() time.Time
	settings    Settings
}

func NewOrchestrator(deps Deps, settings Settings) *Orchestrator {
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		store:       deps.Store,
		gateway:     deps.Gateway,
		agent:       deps.Agent,
		underwriter: deps.Underwriter,
		pricer:      deps.Pricer,
		composer:    deps.Composer,
		schedule:    deps.Schedule,
		intake:      deps.Intake,
		locker:      deps.Locker,
		bus:         deps.Bus,
		metrics:     deps.Metrics,
		validate:    deps.Validator,
		phone:       deps.Phone,
		log:         deps.Log,
		now:         clock,
		settings:    settings.withDefaults(),
	}
}

type stageChange struct {
	from   domain.Stage
	to     domain.Stage
	reason string
}

// moveTo applies a stage transition in memory. persist writes it.
func (o *Orchestrator) moveTo(l *domain.Lead, to domain.Stage, reason string, changes *[]stageChange) error {
	if err := domain.ValidateTransition(l.Stage, to); err != nil {
		return err
	}
	*changes = append(*changes, stageChange{from: l.Stage, to: to, reason: reason})
	l.Stage = to
	l.StageChangedAt = o.now()
	return nil
}

// persist saves the lead and announces the stage changes that led to it.
func (o *Orchestrator) persist(ctx context.Context, l *domain.Lead, changes []stageChange) error {
	if err := o.store.UpdateLead(ctx, l); err != nil {
		return fmt.Errorf("update lead %s: %w", l.ID, err)
	}
	o.announce(ctx, l, changes)
	return nil
}

// commit is persist with the turn's messages written in the same transaction.
func (o *Orchestrator) commit(ctx context.Context, l *domain.Lead, changes []stageChange, msgs []domain.Message) error {
	if err := o.store.CommitTurn(ctx, l, msgs); err != nil {
		return fmt.Errorf("commit turn for lead %s: %w", l.ID, err)
	}
	o.announce(ctx, l, changes)
	return nil
}

func (o *Orchestrator) announce(ctx context.Context, l *domain.Lead, changes []stageChange) {
	for _, c := range changes {
		o.log.WithContext(ctx).StageTransition(l.ID.String(), string(c.from), string(c.to), c.reason)
		o.metrics.StageTransitions.WithLabelValues(string(c.from), string(c.to)).Inc()
		o.bus.Publish(ctx, events.StageChanged{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    l.ID,
			From:      string(c.from),
			To:        string(c.to),
			Reason:    c.reason,
		})
	}
}

// advance is moveTo followed by persist.
func (o *Orchestrator) advance(ctx context.Context, l *domain.Lead, to domain.Stage, reason string) error {
	var changes []stageChange
	if err := o.moveTo(l, to, reason, &changes); err != nil {
		return err
	}
	return o.persist(ctx, l, changes)
}

// kill moves the lead to DEAD_LEAD with a reason operators can read.
func (o *Orchestrator) kill(ctx context.Context, l *domain.Lead, reason string) error {
	l.DeadReason = &reason
	l.NextRetryAt = nil
	return o.advance(ctx, l, domain.StageDeadLead, reason)
}

// deliver sends body to the seller and returns the outbound message to record.
func (o *Orchestrator) deliver(ctx context.Context, l *domain.Lead, kind domain.MessageKind, body string) (domain.Message, error) {
	sendCtx, cancel := context.WithTimeout(ctx, o.settings.CollaboratorTimeout)
	defer cancel()

	res, err := o.gateway.Send(sendCtx, l.Phone, body)
	if err != nil {
		o.log.WithContext(ctx).CollaboratorFailure("messaging", "send", l.ID.String(), err)
		return domain.Message{}, apperr.Unavailable("messaging", err)
	}
	o.metrics.MessagesSent.WithLabelValues(string(kind)).Inc()

	sentAt := o.now()
	l.LastOutboundAt = &sentAt
	msg := domain.Message{
		ID:        uuid.New(),
		LeadID:    l.ID,
		Direction: domain.DirectionOutbound,
		Kind:      kind,
		Body:      body,
	}
	if res.MessageID != "" {
		id := res.MessageID
		msg.ProviderMessageID = &id
	}
	return msg, nil
}

func (o *Orchestrator) record(ctx context.Context, msgs ...domain.Message) error {
	for _, m := range msgs {
		if _, err := o.store.AppendMessage(ctx, m); err != nil && !errors.Is(err, repository.ErrDuplicateMessage) {
			return fmt.Errorf("append %s message: %w", m.Kind, err)
		}
	}
	return nil
}

// alreadySent reports whether a stage-entry message of this kind was delivered before.
func (o *Orchestrator) alreadySent(ctx context.Context, l *domain.Lead, kind domain.MessageKind) (bool, error) {
	if !kind.IsStageEntry() {
		return false, nil
	}
	return o.store.HasMessageKind(ctx, l.ID, kind)
}

// sendOnce delivers and records a stage-entry message unless it is already in the
// log. Returns whether a message went out.
func (o *Orchestrator) sendOnce(ctx context.Context, l *domain.Lead, kind domain.MessageKind, render func() (string, error)) (bool, error) {
	sent, err := o.alreadySent(ctx, l, kind)
	if err != nil {
		return false, err
	}
	if sent {
		return false, nil
	}
	body, err := render()
	if err != nil {
		return false, fmt.Errorf("render %s: %w", kind, err)
	}
	msg, err := o.deliver(ctx, l, kind, body)
	if err != nil {
		return false, err
	}
	return true, o.record(ctx, msg)
}

// withLeadLock runs fn holding the lead's lock on a freshly loaded copy.
// Returns lock.ErrNotAcquired (wrapped) when another worker holds it after wait.
func (o *Orchestrator) withLeadLock(ctx context.Context, id uuid.UUID, wait time.Duration, fn func(ctx context.Context, l *domain.Lead) error) error {
	var (
		lk  *lock.Lock
		err error
	)
	name := "lead:" + id.String()
	if wait > 0 {
		lk, err = o.locker.AcquireWait(ctx, name, o.settings.LeadLockTTL, wait)
	} else {
		lk, err = o.locker.Acquire(ctx, name, o.settings.LeadLockTTL)
	}
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lk.Release(context.WithoutCancel(ctx)); relErr != nil {
			o.log.Warn("failed to release lead lock", "lead_id", id.String(), "error", relErr)
		}
	}()

	l, err := o.store.GetLead(ctx, id)
	if err != nil {
		return err
	}
	return fn(context.WithValue(ctx, logger.LeadIDKey, id.String()), &l)
}

func (o *Orchestrator) collaboratorCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.settings.CollaboratorTimeout)
}

func (o *Orchestrator) recordTurnMetrics(ctx context.Context, l *domain.Lead, out agent.TurnOutput, err error) {
	if out.TokensUsed > 0 {
		o.metrics.InferenceTokens.Add(float64(out.TokensUsed))
	}
	switch {
	case err != nil:
		o.metrics.InferenceFailures.WithLabelValues("provider").Inc()
		o.log.WithContext(ctx).CollaboratorFailure("inference", "respond", l.ID.String(), err)
	case out.ParseFailure != nil:
		o.metrics.InferenceFailures.WithLabelValues("parse").Inc()
		l.ConversationState.ParseFailures++
	}
}

// mapError converts persistence and domain errors to typed application errors.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound("lead not found")
	case errors.Is(err, repository.ErrVersionConflict):
		return apperr.Conflict("lead was modified concurrently, retry")
	case errors.Is(err, domain.ErrIllegalTransition):
		return apperr.Conflict(err.Error())
	case errors.Is(err, lock.ErrNotAcquired):
		return apperr.Conflict("lead is being processed, retry shortly")
	}
	return err
}
