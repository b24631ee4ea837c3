package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"acquisition_backend/internal/events"
	"acquisition_backend/internal/pipeline/agent"
	"acquisition_backend/internal/pipeline/domain"
	"acquisition_backend/internal/pipeline/offer"
	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/internal/pipeline/underwriting"
	"acquisition_backend/platform/lock"
	"acquisition_backend/platform/logger"
	"acquisition_backend/platform/sanitize"
)

// Cycle step names, used in logs, metrics and reports.
const (
	StepIntake     = "intake"
	StepOpening    = "opening"
	StepValidation = "validation"
	StepRetries    = "retries"
	StepPaperwork  = "paperwork"
	StepHandoff    = "handoff"
	StepStale      = "stale"
)

// StepReport counts per-lead outcomes for one step.
type StepReport struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// IntakeReport summarises the intake fetch.
type IntakeReport struct {
	Fetched  int    `json:"fetched"`
	Created  int    `json:"created"`
	Rejected int    `json:"rejected"`
	Error    string `json:"error,omitempty"`
}

// CycleReport is the outcome of one RunCycle.
type CycleReport struct {
	CycleID    string                `json:"cycleId"`
	StartedAt  time.Time             `json:"startedAt"`
	Duration   time.Duration         `json:"duration"`
	Intake     IntakeReport          `json:"intake"`
	Steps      map[string]StepReport `json:"steps"`
	StepErrors map[string]string     `json:"stepErrors,omitempty"`
}

func (r CycleReport) totals() (processed, failed int) {
	for _, s := range r.Steps {
		processed += s.Processed
		failed += s.Failed
	}
	return processed, failed
}

// RunCycle runs every step once. It is safe to call repeatedly: each step only
// touches leads whose state still calls for it. Per-lead failures are counted,
// never returned. The only errors are ErrCycleInProgress and lock failures.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	cycleLock, err := o.locker.Acquire(ctx, cycleLockName, o.settings.CycleLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			o.metrics.CyclesTotal.WithLabelValues("skipped").Inc()
			return CycleReport{}, ErrCycleInProgress
		}
		o.metrics.CyclesTotal.WithLabelValues("error").Inc()
		return CycleReport{}, err
	}
	defer func() {
		if relErr := cycleLock.Release(context.WithoutCancel(ctx)); relErr != nil {
			o.log.Warn("failed to release cycle lock", "error", relErr)
		}
	}()
	stopHeartbeat := cycleLock.Heartbeat(ctx, o.settings.CycleLockTTL, func(err error) {
		o.log.Error("cycle lock lost, another instance may start a cycle", "error", err)
	})
	defer stopHeartbeat()

	report := CycleReport{
		CycleID:    uuid.NewString(),
		StartedAt:  o.now(),
		Steps:      make(map[string]StepReport),
		StepErrors: make(map[string]string),
	}
	ctx = context.WithValue(ctx, logger.CycleIDKey, report.CycleID)
	start := time.Now()

	report.Intake = o.runIntake(ctx)

	steps := []struct {
		name string
		list func(ctx context.Context) ([]domain.Lead, error)
		fn   func(ctx context.Context, l *domain.Lead) error
	}{
		{StepOpening, func(ctx context.Context) ([]domain.Lead, error) {
			return o.store.ListNewLeads(ctx, o.settings.BatchSize)
		}, o.openConversation},
		{StepValidation, func(ctx context.Context) ([]domain.Lead, error) {
			return o.store.ListPendingValidation(ctx, o.settings.BatchSize)
		}, o.validateDeal},
		{StepRetries, func(ctx context.Context) ([]domain.Lead, error) {
			return o.store.ListDueRetries(ctx, o.now(), o.settings.BatchSize)
		}, o.followUp},
		{StepPaperwork, func(ctx context.Context) ([]domain.Lead, error) {
			return o.store.ListAwaitingPaperwork(ctx, o.settings.BatchSize)
		}, o.sendPaperwork},
		{StepHandoff, func(ctx context.Context) ([]domain.Lead, error) {
			return o.store.ListAwaitingDeal(ctx, o.settings.BatchSize)
		}, o.handOff},
		{StepStale, func(ctx context.Context) ([]domain.Lead, error) {
			return o.store.ListStale(ctx, o.now().Add(-o.settings.ConversationTimeout), o.settings.BatchSize)
		}, o.expireConversation},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			break
		}
		leads, err := step.list(ctx)
		if err != nil {
			o.log.WithContext(ctx).DatabaseError("list "+step.name, err)
			report.StepErrors[step.name] = err.Error()
			continue
		}
		report.Steps[step.name] = o.runStep(ctx, step.name, leads, step.fn)
	}

	report.Duration = time.Since(start)
	processed, failed := report.totals()
	o.metrics.CycleDuration.Observe(report.Duration.Seconds())
	o.metrics.CyclesTotal.WithLabelValues("completed").Inc()
	o.log.WithContext(ctx).CycleSummary(report.CycleID, report.Duration, processed, failed)
	return report, nil
}

// runStep processes leads with at most Workers in flight. Failures never stop the step.
func (o *Orchestrator) runStep(ctx context.Context, step string, leads []domain.Lead, fn func(context.Context, *domain.Lead) error) StepReport {
	var processed, failed, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.settings.Workers)
	for _, l := range leads {
		id := l.ID
		g.Go(func() error {
			switch err := o.processLead(gctx, step, id, fn); {
			case err == nil:
				processed.Add(1)
			case errors.Is(err, lock.ErrNotAcquired):
				skipped.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return StepReport{Processed: int(processed.Load()), Failed: int(failed.Load()), Skipped: int(skipped.Load())}
}

// processLead is the failure boundary for one lead: it holds the lead lock, recovers
// panics, and logs and counts whatever goes wrong.
func (o *Orchestrator) processLead(ctx context.Context, step string, id uuid.UUID, fn func(context.Context, *domain.Lead) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s step: %v", step, r)
			o.log.Error("recovered panic while processing lead", "step", step, "lead_id", id.String(), "panic", r, "stack", string(debug.Stack()))
		}
		if err != nil && !errors.Is(err, lock.ErrNotAcquired) {
			o.metrics.StepFailures.WithLabelValues(step).Inc()
			o.log.WithContext(ctx).Error("pipeline step failed", "step", step, "lead_id", id.String(), "error", err)
		}
	}()
	return o.withLeadLock(ctx, id, 0, fn)
}

// runIntake fetches new leads since the stored cursor. The cursor only advances
// once every lead of the batch is stored.
func (o *Orchestrator) runIntake(ctx context.Context) IntakeReport {
	var report IntakeReport
	if o.intake == nil {
		return report
	}
	source := o.settings.IntakeSource
	cursor, err := o.store.GetIntakeCursor(ctx, source)
	if err != nil {
		o.log.WithContext(ctx).DatabaseError("get intake cursor", err)
		report.Error = err.Error()
		return report
	}

	fetchCtx, cancel := o.collaboratorCtx(ctx)
	facts, err := o.intake.FetchSince(fetchCtx, cursor)
	cancel()
	if err != nil {
		o.log.WithContext(ctx).CollaboratorFailure("intake", "fetch", "", err)
		o.metrics.StepFailures.WithLabelValues(StepIntake).Inc()
		report.Error = err.Error()
		return report
	}
	report.Fetched = len(facts)

	latest := cursor
	for _, f := range facts {
		lead, ok := o.leadFromFacts(f)
		if !ok {
			report.Rejected++
			o.log.WithContext(ctx).Warn("intake lead rejected: invalid phone", "external_id", f.ExternalID, "source", f.Source)
		} else {
			created, isNew, err := o.store.CreateLead(ctx, lead)
			if err != nil {
				o.log.WithContext(ctx).DatabaseError("create intake lead", err)
				o.metrics.StepFailures.WithLabelValues(StepIntake).Inc()
				report.Error = err.Error()
				return report
			}
			if isNew {
				report.Created++
				o.bus.Publish(ctx, events.LeadCreated{BaseEvent: events.NewBaseEvent(), LeadID: created.ID, Source: created.Source})
			}
		}
		if f.ReceivedAt.After(latest) {
			latest = f.ReceivedAt
		}
	}

	if latest.After(cursor) {
		if err := o.store.SaveIntakeCursor(ctx, source, latest); err != nil {
			o.log.WithContext(ctx).DatabaseError("save intake cursor", err)
			report.Error = err.Error()
		}
	}
	return report
}

func (o *Orchestrator) leadFromFacts(f ports.LeadFacts) (domain.Lead, bool) {
	e164, ok := o.phone.Parse(f.Phone)
	if !ok {
		return domain.Lead{}, false
	}
	l := domain.Lead{
		Source:       f.Source,
		FirstName:    sanitize.Text(f.FirstName),
		LastName:     sanitize.Text(f.LastName),
		Phone:        e164,
		Address:      sanitize.Text(f.Address),
		Postcode:     strings.ToUpper(strings.TrimSpace(f.Postcode)),
		AskingPrice:  f.AskingPrice,
		PropertyType: domain.PropertyType(f.PropertyType),
		Bedrooms:     f.Bedrooms,
		Condition:    domain.Condition(f.Condition),
		Stage:        domain.StageNewLead,
	}
	if l.Source == "" {
		l.Source = o.settings.IntakeSource
	}
	if f.ExternalID != "" {
		id := f.ExternalID
		l.ExternalID = &id
	}
	if email := strings.TrimSpace(f.Email); email != "" {
		l.Email = &email
	}
	if o.validate.Var(string(l.PropertyType), domain.PropertyTypeTag) != nil {
		l.PropertyType = ""
	}
	if o.validate.Var(string(l.Condition), domain.ConditionTag) != nil {
		l.Condition = ""
	}
	l.SeedExtraction()
	return l, true
}

// openConversation sends the opening message and starts the interview.
func (o *Orchestrator) openConversation(ctx context.Context, l *domain.Lead) error {
	if l.Stage != domain.StageNewLead {
		return nil
	}
	_, err := o.sendOnce(ctx, l, domain.KindOpening, func() (string, error) {
		actx, cancel := o.collaboratorCtx(ctx)
		defer cancel()
		out, err := o.agent.Opening(actx, agent.OpeningInput{Lead: *l})
		o.recordTurnMetrics(ctx, l, out, err)
		return out.Reply, nil
	})
	if err != nil {
		return err
	}
	return o.advance(ctx, l, domain.StageAIConversation, "opening_sent")
}

// validateDeal underwrites, prices and sends the offer. Collaborator failures leave
// the lead untouched so the next cycle retries it.
func (o *Orchestrator) validateDeal(ctx context.Context, l *domain.Lead) error {
	if l.Stage != domain.StageDealValidation || l.ValidatedAt != nil {
		return nil
	}

	vctx, cancel := o.collaboratorCtx(ctx)
	res, err := o.underwriter.Validate(vctx, underwriting.InputFromLead(*l))
	cancel()
	if err != nil {
		o.log.WithContext(ctx).CollaboratorFailure("valuation", "estimate", l.ID.String(), err)
		return err
	}

	now := o.now()
	l.ValidatedAt = &now
	l.ValidationPassed = &res.Passed
	notes := res.Notes
	l.ValidationNotes = &notes
	if res.MarketValue > 0 {
		l.EstimatedMarketValue = &res.MarketValue
		l.EstimatedRefurbCost = &res.RefurbCost
		l.ProfitPotential = &res.ProfitPotential
		l.BMVScore = &res.BMVPercent
	}
	if !res.Passed {
		return o.kill(ctx, l, res.Notes)
	}

	breakdown, err := o.pricer.Calculate(offer.Input{
		MarketValue:     res.MarketValue,
		AskingPrice:     *l.AskingPrice,
		RefurbCost:      res.RefurbCost,
		MotivationScore: l.MotivationScore,
	})
	if err != nil {
		if errors.Is(err, offer.ErrOfferNotViable) || errors.Is(err, offer.ErrInvalidInput) {
			return o.kill(ctx, l, "offer_not_viable")
		}
		return err
	}
	raw, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("encode offer breakdown: %w", err)
	}
	l.OfferAmount = &breakdown.Final
	l.OfferPercentage = &breakdown.Percentage
	l.OfferBreakdown = raw

	sent, err := o.sendOnce(ctx, l, domain.KindOffer, func() (string, error) {
		return o.composer.Offer(*l, breakdown.Final)
	})
	if err != nil {
		return err
	}
	sentAt := o.now()
	l.OfferSentAt = &sentAt
	if err := o.advance(ctx, l, domain.StageOfferMade, "offer_sent"); err != nil {
		return err
	}
	if sent {
		o.metrics.OffersMade.Inc()
		o.metrics.OfferAmount.Observe(breakdown.Final)
		o.bus.Publish(ctx, events.OfferSent{
			BaseEvent:   events.NewBaseEvent(),
			LeadID:      l.ID,
			Amount:      breakdown.Final,
			AskingPrice: *l.AskingPrice,
		})
	}
	return nil
}

// followUp sends the next retry message, or closes the lead once the final
// deadline has passed.
func (o *Orchestrator) followUp(ctx context.Context, l *domain.Lead) error {
	if !isRetryLoop(l.Stage) || l.NextRetryAt == nil || l.NextRetryAt.After(o.now()) {
		return nil
	}
	if l.RetryCount >= o.schedule.MaxRetries() {
		return o.kill(ctx, l, "offer_expired")
	}

	n := l.RetryCount + 1
	next, ok := domain.RetryStage(n)
	if !ok {
		return o.kill(ctx, l, "offer_expired")
	}
	now := o.now()
	if _, err := o.sendOnce(ctx, l, domain.RetryKind(n), func() (string, error) {
		return o.composer.Retry(*l, n, o.schedule.Deadline(now))
	}); err != nil {
		return err
	}

	l.RetryCount = n
	nextAt := o.schedule.NextAfter(n, now)
	l.NextRetryAt = &nextAt
	return o.advance(ctx, l, next, fmt.Sprintf("retry_%d_sent", n))
}

func isRetryLoop(s domain.Stage) bool {
	switch s {
	case domain.StageVideoSent, domain.StageRetry1, domain.StageRetry2, domain.StageRetry3:
		return true
	}
	return false
}

func (o *Orchestrator) sendPaperwork(ctx context.Context, l *domain.Lead) error {
	if l.Stage != domain.StageOfferAccepted || l.Solicitor == nil {
		return nil
	}
	if _, err := o.sendOnce(ctx, l, domain.KindPaperwork, func() (string, error) {
		return o.composer.Paperwork(*l)
	}); err != nil {
		return err
	}
	return o.advance(ctx, l, domain.StagePaperworkSent, "paperwork_sent")
}

func (o *Orchestrator) handOff(ctx context.Context, l *domain.Lead) error {
	if l.Stage != domain.StagePaperworkSent || l.DealID != nil {
		return nil
	}
	if l.OfferAmount == nil {
		return fmt.Errorf("lead %s has no offer amount", l.ID)
	}
	deal := domain.Deal{
		LeadID:          l.ID,
		PurchasePrice:   *l.OfferAmount,
		MarketValue:     l.EstimatedMarketValue,
		RefurbCost:      l.EstimatedRefurbCost,
		ProfitPotential: l.ProfitPotential,
	}
	if l.Solicitor != nil {
		deal.Solicitor = *l.Solicitor
	}
	stored, err := o.store.CreateDeal(ctx, deal)
	if err != nil {
		return fmt.Errorf("create deal: %w", err)
	}
	l.DealID = &stored.ID
	if err := o.advance(ctx, l, domain.StageReadyForInvestors, "deal_created"); err != nil {
		return err
	}
	o.bus.Publish(ctx, events.DealCreated{
		BaseEvent:     events.NewBaseEvent(),
		LeadID:        l.ID,
		DealID:        stored.ID,
		PurchasePrice: stored.PurchasePrice,
	})
	return nil
}

func (o *Orchestrator) expireConversation(ctx context.Context, l *domain.Lead) error {
	if !l.Stage.InConversation() {
		return nil
	}
	if !l.LastSellerActivity().Before(o.now().Add(-o.settings.ConversationTimeout)) {
		return nil
	}
	return o.kill(ctx, l, "conversation_timeout")
}
