package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"acquisition_backend/internal/pipeline/domain"
	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/internal/pipeline/repository"
	"acquisition_backend/platform/apperr"
)

func TestRunCycleOpensNewLeadsOnce(t *testing.T) {
	h := newHarness(t)
	l := h.add(domain.Lead{FirstName: "Sam", Phone: sellerPhone, Stage: domain.StageNewLead})

	report := h.cycle(t)
	if got := report.Steps[StepOpening].Processed; got != 1 {
		t.Fatalf("expected 1 opening processed, got %d", got)
	}
	got := h.store.lead(t, l.ID)
	if got.Stage != domain.StageAIConversation {
		t.Fatalf("expected AI_CONVERSATION, got %s", got.Stage)
	}
	if h.gateway.count() != 1 || !strings.Contains(h.gateway.sent[0].body, "Hi Sam") {
		t.Fatalf("expected template opening, got %+v", h.gateway.sent)
	}

	h.cycle(t)
	if h.gateway.count() != 1 {
		t.Fatalf("opening sent twice")
	}
}

func TestValidationSendsOfferOnceAcrossFailedUpdate(t *testing.T) {
	h := newHarness(t)
	l := h.add(dealReadyLead(domain.StageDealValidation))
	h.store.failUpdates = 1

	report := h.cycle(t)
	if got := report.Steps[StepValidation].Failed; got != 1 {
		t.Fatalf("expected failed validation step, got %+v", report.Steps[StepValidation])
	}
	if got := h.store.lead(t, l.ID); got.Stage != domain.StageDealValidation || got.ValidatedAt != nil {
		t.Fatalf("lead should be untouched after failed update, got %s", got.Stage)
	}
	if h.gateway.count() != 1 {
		t.Fatalf("expected offer delivered once, got %d", h.gateway.count())
	}

	h.cycle(t)
	got := h.store.lead(t, l.ID)
	if got.Stage != domain.StageOfferMade {
		t.Fatalf("expected OFFER_MADE, got %s", got.Stage)
	}
	if got.OfferAmount == nil || *got.OfferAmount != 212000 {
		t.Fatalf("expected offer 212000, got %v", got.OfferAmount)
	}
	if got.OfferSentAt == nil || len(got.OfferBreakdown) == 0 {
		t.Fatalf("offer details not stored")
	}
	if h.gateway.count() != 1 {
		t.Fatalf("offer re-sent on retry: %d messages", h.gateway.count())
	}
	if !strings.Contains(h.gateway.sent[0].body, "£212,000") {
		t.Fatalf("unexpected offer text %q", h.gateway.sent[0].body)
	}
}

func TestValidationFailureKillsLead(t *testing.T) {
	h := newHarness(t)
	l := dealReadyLead(domain.StageDealValidation)
	l.AskingPrice = ptr(305000.0)
	l = h.add(l)

	h.cycle(t)
	got := h.store.lead(t, l.ID)
	if got.Stage != domain.StageDeadLead {
		t.Fatalf("expected DEAD_LEAD, got %s", got.Stage)
	}
	if got.DeadReason == nil || !strings.Contains(*got.DeadReason, "BMV") {
		t.Fatalf("expected BMV reason, got %v", got.DeadReason)
	}
	if got.ValidationPassed == nil || *got.ValidationPassed {
		t.Fatalf("expected validation recorded as failed")
	}
	if h.gateway.count() != 0 {
		t.Fatalf("no message expected for a failed deal")
	}
}

func TestValuationOutageLeavesLeadForNextCycle(t *testing.T) {
	h := newHarness(t)
	h.valuation.err = errors.New("connection refused")
	l := h.add(dealReadyLead(domain.StageDealValidation))

	report := h.cycle(t)
	if report.Steps[StepValidation].Failed != 1 {
		t.Fatalf("expected failure counted, got %+v", report.Steps[StepValidation])
	}
	if got := h.store.lead(t, l.ID); got.Stage != domain.StageDealValidation || got.ValidatedAt != nil {
		t.Fatalf("lead should stay pending validation")
	}

	h.valuation.err = nil
	h.cycle(t)
	if got := h.store.lead(t, l.ID); got.Stage != domain.StageOfferMade {
		t.Fatalf("expected OFFER_MADE after recovery, got %s", got.Stage)
	}
}

func TestRetryScheduleRunsToExpiry(t *testing.T) {
	h := newHarness(t)
	l := dealReadyLead(domain.StageVideoSent)
	l.OfferAmount = ptr(212000.0)
	l.NextRetryAt = ptr(h.now.Add(-time.Minute))
	l = h.add(l)

	day := 24 * time.Hour
	steps := []struct {
		advance   time.Duration
		stage     domain.Stage
		retries   int
		nextRetry time.Duration
	}{
		{0, domain.StageRetry1, 1, 5 * day},
		{5 * day, domain.StageRetry2, 2, 7 * day},
		{7 * day, domain.StageRetry3, 3, 3 * day},
	}
	for _, step := range steps {
		h.now = h.now.Add(step.advance)
		h.cycle(t)
		got := h.store.lead(t, l.ID)
		if got.Stage != step.stage || got.RetryCount != step.retries {
			t.Fatalf("expected %s with %d retries, got %s with %d", step.stage, step.retries, got.Stage, got.RetryCount)
		}
		if got.NextRetryAt == nil || !got.NextRetryAt.Equal(h.now.Add(step.nextRetry)) {
			t.Fatalf("%s: unexpected next retry %v", step.stage, got.NextRetryAt)
		}
	}

	// Not yet due: nothing happens.
	h.now = h.now.Add(2 * day)
	h.cycle(t)
	if got := h.store.lead(t, l.ID); got.Stage != domain.StageRetry3 {
		t.Fatalf("lead closed before the deadline")
	}

	h.now = h.now.Add(day)
	h.cycle(t)
	got := h.store.lead(t, l.ID)
	if got.Stage != domain.StageDeadLead || got.DeadReason == nil || *got.DeadReason != "offer_expired" {
		t.Fatalf("expected expired dead lead, got %s %v", got.Stage, got.DeadReason)
	}
	if got.NextRetryAt != nil {
		t.Fatalf("dead lead should not keep a retry time")
	}

	h.now = h.now.Add(30 * day)
	h.cycle(t)
	if h.gateway.count() != 3 {
		t.Fatalf("expected exactly 3 retry messages, got %d", h.gateway.count())
	}
	if !strings.Contains(h.gateway.sent[2].body, "open until") {
		t.Fatalf("final retry should carry the deadline: %q", h.gateway.sent[2].body)
	}
}

func TestStaleConversationsExpire(t *testing.T) {
	h := newHarness(t)
	stale := h.add(domain.Lead{Phone: sellerPhone, Stage: domain.StageAIConversation, StageChangedAt: h.now.Add(-80 * time.Hour)})
	recent := domain.Lead{Phone: "+447400999888", Stage: domain.StageAIConversation, StageChangedAt: h.now.Add(-80 * time.Hour)}
	recent.LastInboundAt = ptr(h.now.Add(-time.Hour))
	recent = h.add(recent)

	h.cycle(t)
	if got := h.store.lead(t, stale.ID); got.Stage != domain.StageDeadLead || *got.DeadReason != "conversation_timeout" {
		t.Fatalf("expected timed-out lead, got %s", got.Stage)
	}
	if got := h.store.lead(t, recent.ID); got.Stage != domain.StageAIConversation {
		t.Fatalf("active conversation should survive, got %s", got.Stage)
	}
}

func TestRunCycleIntakeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	received := h.now.Add(-time.Hour)
	h.intake.facts = []ports.LeadFacts{
		{ExternalID: "crm-1", Source: "crm", FirstName: "Ada", Phone: "07400 123456", Address: "3 Mill Lane", Postcode: "ls2 7hy", PropertyType: "Semi", Condition: "fair", ReceivedAt: received},
		{ExternalID: "crm-2", Source: "crm", FirstName: "Bad", Phone: "12", ReceivedAt: received.Add(time.Minute)},
	}

	report := h.cycle(t)
	if report.Intake.Fetched != 2 || report.Intake.Created != 1 || report.Intake.Rejected != 1 {
		t.Fatalf("unexpected intake report %+v", report.Intake)
	}
	cursor, _ := h.store.GetIntakeCursor(context.Background(), "test")
	if !cursor.Equal(received.Add(time.Minute)) {
		t.Fatalf("cursor not advanced: %v", cursor)
	}

	h.store.cursors["test"] = time.Time{}
	report = h.cycle(t)
	if report.Intake.Created != 0 {
		t.Fatalf("re-fetched lead created twice")
	}

	leads, total, _ := h.store.ListLeads(context.Background(), repository.ListParams{})
	if total != 1 {
		t.Fatalf("expected 1 lead, got %d", total)
	}
	l := leads[0]
	if l.Phone != sellerPhone || l.Postcode != "LS2 7HY" {
		t.Fatalf("intake fields not normalised: %s %s", l.Phone, l.Postcode)
	}
	if l.PropertyType != "" || l.Condition != domain.ConditionFair {
		t.Fatalf("expected invalid type dropped and condition kept, got %q %q", l.PropertyType, l.Condition)
	}
	if l.ConversationState.Extracted.Address == nil {
		t.Fatalf("known facts should seed the conversation state")
	}
}

func TestRunCycleSkipsWhenAnotherCycleHoldsTheLock(t *testing.T) {
	h := newHarness(t)
	held, err := h.locker.Acquire(context.Background(), cycleLockName, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer func() { _ = held.Release(context.Background()) }()

	if _, err := h.o.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("expected ErrCycleInProgress, got %v", err)
	}
}

func TestStepSkipsLeadsLockedByAnotherWorker(t *testing.T) {
	h := newHarness(t)
	l := h.add(domain.Lead{Phone: sellerPhone, Stage: domain.StageNewLead})
	held, err := h.locker.Acquire(context.Background(), "lead:"+l.ID.String(), time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer func() { _ = held.Release(context.Background()) }()

	report := h.cycle(t)
	if report.Steps[StepOpening].Skipped != 1 || h.gateway.count() != 0 {
		t.Fatalf("expected locked lead skipped, got %+v", report.Steps[StepOpening])
	}
}

func TestGatewayFailureDoesNotAdvanceLead(t *testing.T) {
	h := newHarness(t)
	h.gateway.err = errors.New("gateway down")
	l := h.add(domain.Lead{Phone: sellerPhone, Stage: domain.StageNewLead})

	report := h.cycle(t)
	if report.Steps[StepOpening].Failed != 1 {
		t.Fatalf("expected failure, got %+v", report.Steps[StepOpening])
	}
	if got := h.store.lead(t, l.ID); got.Stage != domain.StageNewLead {
		t.Fatalf("lead advanced without a delivered opening")
	}
	if len(h.store.outbound(l.ID)) != 0 {
		t.Fatalf("undelivered message recorded")
	}
}

func TestMapErrorTranslatesDomainErrors(t *testing.T) {
	err := mapError(domain.ValidateTransition(domain.StageDeadLead, domain.StageOfferMade))
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRunCycleKeepsCycleLockDuringLongCycle(t *testing.T) {
	h := newHarness(t)
	h.o.settings.CycleLockTTL = 300 * time.Millisecond
	h.add(domain.Lead{FirstName: "Sam", Phone: sellerPhone, Stage: domain.StageNewLead})

	key := "pipeline:" + cycleLockName
	var extended, held bool
	h.gateway.onSend = func() {
		// Let the lock get close to expiry, then wait for the heartbeat.
		h.redis.FastForward(250 * time.Millisecond)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if h.redis.TTL(key) > 100*time.Millisecond {
				extended = true
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		h.redis.FastForward(250 * time.Millisecond)
		held = h.redis.Exists(key)
	}

	h.cycle(t)
	if !extended || !held {
		t.Fatalf("cycle lock not kept alive: extended=%v held=%v", extended, held)
	}
	if h.redis.Exists(key) {
		t.Fatalf("cycle lock should be released after the cycle")
	}
}
