package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"acquisition_backend/internal/events"
	"acquisition_backend/internal/pipeline/agent"
	"acquisition_backend/internal/pipeline/domain"
	"acquisition_backend/internal/pipeline/offer"
	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/internal/pipeline/repository"
	"acquisition_backend/internal/pipeline/underwriting"
	"acquisition_backend/platform/lock"
	"acquisition_backend/platform/logger"
	"acquisition_backend/platform/metrics"
	"acquisition_backend/platform/phone"
	"acquisition_backend/platform/validator"
)

// memStore is an in-memory repository.Store.
type memStore struct {
	mu       sync.Mutex
	leads    map[uuid.UUID]domain.Lead
	messages []domain.Message
	deals    map[uuid.UUID]domain.Deal
	cursors  map[string]time.Time

	failUpdates int
}

func newMemStore() *memStore {
	return &memStore{
		leads:   make(map[uuid.UUID]domain.Lead),
		deals:   make(map[uuid.UUID]domain.Deal),
		cursors: make(map[string]time.Time),
	}
}

func (s *memStore) put(l domain.Lead) domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Version == 0 {
		l.Version = 1
	}
	s.leads[l.ID] = l
	return l
}

func (s *memStore) lead(t *testing.T, id uuid.UUID) domain.Lead {
	t.Helper()
	l, err := s.GetLead(context.Background(), id)
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	return l
}

func (s *memStore) outbound(leadID uuid.UUID) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.LeadID == leadID && m.Direction == domain.DirectionOutbound {
			out = append(out, m)
		}
	}
	return out
}

func (s *memStore) GetLead(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, repository.ErrNotFound
	}
	return l, nil
}

func (s *memStore) FindLeadByPhone(_ context.Context, phone string) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.Lead
	for _, l := range s.leads {
		if l.Phone != phone {
			continue
		}
		l := l
		if best == nil || (best.Stage.IsTerminal() && !l.Stage.IsTerminal()) || l.CreatedAt.After(best.CreatedAt) {
			best = &l
		}
	}
	if best == nil {
		return domain.Lead{}, repository.ErrNotFound
	}
	return *best, nil
}

func (s *memStore) ListLeads(_ context.Context, params repository.ListParams) ([]domain.Lead, int, error) {
	leads := s.filter(func(l domain.Lead) bool {
		return (params.Stage == nil || l.Stage == *params.Stage) && (params.Phone == "" || l.Phone == params.Phone)
	})
	return leads, len(leads), nil
}

func (s *memStore) CountByStage(context.Context) (map[domain.Stage]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.Stage]int)
	for _, l := range s.leads {
		counts[l.Stage]++
	}
	return counts, nil
}

func (s *memStore) CreateLead(_ context.Context, lead domain.Lead) (domain.Lead, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead.ExternalID != nil {
		for _, l := range s.leads {
			if l.ExternalID != nil && *l.ExternalID == *lead.ExternalID {
				return l, false, nil
			}
		}
	}
	lead.ID = uuid.New()
	lead.Version = 1
	lead.CreatedAt = time.Now()
	lead.StageChangedAt = lead.CreatedAt
	s.leads[lead.ID] = lead
	return lead, true, nil
}

func (s *memStore) UpdateLead(_ context.Context, lead *domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates > 0 {
		s.failUpdates--
		return repository.ErrVersionConflict
	}
	current, ok := s.leads[lead.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Version != lead.Version {
		return repository.ErrVersionConflict
	}
	lead.Version++
	s.leads[lead.ID] = *lead
	return nil
}

func (s *memStore) filter(match func(domain.Lead) bool) []domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Lead, 0)
	for _, l := range s.leads {
		if match(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memStore) ListNewLeads(context.Context, int) ([]domain.Lead, error) {
	return s.filter(func(l domain.Lead) bool { return l.Stage == domain.StageNewLead }), nil
}

func (s *memStore) ListPendingValidation(context.Context, int) ([]domain.Lead, error) {
	return s.filter(func(l domain.Lead) bool {
		return l.Stage == domain.StageDealValidation && l.ValidatedAt == nil
	}), nil
}

func (s *memStore) ListDueRetries(_ context.Context, now time.Time, _ int) ([]domain.Lead, error) {
	return s.filter(func(l domain.Lead) bool {
		return isRetryLoop(l.Stage) && l.NextRetryAt != nil && !l.NextRetryAt.After(now)
	}), nil
}

func (s *memStore) ListAwaitingPaperwork(context.Context, int) ([]domain.Lead, error) {
	return s.filter(func(l domain.Lead) bool {
		return l.Stage == domain.StageOfferAccepted && l.Solicitor != nil
	}), nil
}

func (s *memStore) ListAwaitingDeal(context.Context, int) ([]domain.Lead, error) {
	return s.filter(func(l domain.Lead) bool {
		return l.Stage == domain.StagePaperworkSent && l.DealID == nil
	}), nil
}

func (s *memStore) ListStale(_ context.Context, inactiveSince time.Time, _ int) ([]domain.Lead, error) {
	return s.filter(func(l domain.Lead) bool {
		return l.Stage.InConversation() && l.LastSellerActivity().Before(inactiveSince)
	}), nil
}

func (s *memStore) AppendMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isDuplicate(msg) {
		return domain.Message{}, repository.ErrDuplicateMessage
	}
	return s.appendLocked(msg), nil
}

func (s *memStore) isDuplicate(msg domain.Message) bool {
	for _, m := range s.messages {
		if msg.ProviderMessageID != nil && m.ProviderMessageID != nil && *m.ProviderMessageID == *msg.ProviderMessageID {
			return true
		}
		if msg.Kind.IsStageEntry() && m.LeadID == msg.LeadID && m.Kind == msg.Kind {
			return true
		}
	}
	return false
}

func (s *memStore) appendLocked(msg domain.Message) domain.Message {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = time.Now()
	s.messages = append(s.messages, msg)
	return msg
}

// CommitTurn checks everything before writing anything, matching the
// transactional repository.
func (s *memStore) CommitTurn(_ context.Context, lead *domain.Lead, msgs []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates > 0 {
		s.failUpdates--
		return repository.ErrVersionConflict
	}
	current, ok := s.leads[lead.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Version != lead.Version {
		return repository.ErrVersionConflict
	}
	var keep []domain.Message
	for _, m := range msgs {
		if s.isDuplicate(m) {
			if m.Direction == domain.DirectionOutbound {
				continue
			}
			return repository.ErrDuplicateMessage
		}
		keep = append(keep, m)
	}
	for _, m := range keep {
		s.appendLocked(m)
	}
	lead.Version++
	s.leads[lead.ID] = *lead
	return nil
}

func (s *memStore) ListMessages(_ context.Context, leadID uuid.UUID, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.LeadID == leadID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) HasMessageKind(_ context.Context, leadID uuid.UUID, kind domain.MessageKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.LeadID == leadID && m.Kind == kind && m.Direction == domain.DirectionOutbound {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) HasProviderMessage(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ProviderMessageID != nil && *m.ProviderMessageID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CreateDeal(_ context.Context, deal domain.Deal) (domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.deals[deal.LeadID]; ok {
		return existing, nil
	}
	deal.ID = uuid.New()
	s.deals[deal.LeadID] = deal
	return deal, nil
}

func (s *memStore) GetDealByLead(_ context.Context, leadID uuid.UUID) (domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[leadID]
	if !ok {
		return domain.Deal{}, repository.ErrNotFound
	}
	return d, nil
}

func (s *memStore) GetIntakeCursor(_ context.Context, source string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[source], nil
}

func (s *memStore) SaveIntakeCursor(_ context.Context, source string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[source] = at
	return nil
}

type sentMessage struct {
	to   string
	body string
}

type fakeGateway struct {
	mu     sync.Mutex
	sent   []sentMessage
	err    error
	onSend func()
}

func (g *fakeGateway) Send(_ context.Context, to, body string) (ports.SendResult, error) {
	if g.onSend != nil {
		g.onSend()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return ports.SendResult{}, g.err
	}
	g.sent = append(g.sent, sentMessage{to: to, body: body})
	return ports.SendResult{MessageID: fmt.Sprintf("out-%d", len(g.sent)), Status: "sent"}, nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type scriptedProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Respond(context.Context, ports.InferenceRequest) (ports.InferenceResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return ports.InferenceResponse{}, p.err
	}
	return ports.InferenceResponse{Text: p.reply, TokensUsed: 25}, nil
}

func (p *scriptedProvider) set(reply string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reply, p.err = reply, err
}

type fakeValuation struct {
	value float64
	err   error
}

func (v *fakeValuation) Estimate(context.Context, ports.ValuationQuery) (ports.Valuation, error) {
	if v.err != nil {
		return ports.Valuation{}, v.err
	}
	return ports.Valuation{Value: v.value, Source: "fake"}, nil
}

type fakeIntake struct {
	facts []ports.LeadFacts
	since []time.Time
}

func (f *fakeIntake) FetchSince(_ context.Context, since time.Time) ([]ports.LeadFacts, error) {
	f.since = append(f.since, since)
	var out []ports.LeadFacts
	for _, lf := range f.facts {
		if lf.ReceivedAt.After(since) {
			out = append(out, lf)
		}
	}
	return out, nil
}

type harness struct {
	o         *Orchestrator
	store     *memStore
	gateway   *fakeGateway
	provider  *scriptedProvider
	valuation *fakeValuation
	intake    *fakeIntake
	locker    *lock.Locker
	redis     *miniredis.Miniredis
	now       time.Time
}

const sellerPhone = "+447400123456"

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		store:     newMemStore(),
		gateway:   &fakeGateway{},
		provider:  &scriptedProvider{err: errors.New("not scripted")},
		valuation: &fakeValuation{value: 310000},
		intake:    &fakeIntake{},
		locker:    lock.NewLocker(client, "pipeline"),
		redis:     mr,
		now:       time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	log := logger.Discard()
	composer, err := offer.NewComposer(offer.ComposerConfig{CompanyName: "Keyway Homes", VideoURL: "https://example.com/video"})
	if err != nil {
		t.Fatalf("composer: %v", err)
	}
	day := 24 * time.Hour
	h.o = NewOrchestrator(Deps{
		Store:       h.store,
		Gateway:     h.gateway,
		Agent:       agent.New(h.provider, composer, agent.Config{CompanyName: "Keyway Homes"}, log),
		Underwriter: underwriting.NewValidator(underwriting.Thresholds{MinBMVPercent: 15, MaxAskingPrice: 750000, MinProfitPotential: 10000}, h.valuation),
		Pricer:      offer.NewEngine(offer.Settings{BasePercentage: 80, MaxPercentage: 85, RoundingIncrement: 1000}),
		Composer:    composer,
		Schedule:    offer.NewRetrySchedule([]time.Duration{2 * day, 5 * day, 7 * day}, 3*day, 3),
		Intake:      h.intake,
		Locker:      h.locker,
		Bus:         events.NewInMemoryBus(log),
		Metrics:     metrics.New(),
		Validator:   validator.New(),
		Phone:       phone.NewNormalizer("GB"),
		Log:         log,
		Clock:       func() time.Time { return h.now },
	}, Settings{Workers: 2, IntakeSource: "test", LeadLockWait: time.Second})
	return h
}

func (h *harness) cycle(t *testing.T) CycleReport {
	t.Helper()
	report, err := h.o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	return report
}

func (h *harness) inbound(t *testing.T, id, body string) InboundResult {
	t.Helper()
	res, err := h.o.HandleInbound(context.Background(), InboundMessage{ProviderMessageID: id, From: "07400 123456", Body: body})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	return res
}

func ptr[T any](v T) *T { return &v }

// dealReadyLead has every fact underwriting needs.
func dealReadyLead(stage domain.Stage) domain.Lead {
	l := domain.Lead{
		FirstName:       "Priya",
		Phone:           sellerPhone,
		Address:         "12 Acacia Avenue, Leeds",
		Postcode:        "LS1 4AP",
		AskingPrice:     ptr(250000.0),
		PropertyType:    domain.PropertyTerraced,
		Bedrooms:        ptr(3),
		Condition:       domain.ConditionNeedsWork,
		MotivationScore: ptr(8),
		Stage:           stage,
	}
	l.SeedExtraction()
	return l
}

// add stores l as if it had entered its stage at the harness clock.
func (h *harness) add(l domain.Lead) domain.Lead {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = h.now
	}
	if l.StageChangedAt.IsZero() {
		l.StageChangedAt = h.now
	}
	return h.store.put(l)
}
