package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"acquisition_backend/internal/pipeline/agent"
	"acquisition_backend/internal/pipeline/domain"
	"acquisition_backend/platform/apperr"
)

func TestHandleInboundCompletesConversation(t *testing.T) {
	h := newHarness(t)
	l := h.add(dealReadyLead(domain.StageAIConversation))
	h.provider.set(`{"reply":"Thanks Priya, that's everything I need.","intent":"provide_info",
		"extracted":{"sellingReason":"relocation","timeline":"within 1 month"},"motivationScore":9}`, nil)

	res := h.inbound(t, "wamid-1", "We're moving for work, need to sell within a month")
	if res.Status != InboundProcessed || res.Stage != domain.StageDealValidation {
		t.Fatalf("unexpected result %+v", res)
	}

	got := h.store.lead(t, l.ID)
	state := got.ConversationState
	if state.CompletedAt == nil || state.Exchanges != 1 {
		t.Fatalf("conversation not completed: %+v", state)
	}
	if state.Extracted.Timeline == nil || *state.Extracted.Timeline != domain.TimelineWithin1Month {
		t.Fatalf("timeline not merged: %v", state.Extracted.Timeline)
	}
	if got.MotivationScore == nil || *got.MotivationScore != 9 {
		t.Fatalf("motivation not absorbed: %v", got.MotivationScore)
	}

	out := h.store.outbound(l.ID)
	if len(out) != 1 || out[0].InReplyTo == nil {
		t.Fatalf("expected one reply linked to the inbound message, got %+v", out)
	}
	if h.gateway.sent[0].to != sellerPhone {
		t.Fatalf("reply sent to %q", h.gateway.sent[0].to)
	}
}

func TestHandleInboundDeduplicatesRedelivery(t *testing.T) {
	h := newHarness(t)
	h.add(domain.Lead{Phone: sellerPhone, Stage: domain.StageAIConversation})
	h.provider.set(`{"reply":"Thanks, what condition is it in?","intent":"provide_info","extracted":{}}`, nil)

	h.inbound(t, "wamid-7", "hello")
	res := h.inbound(t, "wamid-7", "hello")
	if res.Status != InboundDuplicate {
		t.Fatalf("expected duplicate, got %s", res.Status)
	}
	if h.provider.calls != 1 || h.gateway.count() != 1 {
		t.Fatalf("redelivery reprocessed: %d calls, %d sends", h.provider.calls, h.gateway.count())
	}
}

func TestHandleInboundRejectsInvalidExtraction(t *testing.T) {
	h := newHarness(t)
	l := h.add(domain.Lead{Phone: sellerPhone, Stage: domain.StageAIConversation})
	h.provider.set(`{"reply":"Got it. And the asking price?","intent":"provide_info",
		"extracted":{"condition":"destroyed","address":"4 Elm Row, York","postcode":"yo1 7hh"}}`, nil)

	h.inbound(t, "wamid-2", "4 Elm Row YO1 7HH, it's destroyed")

	got := h.store.lead(t, l.ID)
	e := got.ConversationState.Extracted
	if e.Condition != nil {
		t.Fatalf("invalid condition merged: %v", *e.Condition)
	}
	if e.Postcode == nil || *e.Postcode != "YO1 7HH" || got.Address != "4 Elm Row, York" {
		t.Fatalf("valid fields not merged: %+v", e)
	}
	if got.Stage != domain.StageAIConversation {
		t.Fatalf("incomplete conversation advanced to %s", got.Stage)
	}
}

func TestHandleInboundUnknownSender(t *testing.T) {
	h := newHarness(t)
	res, err := h.o.HandleInbound(context.Background(), InboundMessage{ProviderMessageID: "x1", From: "+447700900123", Body: "hi"})
	if err != nil || res.Status != InboundUnknownSender {
		t.Fatalf("expected unknown sender, got %+v %v", res, err)
	}
}

func TestHandleInboundRequiresProviderID(t *testing.T) {
	h := newHarness(t)
	if _, err := h.o.HandleInbound(context.Background(), InboundMessage{From: sellerPhone, Body: "hi"}); err == nil {
		t.Fatalf("expected error for missing provider id")
	}
}

func TestHandleInboundUnparseableModelOutput(t *testing.T) {
	h := newHarness(t)
	l := h.add(domain.Lead{FirstName: "Ola", Phone: sellerPhone, Stage: domain.StageAIConversation})
	h.provider.set("Sure! Let me think about that.", nil)

	h.inbound(t, "wamid-3", "is this a scam?")

	got := h.store.lead(t, l.ID)
	if got.ConversationState.ParseFailures != 1 {
		t.Fatalf("parse failure not counted")
	}
	if !strings.Contains(h.gateway.sent[0].body, "Thanks Ola") {
		t.Fatalf("expected safe reply, got %q", h.gateway.sent[0].body)
	}
}

func TestHandleInboundRejectionStartsFollowUps(t *testing.T) {
	h := newHarness(t)
	l := dealReadyLead(domain.StageOfferMade)
	l.OfferAmount = ptr(212000.0)
	l = h.add(l)
	h.provider.set(`{"reply":"I understand.","intent":"reject_offer","extracted":{}}`, nil)

	res := h.inbound(t, "wamid-4", "That's far too low, no thanks")
	if res.Intent != agent.IntentRejectOffer {
		t.Fatalf("expected reject intent, got %s", res.Intent)
	}

	got := h.store.lead(t, l.ID)
	if got.Stage != domain.StageVideoSent {
		t.Fatalf("expected VIDEO_SENT, got %s", got.Stage)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(h.now.Add(48*time.Hour)) {
		t.Fatalf("first retry not scheduled: %v", got.NextRetryAt)
	}
	if got.RejectionReason == nil || *got.RejectionReason != "That's far too low, no thanks" {
		t.Fatalf("rejection reason not stored: %v", got.RejectionReason)
	}
	if h.gateway.count() != 1 || !strings.Contains(h.gateway.sent[0].body, "https://example.com/video") {
		t.Fatalf("expected objection with video, got %+v", h.gateway.sent)
	}
}

func TestAcceptancePathToInvestorHandoff(t *testing.T) {
	h := newHarness(t)
	l := dealReadyLead(domain.StageRetry2)
	l.OfferAmount = ptr(212000.0)
	l.EstimatedMarketValue = ptr(310000.0)
	l.RetryCount = 2
	l.NextRetryAt = ptr(h.now.Add(24 * time.Hour))
	l = h.add(l)

	res := h.inbound(t, "wamid-10", "Yes!")
	if res.Stage != domain.StageOfferAccepted || h.provider.calls != 0 {
		t.Fatalf("keyword acceptance should bypass the agent: %+v, %d calls", res, h.provider.calls)
	}
	if got := h.store.lead(t, l.ID); got.NextRetryAt != nil || got.OfferAcceptedAt == nil {
		t.Fatalf("acceptance should stop follow-ups")
	}

	h.provider.set(`{"reply":"Perfect, thank you.","intent":"provide_info",
		"extracted":{"solicitor":{"name":"Jane Okafor","firm":"Okafor Legal","email":"jane@okafor.co.uk"}}}`, nil)
	h.inbound(t, "wamid-11", "Jane Okafor at Okafor Legal, jane@okafor.co.uk")
	if got := h.store.lead(t, l.ID); got.Solicitor == nil || got.Solicitor.Firm != "Okafor Legal" {
		t.Fatalf("solicitor not captured")
	}

	h.cycle(t)
	got := h.store.lead(t, l.ID)
	if got.Stage != domain.StageReadyForInvestors || got.DealID == nil {
		t.Fatalf("expected hand-off, got %s", got.Stage)
	}
	deal, err := h.store.GetDealByLead(context.Background(), l.ID)
	if err != nil || deal.PurchasePrice != 212000 || deal.Solicitor.Name != "Jane Okafor" {
		t.Fatalf("unexpected deal %+v %v", deal, err)
	}
	if h.gateway.count() != 3 || !strings.Contains(h.gateway.sent[2].body, "Okafor Legal") {
		t.Fatalf("expected solicitor request, reply and paperwork, got %+v", h.gateway.sent)
	}

	h.cycle(t)
	if h.gateway.count() != 3 {
		t.Fatalf("hand-off repeated")
	}
}

func TestHandleInboundOptOut(t *testing.T) {
	h := newHarness(t)
	l := h.add(domain.Lead{Phone: sellerPhone, Stage: domain.StageAIConversation})

	res := h.inbound(t, "wamid-20", "stop")
	if res.Stage != domain.StageDeadLead || res.Intent != agent.IntentOptOut {
		t.Fatalf("unexpected result %+v", res)
	}
	got := h.store.lead(t, l.ID)
	if got.DeadReason == nil || *got.DeadReason != reasonOptOut {
		t.Fatalf("expected opt_out reason, got %v", got.DeadReason)
	}

	h.inbound(t, "wamid-21", "hello?")
	if h.gateway.count() != 0 || h.provider.calls != 0 {
		t.Fatalf("opted-out seller must not be messaged")
	}
}

func TestHandleInboundOptOutAfterAcceptanceIsLeftForOperator(t *testing.T) {
	h := newHarness(t)
	l := h.add(domain.Lead{Phone: sellerPhone, Stage: domain.StageOfferAccepted})

	h.inbound(t, "wamid-30", "STOP")
	if got := h.store.lead(t, l.ID); got.Stage != domain.StageOfferAccepted {
		t.Fatalf("accepted lead closed automatically: %s", got.Stage)
	}
}

func TestHandleInboundDeadLeadGetsAcknowledgement(t *testing.T) {
	h := newHarness(t)
	reason := "offer_expired"
	h.add(domain.Lead{FirstName: "Kit", Phone: sellerPhone, Stage: domain.StageDeadLead, DeadReason: &reason})

	h.inbound(t, "wamid-40", "is the offer still open?")
	if h.gateway.count() != 1 || !strings.Contains(h.gateway.sent[0].body, "in touch") {
		t.Fatalf("expected acknowledgement, got %+v", h.gateway.sent)
	}
}

func TestHandleInboundDeliveryFailureIsRetriable(t *testing.T) {
	h := newHarness(t)
	l := h.add(domain.Lead{Phone: sellerPhone, Stage: domain.StageAIConversation})
	h.provider.set(`{"reply":"Thanks! What's the address?","intent":"provide_info","extracted":{}}`, nil)
	h.gateway.err = errors.New("503")

	_, err := h.o.HandleInbound(context.Background(), InboundMessage{ProviderMessageID: "wamid-50", From: sellerPhone, Body: "hi"})
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if seen, _ := h.store.HasProviderMessage(context.Background(), "wamid-50"); seen {
		t.Fatalf("inbound recorded before the reply was delivered")
	}

	h.gateway.err = nil
	h.inbound(t, "wamid-50", "hi")
	got := h.store.lead(t, l.ID)
	if got.ConversationState.Exchanges != 1 || h.gateway.count() != 1 {
		t.Fatalf("retry should process the message exactly once")
	}
}

func TestHandleInboundProviderOutageStillReplies(t *testing.T) {
	h := newHarness(t)
	h.add(domain.Lead{FirstName: "Max", Phone: sellerPhone, Stage: domain.StageAIConversation})
	h.provider.set("", errors.New("timeout"))

	res := h.inbound(t, "wamid-60", "hello")
	if res.Stage != domain.StageAIConversation {
		t.Fatalf("unexpected stage %s", res.Stage)
	}
	if h.gateway.count() != 1 || !strings.Contains(h.gateway.sent[0].body, "Thanks Max") {
		t.Fatalf("expected fallback acknowledgement, got %+v", h.gateway.sent)
	}
}

func TestHandleInboundFailedUpdateLeavesMessageRetriable(t *testing.T) {
	h := newHarness(t)
	l := dealReadyLead(domain.StageOfferMade)
	l.OfferAmount = ptr(212000.0)
	l = h.add(l)
	h.store.failUpdates = 1

	msg := InboundMessage{ProviderMessageID: "wamid-70", From: sellerPhone, Body: "YES"}
	if _, err := h.o.HandleInbound(context.Background(), msg); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict from the failed update, got %v", err)
	}
	if seen, _ := h.store.HasProviderMessage(context.Background(), "wamid-70"); seen {
		t.Fatalf("inbound message kept after the lead update failed")
	}
	if len(h.store.outbound(l.ID)) != 0 {
		t.Fatalf("reply recorded after the lead update failed")
	}

	res := h.inbound(t, "wamid-70", "YES")
	if res.Status != InboundProcessed || res.Stage != domain.StageOfferAccepted {
		t.Fatalf("redelivery should apply the acceptance, got %+v", res)
	}
	got := h.store.lead(t, l.ID)
	if got.OfferAcceptedAt == nil {
		t.Fatalf("acceptance time not stored")
	}
	out := h.store.outbound(l.ID)
	if len(out) != 1 || out[0].Kind != domain.KindSolicitorRequest {
		t.Fatalf("expected one solicitor request in the log, got %+v", out)
	}
	if seen, _ := h.store.HasProviderMessage(context.Background(), "wamid-70"); !seen {
		t.Fatalf("inbound message not recorded with the accepted lead")
	}
}
