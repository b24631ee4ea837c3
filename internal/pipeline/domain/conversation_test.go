package domain

import (
	"testing"

	"acquisition_backend/platform/validator"
)

func ptr[T any](v T) *T { return &v }

func TestMergeRejectsInvalidCondition(t *testing.T) {
	v := validator.New()
	state := ConversationState{}
	state.Extracted.Condition = ptr(ConditionGood)

	res := state.Merge(ExtractedData{Condition: ptr(Condition("destroyed"))}, v)

	if *state.Extracted.Condition != ConditionGood {
		t.Fatalf("expected condition to remain %q, got %q", ConditionGood, *state.Extracted.Condition)
	}
	if _, ok := res.Rejected["condition"]; !ok {
		t.Fatalf("expected condition to be reported as rejected, got %v", res.Rejected)
	}
	if res.Changed() {
		t.Fatalf("expected no applied fields, got %v", res.Applied)
	}
	if state.Version != 1 {
		t.Fatalf("expected version to bump to 1, got %d", state.Version)
	}
}

func TestMergeAppliesValidFieldsAndDropsInvalidOnes(t *testing.T) {
	v := validator.New()
	state := ConversationState{}

	res := state.Merge(ExtractedData{
		Address:         ptr("  12 Acacia Avenue, Leeds "),
		Postcode:        ptr("ls1   4ap"),
		AskingPrice:     ptr(250000.0),
		Bedrooms:        ptr(3),
		PropertyType:    ptr(PropertyType("castle")),
		MotivationScore: ptr(11),
		Timeline:        ptr(TimelineWithin3Months),
	}, v)

	if got := *state.Extracted.Address; got != "12 Acacia Avenue, Leeds" {
		t.Fatalf("expected trimmed address, got %q", got)
	}
	if got := *state.Extracted.Postcode; got != "LS1 4AP" {
		t.Fatalf("expected normalised postcode, got %q", got)
	}
	if state.Extracted.PropertyType != nil {
		t.Fatalf("expected invalid property type to be dropped")
	}
	if state.Extracted.MotivationScore != nil {
		t.Fatalf("expected out-of-range motivation to be dropped")
	}
	if len(res.Rejected) != 2 {
		t.Fatalf("expected 2 rejected fields, got %v", res.Rejected)
	}
	if len(res.Applied) != 5 {
		t.Fatalf("expected 5 applied fields, got %v", res.Applied)
	}
}

func TestMergeNonPositivePriceRejected(t *testing.T) {
	v := validator.New()
	state := ConversationState{}
	state.Extracted.AskingPrice = ptr(200000.0)

	state.Merge(ExtractedData{AskingPrice: ptr(-5.0)}, v)

	if *state.Extracted.AskingPrice != 200000 {
		t.Fatalf("expected asking price unchanged, got %v", *state.Extracted.AskingPrice)
	}
}

func TestMergeSolicitorValidation(t *testing.T) {
	v := validator.New()
	state := ConversationState{}

	res := state.Merge(ExtractedData{Solicitor: &Solicitor{Name: "J", Firm: ""}}, v)
	if state.Extracted.Solicitor != nil || res.Rejected["solicitor"] == "" {
		t.Fatalf("expected incomplete solicitor to be rejected, got %+v", res)
	}

	state.Merge(ExtractedData{Solicitor: &Solicitor{Name: "Jane Smith", Firm: "Smith & Co", Email: "jane@smithco.co.uk"}}, v)
	if state.Extracted.Solicitor == nil || state.Extracted.Solicitor.Firm != "Smith & Co" {
		t.Fatalf("expected solicitor to be captured, got %+v", state.Extracted.Solicitor)
	}
}

func TestIsComplete(t *testing.T) {
	state := ConversationState{}
	if state.IsComplete(12) {
		t.Fatalf("expected empty state to be incomplete")
	}

	state.Exchanges = 12
	if !state.IsComplete(12) {
		t.Fatalf("expected exchange budget to force completion")
	}

	state = ConversationState{Extracted: ExtractedData{
		Address:       ptr("1 High St"),
		Postcode:      ptr("M1 1AA"),
		AskingPrice:   ptr(100000.0),
		Condition:     ptr(ConditionFair),
		SellingReason: ptr(ReasonRelocation),
		Timeline:      ptr(TimelineFlexible),
	}}
	if !state.IsComplete(12) || len(state.MissingFields()) != 0 {
		t.Fatalf("expected fully known state to be complete, missing %v", state.MissingFields())
	}
}
