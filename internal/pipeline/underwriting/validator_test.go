package underwriting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"acquisition_backend/internal/pipeline/domain"
	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/platform/apperr"
)

type fakeValuation struct {
	value float64
	err   error
	calls int
}

func (f *fakeValuation) Estimate(_ context.Context, _ ports.ValuationQuery) (ports.Valuation, error) {
	f.calls++
	if f.err != nil {
		return ports.Valuation{}, f.err
	}
	return ports.Valuation{Value: f.value, Source: "fake"}, nil
}

var defaultThresholds = Thresholds{MinBMVPercent: 15, MaxAskingPrice: 750000, MinProfitPotential: 10000}

func ptr[T any](v T) *T { return &v }

func input(ask float64) Input {
	return Input{
		Address:      "12 Acacia Avenue, Leeds",
		Postcode:     "LS1 4AP",
		AskingPrice:  ptr(ask),
		PropertyType: domain.PropertyTerraced,
		Bedrooms:     ptr(3),
		Condition:    domain.ConditionNeedsWork,
	}
}

func TestValidatePassesAtThirtyPercentBMV(t *testing.T) {
	v := NewValidator(defaultThresholds, &fakeValuation{value: 300000})

	res, err := v.Validate(context.Background(), input(210000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected pass, got notes %q", res.Notes)
	}
	if res.BMVPercent != 30.0 {
		t.Fatalf("expected BMV 30.0, got %v", res.BMVPercent)
	}
	if res.RefurbCost != 30000 {
		t.Fatalf("expected refurb 30000, got %v", res.RefurbCost)
	}
	// 300000 - (210000 + 30000 + 10500)
	if res.ProfitPotential != 49500 {
		t.Fatalf("expected profit 49500, got %v", res.ProfitPotential)
	}
}

func TestValidateFailsWithReasons(t *testing.T) {
	v := NewValidator(defaultThresholds, &fakeValuation{value: 300000})

	res, err := v.Validate(context.Background(), input(290000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Passed {
		t.Fatal("expected failure")
	}
	if res.BMVPercent != 3.33 {
		t.Fatalf("expected BMV 3.33, got %v", res.BMVPercent)
	}
	if len(res.Reasons) != 2 {
		t.Fatalf("expected BMV and profit reasons, got %v", res.Reasons)
	}
	if !strings.Contains(res.Notes, "BMV 3.33% below minimum 15.00%") || !strings.Contains(res.Notes, "profit potential") {
		t.Fatalf("unexpected notes %q", res.Notes)
	}
}

func TestValidateBelowThresholdBMV(t *testing.T) {
	tests := []struct {
		name   string
		ask    float64
		value  float64
		bmv    float64
		reason string
	}{
		{"half million ask on 520k value", 500000, 520000, 3.85, "BMV 3.85% below minimum 15.00%"},
		{"just under threshold", 256000, 300000, 14.67, "BMV 14.67% below minimum 15.00%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewValidator(defaultThresholds, &fakeValuation{value: tt.value}).Validate(context.Background(), input(tt.ask))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Passed {
				t.Fatal("expected failure")
			}
			if res.BMVPercent != tt.bmv {
				t.Fatalf("expected BMV %v, got %v", tt.bmv, res.BMVPercent)
			}
			found := false
			for _, r := range res.Reasons {
				if strings.Contains(r, tt.reason) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected reason %q, got %v", tt.reason, res.Reasons)
			}
		})
	}
}

func TestValidateRejectsExcludedTypesAndExpensiveProperties(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		value  float64
		reason string
	}{
		{"land", func(in *Input) { in.PropertyType = domain.PropertyLand }, 300000, "property type land is excluded"},
		{"commercial", func(in *Input) { in.PropertyType = domain.PropertyCommercial }, 300000, "property type commercial is excluded"},
		{"too expensive", func(in *Input) { in.AskingPrice = ptr(800000.0) }, 1200000, "asking price £800,000 above maximum £750,000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(210000)
			tt.mutate(&in)
			res, err := NewValidator(defaultThresholds, &fakeValuation{value: tt.value}).Validate(context.Background(), in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Passed {
				t.Fatal("expected failure")
			}
			if !strings.Contains(res.Notes, tt.reason) {
				t.Fatalf("expected %q in notes %q", tt.reason, res.Notes)
			}
		})
	}
}

func TestValidateMissingDataSkipsValuation(t *testing.T) {
	lookup := &fakeValuation{value: 300000}
	in := input(210000)
	in.AskingPrice = nil
	in.Postcode = ""

	res, err := NewValidator(defaultThresholds, lookup).Validate(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Passed || res.Notes != "missing postcode, asking price" {
		t.Fatalf("unexpected result %+v", res)
	}
	if lookup.calls != 0 {
		t.Fatalf("expected no valuation call, got %d", lookup.calls)
	}
}

func TestValidateDistinguishesNoEstimateFromOutage(t *testing.T) {
	res, err := NewValidator(defaultThresholds, &fakeValuation{err: fmt.Errorf("lookup: %w", ports.ErrNoEstimate)}).
		Validate(context.Background(), input(210000))
	if err != nil {
		t.Fatalf("no estimate should not be an error: %v", err)
	}
	if res.Passed || res.Notes != "market valuation unavailable" {
		t.Fatalf("unexpected result %+v", res)
	}

	_, err = NewValidator(defaultThresholds, &fakeValuation{err: context.DeadlineExceeded}).
		Validate(context.Background(), input(210000))
	if !errors.Is(err, ErrValuationUnavailable) {
		t.Fatalf("expected ErrValuationUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
	if apperr.GetKind(err) != apperr.KindUnavailable {
		t.Fatalf("expected unavailable kind, got %v", apperr.GetKind(err))
	}
}

func TestRefurbEstimate(t *testing.T) {
	tests := []struct {
		condition domain.Condition
		beds      *int
		ptype     domain.PropertyType
		want      float64
	}{
		{domain.ConditionExcellent, ptr(3), domain.PropertyDetached, 0},
		{domain.ConditionGood, ptr(1), domain.PropertyFlat, 2800},
		{domain.ConditionFair, ptr(2), domain.PropertySemiDetached, 14025},
		{domain.ConditionNeedsWork, ptr(3), domain.PropertyTerraced, 30000},
		{domain.ConditionPoor, ptr(5), domain.PropertyDetached, 81250},
		{"", nil, domain.PropertyOther, 15000},
	}
	for _, tt := range tests {
		got := RefurbEstimate(tt.condition, tt.beds, tt.ptype).InexactFloat64()
		if got != tt.want {
			t.Fatalf("RefurbEstimate(%s, %v, %s): expected %v, got %v", tt.condition, tt.beds, tt.ptype, tt.want, got)
		}
	}
}
