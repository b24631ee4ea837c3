package offer

import (
	"errors"
	"testing"
)

var defaultSettings = Settings{BasePercentage: 80, MaxPercentage: 85, RoundingIncrement: 1000}

func score(n int) *int { return &n }

func TestCalculateFullBreakdown(t *testing.T) {
	// Asking 250k, MV 310k, needs_work 3-bed terrace (refurb 30k), motivation 8.
	b, err := NewEngine(defaultSettings).Calculate(Input{
		MarketValue:     310000,
		AskingPrice:     250000,
		RefurbCost:      30000,
		MotivationScore: score(8),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"base", b.Base, 248000},
		{"condition adjustment", b.ConditionAdjustment, -30000},
		{"motivation bonus", b.MotivationBonus, 3000},
		{"attractiveness bonus", b.AttractivenessBonus, 1500},
		{"provisional", b.Provisional, 222500},
		{"after cap", b.AfterCap, 212500},
		{"after floor", b.AfterFloor, 212500},
		{"final", b.Final, 212000},
		{"percentage", b.Percentage, 84.8},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
	if !b.CapApplied {
		t.Error("expected cap to be applied")
	}
	if b.ProfitFloorApplied {
		t.Error("expected profit floor not to be applied")
	}
}

func TestCalculateNeverExceedsCap(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"deep discount", Input{MarketValue: 400000, AskingPrice: 200000, MotivationScore: score(9)}},
		{"asking above market", Input{MarketValue: 300000, AskingPrice: 320000, RefurbCost: 5000}},
		{"tiny ask", Input{MarketValue: 1000000, AskingPrice: 5000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewEngine(defaultSettings).Calculate(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.Final > tt.in.AskingPrice {
				t.Fatalf("offer %v exceeds asking %v", b.Final, tt.in.AskingPrice)
			}
			if b.Final > tt.in.AskingPrice*0.85 {
				t.Fatalf("offer %v exceeds 85%% of asking %v", b.Final, tt.in.AskingPrice)
			}
		})
	}
}

func TestCalculateRoundsToNearestIncrement(t *testing.T) {
	// 240000 - 5000 + 500 = 235500, below the 238000 cap, so it rounds half up.
	b, err := NewEngine(defaultSettings).Calculate(Input{MarketValue: 300000, AskingPrice: 280000, RefurbCost: 5000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.CapApplied {
		t.Fatal("cap should not apply")
	}
	if b.Final != 236000 {
		t.Fatalf("expected 236000, got %v", b.Final)
	}
}

func TestCalculateAppliesProfitFloor(t *testing.T) {
	b, err := NewEngine(defaultSettings).Calculate(Input{MarketValue: 80000, AskingPrice: 79000, MotivationScore: score(9)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.ProfitFloorApplied {
		t.Fatal("expected profit floor to apply")
	}
	if b.AfterFloor != 61904.76 {
		t.Fatalf("expected floor ceiling 61904.76, got %v", b.AfterFloor)
	}
	// 62000 would leave less than the floor, so it rounds down.
	if b.Final != 61000 {
		t.Fatalf("expected 61000, got %v", b.Final)
	}
	if b.EstimatedProfit < 15000 {
		t.Fatalf("expected profit >= 15000, got %v", b.EstimatedProfit)
	}
}

func TestCalculateNotViable(t *testing.T) {
	_, err := NewEngine(defaultSettings).Calculate(Input{MarketValue: 20000, AskingPrice: 19000, RefurbCost: 50000})
	if !errors.Is(err, ErrOfferNotViable) {
		t.Fatalf("expected ErrOfferNotViable, got %v", err)
	}

	_, err = NewEngine(defaultSettings).Calculate(Input{MarketValue: 0, AskingPrice: 19000})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMotivationBonus(t *testing.T) {
	tests := []struct {
		score *int
		want  int64
	}{
		{nil, 500},
		{score(1), 500},
		{score(5), 1500},
		{score(7), 3000},
		{score(9), 5000},
		{score(10), 5000},
	}
	for _, tt := range tests {
		if got := MotivationBonus(tt.score).IntPart(); got != tt.want {
			t.Fatalf("MotivationBonus(%v): expected %d, got %d", tt.score, tt.want, got)
		}
	}
}
