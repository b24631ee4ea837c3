// Package offer prices cash offers and composes the negotiation messages that follow them.
package offer

import (
	"errors"

	"github.com/shopspring/decimal"

	"acquisition_backend/internal/pipeline/underwriting"
)

var (
	// ErrOfferNotViable is returned when the priced offer is zero or negative.
	ErrOfferNotViable = errors.New("offer not viable")
	// ErrInvalidInput is returned when market value or asking price is missing.
	ErrInvalidInput = errors.New("offer requires positive market value and asking price")
)

// MinProfitFloor is the least profit an offer may leave after refurb and costs.
var MinProfitFloor = decimal.NewFromInt(15000)

var (
	hundred        = decimal.NewFromInt(100)
	onePlusCosts   = decimal.NewFromInt(1).Add(underwriting.TransactionCostRate)
	strongDiscount = decimal.NewFromFloat(0.75)
	fairDiscount   = decimal.NewFromFloat(0.85)
)

// Settings are the configurable pricing parameters.
type Settings struct {
	BasePercentage    float64
	MaxPercentage     float64
	RoundingIncrement float64
}

// Input is everything pricing depends on.
type Input struct {
	MarketValue     float64
	AskingPrice     float64
	RefurbCost      float64
	MotivationScore *int
}

// Breakdown records each pricing step for audit.
type Breakdown struct {
	Base                float64 `json:"base"`
	ConditionAdjustment float64 `json:"conditionAdjustment"`
	MotivationBonus     float64 `json:"motivationBonus"`
	AttractivenessBonus float64 `json:"attractivenessBonus"`
	Provisional         float64 `json:"provisional"`
	CapApplied          bool    `json:"capApplied"`
	AfterCap            float64 `json:"afterCap"`
	ProfitFloorApplied  bool    `json:"profitFloorApplied"`
	AfterFloor          float64 `json:"afterFloor"`
	Final               float64 `json:"final"`
	Percentage          float64 `json:"percentage"`
	EstimatedProfit     float64 `json:"estimatedProfit"`
}

type Engine struct {
	settings Settings
}

func NewEngine(settings Settings) *Engine {
	return &Engine{settings: settings}
}

// Calculate prices an offer. The result never exceeds the asking price or
// AskingPrice x MaxPercentage/100, and never leaves less than MinProfitFloor.
func (e *Engine) Calculate(in Input) (Breakdown, error) {
	if in.MarketValue <= 0 || in.AskingPrice <= 0 {
		return Breakdown{}, ErrInvalidInput
	}
	mv := decimal.NewFromFloat(in.MarketValue)
	ask := decimal.NewFromFloat(in.AskingPrice)
	refurb := decimal.NewFromFloat(in.RefurbCost)

	base := mv.Mul(decimal.NewFromFloat(e.settings.BasePercentage)).Div(hundred)
	adjustment := refurb.Neg()
	motivation := MotivationBonus(in.MotivationScore)
	attractiveness := AttractivenessBonus(ask, mv)
	provisional := base.Add(adjustment).Add(motivation).Add(attractiveness)

	capAmount := decimal.Min(ask.Mul(decimal.NewFromFloat(e.settings.MaxPercentage)).Div(hundred), ask)
	afterCap := provisional
	capApplied := provisional.GreaterThan(capAmount)
	if capApplied {
		afterCap = capAmount
	}

	floorCeiling := mv.Sub(refurb).Sub(MinProfitFloor).Div(onePlusCosts)
	afterFloor := afterCap
	floorApplied := underwriting.ProfitPotential(mv, afterCap, refurb).LessThan(MinProfitFloor)
	if floorApplied {
		afterFloor = floorCeiling
	}

	final := roundOffer(afterFloor, decimal.Min(capAmount, floorCeiling), decimal.NewFromFloat(e.settings.RoundingIncrement))

	b := Breakdown{
		Base:                money(base),
		ConditionAdjustment: money(adjustment),
		MotivationBonus:     money(motivation),
		AttractivenessBonus: money(attractiveness),
		Provisional:         money(provisional),
		CapApplied:          capApplied,
		AfterCap:            money(afterCap),
		ProfitFloorApplied:  floorApplied,
		AfterFloor:          money(afterFloor),
		Final:               money(final),
	}
	if !final.IsPositive() {
		return b, ErrOfferNotViable
	}
	b.Percentage = final.Div(ask).Mul(hundred).Round(2).InexactFloat64()
	b.EstimatedProfit = money(underwriting.ProfitPotential(mv, final, refurb))
	return b, nil
}

// MotivationBonus rewards sellers who need to move quickly. Unknown scores get the minimum.
func MotivationBonus(score *int) decimal.Decimal {
	if score == nil {
		return decimal.NewFromInt(500)
	}
	switch s := *score; {
	case s >= 9:
		return decimal.NewFromInt(5000)
	case s >= 7:
		return decimal.NewFromInt(3000)
	case s >= 5:
		return decimal.NewFromInt(1500)
	default:
		return decimal.NewFromInt(500)
	}
}

// AttractivenessBonus rewards asking prices well below market value.
func AttractivenessBonus(ask, marketValue decimal.Decimal) decimal.Decimal {
	ratio := ask.Div(marketValue)
	switch {
	case ratio.LessThanOrEqual(strongDiscount):
		return decimal.NewFromInt(3000)
	case ratio.LessThanOrEqual(fairDiscount):
		return decimal.NewFromInt(1500)
	default:
		return decimal.Zero
	}
}

// roundOffer rounds to the nearest increment, or down when rounding up would exceed ceiling.
func roundOffer(amount, ceiling, increment decimal.Decimal) decimal.Decimal {
	if !increment.IsPositive() {
		return amount.Round(2)
	}
	steps := amount.Div(increment)
	rounded := steps.Round(0).Mul(increment)
	if rounded.GreaterThan(ceiling) {
		rounded = steps.Floor().Mul(increment)
	}
	return rounded
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
