// Package underwriting decides whether a lead is a viable below-market-value deal.
package underwriting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"acquisition_backend/internal/pipeline/domain"
	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/platform/apperr"
)

// ErrValuationUnavailable means the valuation collaborator failed. The lead should be
// retried on a later cycle rather than failed.
var ErrValuationUnavailable = errors.New("valuation unavailable")

// TransactionCostRate is the share of the purchase price reserved for fees and taxes.
var TransactionCostRate = decimal.NewFromFloat(0.05)

var hundred = decimal.NewFromInt(100)

// Thresholds are the pass criteria.
type Thresholds struct {
	MinBMVPercent      float64
	MaxAskingPrice     float64
	MinProfitPotential float64
}

// Input is the property as known at the end of the conversation.
type Input struct {
	Address      string
	Postcode     string
	AskingPrice  *float64
	PropertyType domain.PropertyType
	Bedrooms     *int
	Condition    domain.Condition
}

// InputFromLead builds the underwriting input from a lead's property columns.
func InputFromLead(l domain.Lead) Input {
	return Input{
		Address:      l.Address,
		Postcode:     l.Postcode,
		AskingPrice:  l.AskingPrice,
		PropertyType: l.PropertyType,
		Bedrooms:     l.Bedrooms,
		Condition:    l.Condition,
	}
}

// Result carries every computed figure so operators can audit the decision.
type Result struct {
	Passed          bool     `json:"passed"`
	BMVPercent      float64  `json:"bmvPercent"`
	MarketValue     float64  `json:"marketValue"`
	RefurbCost      float64  `json:"refurbCost"`
	ProfitPotential float64  `json:"profitPotential"`
	ValuationSource string   `json:"valuationSource,omitempty"`
	Reasons         []string `json:"reasons,omitempty"`
	Notes           string   `json:"notes"`
}

// Validator runs the underwriting rules against a valuation source.
type Validator struct {
	thresholds Thresholds
	valuation  ports.ValuationLookup
}

func NewValidator(thresholds Thresholds, valuation ports.ValuationLookup) *Validator {
	return &Validator{thresholds: thresholds, valuation: valuation}
}

// Validate scores the deal. A returned error is always a collaborator failure
// (ErrValuationUnavailable); missing data produces a failed Result instead.
func (v *Validator) Validate(ctx context.Context, in Input) (Result, error) {
	if missing := missingInputs(in); len(missing) > 0 {
		return failed("missing " + strings.Join(missing, ", ")), nil
	}

	valuation, err := v.valuation.Estimate(ctx, ports.ValuationQuery{
		Address:      in.Address,
		Postcode:     in.Postcode,
		PropertyType: string(in.PropertyType),
		Bedrooms:     in.Bedrooms,
	})
	if err != nil {
		if errors.Is(err, ports.ErrNoEstimate) {
			return failed("market valuation unavailable"), nil
		}
		return Result{}, apperr.Unavailable("valuation", fmt.Errorf("%w: %w", ErrValuationUnavailable, err))
	}
	if valuation.Value <= 0 {
		return failed("market valuation unavailable"), nil
	}

	mv := decimal.NewFromFloat(valuation.Value)
	ask := decimal.NewFromFloat(*in.AskingPrice)
	refurb := RefurbEstimate(in.Condition, in.Bedrooms, in.PropertyType)

	bmv := mv.Sub(ask).Div(mv).Mul(hundred).Round(2)
	profit := ProfitPotential(mv, ask, refurb).Round(2)

	res := Result{
		BMVPercent:      bmv.InexactFloat64(),
		MarketValue:     mv.Round(2).InexactFloat64(),
		RefurbCost:      refurb.Round(2).InexactFloat64(),
		ProfitPotential: profit.InexactFloat64(),
		ValuationSource: valuation.Source,
	}

	t := v.thresholds
	if bmv.LessThan(decimal.NewFromFloat(t.MinBMVPercent)) {
		res.Reasons = append(res.Reasons, fmt.Sprintf("BMV %s below minimum %s",
			domain.FormatPercent(res.BMVPercent), domain.FormatPercent(t.MinBMVPercent)))
	}
	if profit.LessThan(decimal.NewFromFloat(t.MinProfitPotential)) {
		res.Reasons = append(res.Reasons, fmt.Sprintf("profit potential %s below minimum %s",
			domain.FormatGBP(res.ProfitPotential), domain.FormatGBP(t.MinProfitPotential)))
	}
	if ask.GreaterThan(decimal.NewFromFloat(t.MaxAskingPrice)) {
		res.Reasons = append(res.Reasons, fmt.Sprintf("asking price %s above maximum %s",
			domain.FormatGBP(*in.AskingPrice), domain.FormatGBP(t.MaxAskingPrice)))
	}
	if IsExcludedType(in.PropertyType) {
		res.Reasons = append(res.Reasons, fmt.Sprintf("property type %s is excluded", in.PropertyType))
	}

	res.Passed = len(res.Reasons) == 0
	if res.Passed {
		res.Notes = fmt.Sprintf("passed: BMV %s, profit potential %s, refurb %s",
			domain.FormatPercent(res.BMVPercent), domain.FormatGBP(res.ProfitPotential), domain.FormatGBP(res.RefurbCost))
	} else {
		res.Notes = strings.Join(res.Reasons, "; ")
	}
	return res, nil
}

// ProfitPotential is MV - (price + refurb + transaction costs on price).
func ProfitPotential(marketValue, price, refurb decimal.Decimal) decimal.Decimal {
	costs := price.Mul(TransactionCostRate)
	return marketValue.Sub(price.Add(refurb).Add(costs))
}

// IsExcludedType reports property types that are never bought.
func IsExcludedType(t domain.PropertyType) bool {
	switch t {
	case domain.PropertyLand, domain.PropertyCommercial, domain.PropertyParking:
		return true
	}
	return false
}

func missingInputs(in Input) []string {
	var missing []string
	if strings.TrimSpace(in.Address) == "" {
		missing = append(missing, "address")
	}
	if strings.TrimSpace(in.Postcode) == "" {
		missing = append(missing, "postcode")
	}
	if in.AskingPrice == nil || *in.AskingPrice <= 0 {
		missing = append(missing, "asking price")
	}
	return missing
}

func failed(reason string) Result {
	return Result{Reasons: []string{reason}, Notes: reason}
}
