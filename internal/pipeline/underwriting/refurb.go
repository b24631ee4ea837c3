package underwriting

import (
	"github.com/shopspring/decimal"

	"acquisition_backend/internal/pipeline/domain"
)

var refurbBase = map[domain.Condition]int64{
	domain.ConditionExcellent: 0,
	domain.ConditionGood:      5000,
	domain.ConditionFair:      15000,
	domain.ConditionNeedsWork: 30000,
	domain.ConditionPoor:      50000,
}

var typeMultiplier = map[domain.PropertyType]float64{
	domain.PropertyFlat:         0.8,
	domain.PropertyTerraced:     1.0,
	domain.PropertySemiDetached: 1.1,
	domain.PropertyBungalow:     1.1,
	domain.PropertyDetached:     1.3,
}

// RefurbEstimate is base(condition) x bedroom multiplier x type multiplier.
// Unknown condition is costed as fair.
func RefurbEstimate(condition domain.Condition, bedrooms *int, propertyType domain.PropertyType) decimal.Decimal {
	base, ok := refurbBase[condition]
	if !ok {
		base = refurbBase[domain.ConditionFair]
	}
	typeMul, ok := typeMultiplier[propertyType]
	if !ok {
		typeMul = 1.0
	}
	return decimal.NewFromInt(base).
		Mul(decimal.NewFromFloat(bedroomMultiplier(bedrooms))).
		Mul(decimal.NewFromFloat(typeMul))
}

func bedroomMultiplier(bedrooms *int) float64 {
	if bedrooms == nil {
		return 1.0
	}
	switch n := *bedrooms; {
	case n <= 1:
		return 0.7
	case n == 2:
		return 0.85
	case n == 3:
		return 1.0
	default:
		return 1.25
	}
}
