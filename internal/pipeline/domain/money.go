package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatGBP renders whole pounds with thousands separators, e.g. £212,000.
func FormatGBP(amount float64) string {
	d := decimal.NewFromFloat(amount).Round(0)
	neg := d.IsNegative()
	digits := d.Abs().String()

	var sb strings.Builder
	if neg {
		sb.WriteString("-")
	}
	sb.WriteString("£")
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// FormatPercent renders a percentage with two decimals, e.g. 30.00%.
func FormatPercent(p float64) string {
	return strconv.FormatFloat(decimal.NewFromFloat(p).Round(2).InexactFloat64(), 'f', 2, 64) + "%"
}
