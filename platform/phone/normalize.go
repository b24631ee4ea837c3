// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "GB"

// Normalizer formats numbers for a fixed default region.
type Normalizer struct {
	region string
}

// NewNormalizer creates a Normalizer. An empty region falls back to DefaultRegion.
func NewNormalizer(region string) Normalizer {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = DefaultRegion
	}
	return Normalizer{region: region}
}

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func (n Normalizer) NormalizeE164(input string) string {
	formatted, ok := n.Parse(input)
	if !ok {
		return strings.TrimSpace(input)
	}
	return formatted
}

// Parse returns the E.164 form and whether the input is a valid number.
func (n Normalizer) Parse(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", false
	}

	number, err := phonenumbers.Parse(trimmed, n.regionOrDefault())
	if err != nil || !phonenumbers.IsValidNumber(number) {
		return "", false
	}
	return phonenumbers.Format(number, phonenumbers.E164), true
}

func (n Normalizer) regionOrDefault() string {
	if n.region == "" {
		return DefaultRegion
	}
	return n.region
}

// NormalizeE164 formats using DefaultRegion.
func NormalizeE164(input string) string {
	return Normalizer{}.NormalizeE164(input)
}
