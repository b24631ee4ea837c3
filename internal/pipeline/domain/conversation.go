package domain

import (
	"sort"
	"strings"
	"time"

	"acquisition_backend/platform/validator"
)

// ExtractedData is everything the conversation has established about the
// property and the seller. Nil means unknown.
type ExtractedData struct {
	Address         *string        `json:"address,omitempty"`
	Postcode        *string        `json:"postcode,omitempty"`
	AskingPrice     *float64       `json:"askingPrice,omitempty"`
	PropertyType    *PropertyType  `json:"propertyType,omitempty"`
	Bedrooms        *int           `json:"bedrooms,omitempty"`
	Bathrooms       *int           `json:"bathrooms,omitempty"`
	SquareFootage   *int           `json:"squareFootage,omitempty"`
	Condition       *Condition     `json:"condition,omitempty"`
	SellingReason   *SellingReason `json:"sellingReason,omitempty"`
	Timeline        *Timeline      `json:"timeline,omitempty"`
	TimelineDays    *int           `json:"timelineDays,omitempty"`
	CompetingOffers *bool          `json:"competingOffers,omitempty"`
	MotivationScore *int           `json:"motivationScore,omitempty"`
	Solicitor       *Solicitor     `json:"solicitor,omitempty"`
}

// ConversationState is the typed, versioned record of the seller interview.
type ConversationState struct {
	Version       int           `json:"version"`
	Extracted     ExtractedData `json:"extracted"`
	Exchanges     int           `json:"exchanges"`
	ParseFailures int           `json:"parseFailures"`
	LastIntent    string        `json:"lastIntent,omitempty"`
	NextQuestion  string        `json:"nextQuestion,omitempty"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
}

// MergeResult reports which fields a merge applied and which it refused.
type MergeResult struct {
	Applied  []string
	Rejected map[string]string
}

// Changed reports whether any field was overwritten.
func (r MergeResult) Changed() bool {
	return len(r.Applied) > 0
}

func (r *MergeResult) reject(field, reason string) {
	if r.Rejected == nil {
		r.Rejected = make(map[string]string)
	}
	r.Rejected[field] = reason
}

// Merge overwrites known fields with incoming values that pass field-level
// validation. Invalid values are reported in Rejected and leave the current
// value untouched. Every call bumps Version.
func (s *ConversationState) Merge(incoming ExtractedData, v *validator.Validator) MergeResult {
	var res MergeResult
	dst := &s.Extracted

	mergeField(&dst.Address, trimmed(incoming.Address), "address", "min=5,max=200", v, &res)
	mergeField(&dst.Postcode, upperTrimmed(incoming.Postcode), "postcode", "min=5,max=8", v, &res)
	mergeField(&dst.AskingPrice, incoming.AskingPrice, "askingPrice", "gt=0,lte=100000000", v, &res)
	mergeField(&dst.PropertyType, incoming.PropertyType, "propertyType", PropertyTypeTag, v, &res)
	mergeField(&dst.Bedrooms, incoming.Bedrooms, "bedrooms", "gte=0,lte=20", v, &res)
	mergeField(&dst.Bathrooms, incoming.Bathrooms, "bathrooms", "gte=0,lte=20", v, &res)
	mergeField(&dst.SquareFootage, incoming.SquareFootage, "squareFootage", "gte=100,lte=50000", v, &res)
	mergeField(&dst.Condition, incoming.Condition, "condition", ConditionTag, v, &res)
	mergeField(&dst.SellingReason, incoming.SellingReason, "sellingReason", SellingReasonTag, v, &res)
	mergeField(&dst.Timeline, incoming.Timeline, "timeline", TimelineTag, v, &res)
	mergeField(&dst.TimelineDays, incoming.TimelineDays, "timelineDays", "gte=0,lte=730", v, &res)
	mergeField(&dst.CompetingOffers, incoming.CompetingOffers, "competingOffers", "", v, &res)
	mergeField(&dst.MotivationScore, incoming.MotivationScore, "motivationScore", "gte=1,lte=10", v, &res)

	if incoming.Solicitor != nil {
		sol := *incoming.Solicitor
		sol.Name = strings.TrimSpace(sol.Name)
		sol.Firm = strings.TrimSpace(sol.Firm)
		sol.Email = strings.TrimSpace(sol.Email)
		sol.Phone = strings.TrimSpace(sol.Phone)
		if fields := validator.FieldErrors(v.Struct(sol)); len(fields) > 0 {
			res.reject("solicitor", joinFieldErrors(fields))
		} else {
			dst.Solicitor = &sol
			res.Applied = append(res.Applied, "solicitor")
		}
	}

	s.Version++
	return res
}

// MissingFields lists the facts still needed before underwriting, in asking order.
func (s ConversationState) MissingFields() []string {
	e := s.Extracted
	var missing []string
	if e.Address == nil || e.Postcode == nil {
		missing = append(missing, "address")
	}
	if e.AskingPrice == nil {
		missing = append(missing, "askingPrice")
	}
	if e.Condition == nil {
		missing = append(missing, "condition")
	}
	if e.SellingReason == nil {
		missing = append(missing, "sellingReason")
	}
	if e.Timeline == nil {
		missing = append(missing, "timeline")
	}
	return missing
}

// IsComplete reports whether the interview can end: every required fact is
// known, or the exchange budget is spent.
func (s ConversationState) IsComplete(maxExchanges int) bool {
	if len(s.MissingFields()) == 0 {
		return true
	}
	return maxExchanges > 0 && s.Exchanges >= maxExchanges
}

func mergeField[T any](dst **T, src *T, name, tag string, v *validator.Validator, res *MergeResult) {
	if src == nil {
		return
	}
	if tag != "" {
		if err := v.Var(*src, tag); err != nil {
			res.reject(name, tagOf(err, tag))
			return
		}
	}
	value := *src
	*dst = &value
	res.Applied = append(res.Applied, name)
}

func tagOf(err error, fallback string) string {
	if fields := validator.FieldErrors(err); len(fields) > 0 {
		return joinFieldErrors(fields)
	}
	return fallback
}

func joinFieldErrors(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for field := range fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(fields))
	for _, field := range keys {
		tag := fields[field]
		if field == "" {
			parts = append(parts, tag)
			continue
		}
		parts = append(parts, field+":"+tag)
	}
	return strings.Join(parts, ",")
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

func upperTrimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.ToUpper(strings.Join(strings.Fields(*s), " "))
	return &t
}
