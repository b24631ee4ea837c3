package agent

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"acquisition_backend/internal/pipeline/domain"
)

// Intent is what the seller's latest message was trying to do.
type Intent string

const (
	IntentProvideInfo Intent = "provide_info"
	IntentQuestion    Intent = "question"
	IntentAcceptOffer Intent = "accept_offer"
	IntentRejectOffer Intent = "reject_offer"
	IntentOptOut      Intent = "opt_out"
	IntentOther       Intent = "other"
)

func parseIntent(s string) Intent {
	switch i := Intent(normalizeEnum(s)); i {
	case IntentProvideInfo, IntentQuestion, IntentAcceptOffer, IntentRejectOffer, IntentOptOut:
		return i
	}
	return IntentOther
}

// ParseFailure describes model output that could not be used. Raw is kept for the log.
type ParseFailure struct {
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

func (f *ParseFailure) Error() string {
	return "unparseable model output: " + f.Reason
}

// ModelTurn is a successfully parsed model response.
type ModelTurn struct {
	Reply                string
	Intent               Intent
	Extraction           domain.ExtractedData
	MotivationScore      *int
	ConversationComplete bool
	NextQuestion         string
	// Dropped names extracted fields whose values had the wrong shape.
	Dropped []string
}

// ParseResult holds exactly one of Turn or Failure.
type ParseResult struct {
	Turn    *ModelTurn
	Failure *ParseFailure
}

func (r ParseResult) OK() bool {
	return r.Turn != nil
}

type wireSolicitor struct {
	Name  string `json:"name"`
	Firm  string `json:"firm"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type wireExtraction struct {
	Address         *flexString     `json:"address"`
	Postcode        *flexString     `json:"postcode"`
	AskingPrice     *flexNumber     `json:"askingPrice"`
	PropertyType    *flexString     `json:"propertyType"`
	Bedrooms        *flexNumber     `json:"bedrooms"`
	Bathrooms       *flexNumber     `json:"bathrooms"`
	SquareFootage   *flexNumber     `json:"squareFootage"`
	Condition       *flexString     `json:"condition"`
	SellingReason   *flexString     `json:"sellingReason"`
	Timeline        *flexString     `json:"timeline"`
	TimelineDays    *flexNumber     `json:"timelineDays"`
	CompetingOffers *flexBool       `json:"competingOffers"`
	Solicitor       json.RawMessage `json:"solicitor"`
}

type wireTurn struct {
	Reply                *string         `json:"reply"`
	Intent               string          `json:"intent"`
	Extracted            *wireExtraction `json:"extracted"`
	MotivationScore      *flexNumber     `json:"motivationScore"`
	ConversationComplete flexBool        `json:"conversationComplete"`
	NextQuestion         string          `json:"nextQuestion"`
}

// The flex types never fail decoding. A value of the wrong shape is marked
// invalid so only that field is dropped.

// flexNumber accepts JSON numbers and strings such as "£250,000" or "250k".
type flexNumber struct {
	value   float64
	invalid bool
}

var numberNoise = strings.NewReplacer("£", "", ",", "", " ", "", "gbp", "", "sqft", "")

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		n.value = f
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		n.invalid = true
		return nil
	}
	s = numberNoise.Replace(strings.ToLower(strings.TrimSpace(s)))
	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		multiplier, s = 1000, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		multiplier, s = 1000000, strings.TrimSuffix(s, "m")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		n.invalid = true
		return nil
	}
	n.value = f * multiplier
	return nil
}

func (n *flexNumber) asFloat() *float64 {
	if n == nil || n.invalid {
		return nil
	}
	v := n.value
	return &v
}

func (n *flexNumber) asInt() *int {
	if n == nil || n.invalid {
		return nil
	}
	v := int(n.value)
	return &v
}

// flexString accepts strings and numbers.
type flexString struct {
	value   string
	invalid bool
}

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, &s.value); err == nil {
		return nil
	}
	var f json.Number
	if err := json.Unmarshal(data, &f); err == nil {
		s.value = f.String()
		return nil
	}
	s.invalid = true
	return nil
}

func (s *flexString) text() *string {
	if s == nil || s.invalid || strings.TrimSpace(s.value) == "" {
		return nil
	}
	v := s.value
	return &v
}

// flexBool accepts booleans and yes/no style strings.
type flexBool struct {
	value   bool
	set     bool
	invalid bool
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, &b.value); err == nil {
		b.set = true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "y":
			b.value, b.set = true, true
			return nil
		case "false", "no", "n":
			b.value, b.set = false, true
			return nil
		}
	}
	b.invalid = true
	return nil
}

func (b *flexBool) asBool() *bool {
	if b == nil || !b.set {
		return nil
	}
	v := b.value
	return &v
}

// ParseTurn decodes the model's JSON response. Code fences or prose around the
// object are ignored; anything else is a ParseFailure.
func ParseTurn(raw string) ParseResult {
	text := strings.TrimSpace(raw)
	if text == "" {
		return failure(raw, "empty response")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return failure(raw, "no JSON object")
	}

	var w wireTurn
	if err := json.Unmarshal([]byte(text[start:end+1]), &w); err != nil {
		return failure(raw, "invalid JSON: "+err.Error())
	}
	if w.Reply == nil || strings.TrimSpace(*w.Reply) == "" {
		return failure(raw, "missing reply")
	}

	turn := &ModelTurn{
		Reply:                strings.TrimSpace(*w.Reply),
		Intent:               parseIntent(w.Intent),
		MotivationScore:      w.MotivationScore.asInt(),
		ConversationComplete: w.ConversationComplete.value,
		NextQuestion:         strings.TrimSpace(w.NextQuestion),
	}
	if w.Extracted != nil {
		turn.Extraction = w.Extracted.toDomain()
		turn.Dropped = w.Extracted.invalidFields()
	}
	if w.MotivationScore != nil && w.MotivationScore.invalid {
		turn.Dropped = append(turn.Dropped, "motivationScore")
	}
	turn.Extraction.MotivationScore = turn.MotivationScore
	return ParseResult{Turn: turn}
}

func failure(raw, reason string) ParseResult {
	return ParseResult{Failure: &ParseFailure{Raw: raw, Reason: reason}}
}

// toDomain converts wire values without validating them; the merge step validates.
func (w wireExtraction) toDomain() domain.ExtractedData {
	out := domain.ExtractedData{
		Address:         w.Address.text(),
		Postcode:        w.Postcode.text(),
		AskingPrice:     w.AskingPrice.asFloat(),
		Bedrooms:        w.Bedrooms.asInt(),
		Bathrooms:       w.Bathrooms.asInt(),
		SquareFootage:   w.SquareFootage.asInt(),
		TimelineDays:    w.TimelineDays.asInt(),
		CompetingOffers: w.CompetingOffers.asBool(),
	}
	if s := enum(w.PropertyType.text()); s != nil {
		v := domain.PropertyType(*s)
		out.PropertyType = &v
	}
	if s := enum(w.Condition.text()); s != nil {
		v := domain.Condition(*s)
		out.Condition = &v
	}
	if s := enum(w.SellingReason.text()); s != nil {
		v := domain.SellingReason(*s)
		out.SellingReason = &v
	}
	if s := enum(w.Timeline.text()); s != nil {
		v := domain.Timeline(*s)
		out.Timeline = &v
	}
	if sol, ok := w.solicitor(); ok && sol != nil && (sol.Name != "" || sol.Firm != "") {
		out.Solicitor = &domain.Solicitor{
			Name:  sol.Name,
			Firm:  sol.Firm,
			Email: sol.Email,
			Phone: sol.Phone,
		}
	}
	return out
}

func (w wireExtraction) solicitor() (*wireSolicitor, bool) {
	raw := bytes.TrimSpace(w.Solicitor)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, true
	}
	var sol wireSolicitor
	if err := json.Unmarshal(raw, &sol); err != nil {
		return nil, false
	}
	return &sol, true
}

func (w wireExtraction) invalidFields() []string {
	var names []string
	for name, bad := range map[string]bool{
		"address":         w.Address != nil && w.Address.invalid,
		"postcode":        w.Postcode != nil && w.Postcode.invalid,
		"askingPrice":     w.AskingPrice != nil && w.AskingPrice.invalid,
		"propertyType":    w.PropertyType != nil && w.PropertyType.invalid,
		"bedrooms":        w.Bedrooms != nil && w.Bedrooms.invalid,
		"bathrooms":       w.Bathrooms != nil && w.Bathrooms.invalid,
		"squareFootage":   w.SquareFootage != nil && w.SquareFootage.invalid,
		"condition":       w.Condition != nil && w.Condition.invalid,
		"sellingReason":   w.SellingReason != nil && w.SellingReason.invalid,
		"timeline":        w.Timeline != nil && w.Timeline.invalid,
		"timelineDays":    w.TimelineDays != nil && w.TimelineDays.invalid,
		"competingOffers": w.CompetingOffers != nil && w.CompetingOffers.invalid,
	} {
		if bad {
			names = append(names, name)
		}
	}
	if _, ok := w.solicitor(); !ok {
		names = append(names, "solicitor")
	}
	sort.Strings(names)
	return names
}

func enum(s *string) *string {
	if s == nil {
		return nil
	}
	v := normalizeEnum(*s)
	return &v
}

// normalizeEnum maps "Needs Work" and "semi-detached" to needs_work and semi_detached.
func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
