package domain

// PropertyType classifies the property for refurb multipliers and exclusions.
type PropertyType string

const (
	PropertyFlat         PropertyType = "flat"
	PropertyTerraced     PropertyType = "terraced"
	PropertySemiDetached PropertyType = "semi_detached"
	PropertyDetached     PropertyType = "detached"
	PropertyBungalow     PropertyType = "bungalow"
	PropertyLand         PropertyType = "land"
	PropertyCommercial   PropertyType = "commercial"
	PropertyParking      PropertyType = "parking"
	PropertyOther        PropertyType = "other"
)

// Condition is the seller-reported state of repair.
type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionNeedsWork Condition = "needs_work"
	ConditionPoor      Condition = "poor"
)

// SellingReason is why the seller wants to sell.
type SellingReason string

const (
	ReasonRelocation   SellingReason = "relocation"
	ReasonFinancial    SellingReason = "financial"
	ReasonDivorce      SellingReason = "divorce"
	ReasonInheritance  SellingReason = "inheritance"
	ReasonDownsizing   SellingReason = "downsizing"
	ReasonRepossession SellingReason = "repossession"
	ReasonLandlordExit SellingReason = "landlord_exit"
	ReasonOther        SellingReason = "other"
)

// Timeline is how soon the seller needs to complete.
type Timeline string

const (
	TimelineImmediate     Timeline = "immediate"
	TimelineWithin1Month  Timeline = "within_1_month"
	TimelineWithin3Months Timeline = "within_3_months"
	TimelineWithin6Months Timeline = "within_6_months"
	TimelineFlexible      Timeline = "flexible"
)

// Validation tags for the enums, shared by request DTOs and extraction merging.
const (
	PropertyTypeTag  = "oneof=flat terraced semi_detached detached bungalow land commercial parking other"
	ConditionTag     = "oneof=excellent good fair needs_work poor"
	SellingReasonTag = "oneof=relocation financial divorce inheritance downsizing repossession landlord_exit other"
	TimelineTag      = "oneof=immediate within_1_month within_3_months within_6_months flexible"
)

// Solicitor holds the seller's conveyancer details, captured after acceptance.
type Solicitor struct {
	Name  string `json:"name" validate:"required,min=2,max=120"`
	Firm  string `json:"firm" validate:"required,min=2,max=160"`
	Email string `json:"email" validate:"omitempty,email,max=254"`
	Phone string `json:"phone" validate:"omitempty,min=6,max=32"`
}

// Reachable reports whether there is at least one way to contact the solicitor.
func (s Solicitor) Reachable() bool {
	return s.Email != "" || s.Phone != ""
}
