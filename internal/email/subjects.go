package email

const (
	subjectOfferAcceptedFmt = "Offer accepted: %s"
	subjectDealReadyFmt     = "Deal ready for investors: %s"
)
