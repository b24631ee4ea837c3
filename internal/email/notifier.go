package email

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"acquisition_backend/internal/events"
	"acquisition_backend/internal/pipeline/domain"
	"acquisition_backend/platform/logger"
)

// LeadReader loads the lead an event refers to.
type LeadReader interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	GetDealByLead(ctx context.Context, leadID uuid.UUID) (domain.Deal, error)
}

// Notifier emails the operator when a seller accepts and when a deal is handed off.
type Notifier struct {
	sender     Sender
	leads      LeadReader
	operatorTo string
	log        *logger.Logger
}

func NewNotifier(sender Sender, leads LeadReader, operatorEmail string, log *logger.Logger) *Notifier {
	return &Notifier{sender: sender, leads: leads, operatorTo: operatorEmail, log: log}
}

// Subscribe registers the notifier's handlers on bus.
func (n *Notifier) Subscribe(bus events.Bus) {
	bus.Subscribe(events.StageChanged{}.EventName(), events.HandlerFunc(n.handleStageChanged))
	bus.Subscribe(events.DealCreated{}.EventName(), events.HandlerFunc(n.handleDealCreated))
}

func (n *Notifier) handleStageChanged(ctx context.Context, event events.Event) error {
	e, ok := event.(events.StageChanged)
	if !ok || e.To != string(domain.StageOfferAccepted) {
		return nil
	}
	l, err := n.leads.GetLead(ctx, e.LeadID)
	if err != nil {
		return fmt.Errorf("load lead %s: %w", e.LeadID, err)
	}

	content, err := renderEmailTemplate("offer_accepted.html", offerAcceptedEmailData{
		baseEmailData: baseEmailData{Title: "Offer accepted", Heading: "Offer accepted"},
		SellerName:    l.FullName(),
		Phone:         l.Phone,
		Address:       l.Address,
		OfferAmount:   money(l.OfferAmount),
		AskingPrice:   money(l.AskingPrice),
	})
	if err != nil {
		return err
	}
	n.log.Info("sending offer accepted email", "lead_id", l.ID.String())
	return n.sender.Send(ctx, n.operatorTo, fmt.Sprintf(subjectOfferAcceptedFmt, addressOrName(l)), content)
}

func (n *Notifier) handleDealCreated(ctx context.Context, event events.Event) error {
	e, ok := event.(events.DealCreated)
	if !ok {
		return nil
	}
	l, err := n.leads.GetLead(ctx, e.LeadID)
	if err != nil {
		return fmt.Errorf("load lead %s: %w", e.LeadID, err)
	}
	deal, err := n.leads.GetDealByLead(ctx, e.LeadID)
	if err != nil {
		return fmt.Errorf("load deal for lead %s: %w", e.LeadID, err)
	}

	content, err := renderEmailTemplate("deal_ready.html", dealReadyEmailData{
		baseEmailData:   baseEmailData{Title: "Deal ready", Heading: "Deal ready for investors"},
		SellerName:      l.FullName(),
		Address:         l.Address,
		PurchasePrice:   domain.FormatGBP(deal.PurchasePrice),
		MarketValue:     money(deal.MarketValue),
		RefurbCost:      money(deal.RefurbCost),
		ProfitPotential: money(deal.ProfitPotential),
		SolicitorName:   deal.Solicitor.Name,
		SolicitorFirm:   deal.Solicitor.Firm,
		SolicitorEmail:  deal.Solicitor.Email,
		SolicitorPhone:  deal.Solicitor.Phone,
	})
	if err != nil {
		return err
	}
	n.log.Info("sending deal ready email", "lead_id", l.ID.String(), "deal_id", deal.ID.String())
	return n.sender.Send(ctx, n.operatorTo, fmt.Sprintf(subjectDealReadyFmt, addressOrName(l)), content)
}

func money(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return domain.FormatGBP(*v)
}

func addressOrName(l domain.Lead) string {
	if l.Address != "" {
		return l.Address
	}
	if name := l.FullName(); name != "" {
		return name
	}
	return l.Phone
}
