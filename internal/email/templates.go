package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

type baseEmailData struct {
	Title    string
	Heading  string
	CTALabel string
	CTAURL   string
}

type offerAcceptedEmailData struct {
	baseEmailData
	SellerName  string
	Phone       string
	Address     string
	OfferAmount string
	AskingPrice string
}

type dealReadyEmailData struct {
	baseEmailData
	SellerName      string
	Address         string
	PurchasePrice   string
	MarketValue     string
	RefurbCost      string
	ProfitPotential string
	SolicitorName   string
	SolicitorFirm   string
	SolicitorEmail  string
	SolicitorPhone  string
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}
