package offer

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"acquisition_backend/internal/pipeline/domain"
)

//go:embed templates/messages.yaml
var defaultTemplates embed.FS

// TemplateKey names a message template.
type TemplateKey string

const (
	TemplateOpening          TemplateKey = "opening"
	TemplateSafeReply        TemplateKey = "safe_reply"
	TemplateAcknowledgement  TemplateKey = "acknowledgement"
	TemplateOffer            TemplateKey = "offer"
	TemplateObjection        TemplateKey = "objection"
	TemplateRetry1           TemplateKey = "retry_1"
	TemplateRetry2           TemplateKey = "retry_2"
	TemplateRetry3           TemplateKey = "retry_3"
	TemplateSolicitorRequest TemplateKey = "solicitor_request"
	TemplatePaperwork        TemplateKey = "paperwork"
)

var requiredTemplates = []TemplateKey{
	TemplateOpening, TemplateSafeReply, TemplateAcknowledgement, TemplateOffer, TemplateObjection,
	TemplateRetry1, TemplateRetry2, TemplateRetry3, TemplateSolicitorRequest, TemplatePaperwork,
}

// MessageData is the template context.
type MessageData struct {
	Name          string
	Company       string
	Address       string
	OfferAmount   string
	AskingPrice   string
	VideoURL      string
	Deadline      string
	SolicitorFirm string
}

// ComposerConfig configures message rendering.
type ComposerConfig struct {
	CompanyName   string
	VideoURL      string
	TemplatesPath string
}

// Composer renders seller-facing messages.
type Composer struct {
	company   string
	videoURL  string
	templates map[TemplateKey]*template.Template
}

// NewComposer loads the embedded templates, then overrides them with any keys found
// in cfg.TemplatesPath.
func NewComposer(cfg ComposerConfig) (*Composer, error) {
	raw, err := defaultTemplates.ReadFile("templates/messages.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded templates: %w", err)
	}
	sources, err := parseTemplateFile(raw)
	if err != nil {
		return nil, fmt.Errorf("parse embedded templates: %w", err)
	}

	if cfg.TemplatesPath != "" {
		data, err := os.ReadFile(cfg.TemplatesPath)
		if err != nil {
			return nil, fmt.Errorf("read templates %s: %w", cfg.TemplatesPath, err)
		}
		overrides, err := parseTemplateFile(data)
		if err != nil {
			return nil, fmt.Errorf("parse templates %s: %w", cfg.TemplatesPath, err)
		}
		for key, src := range overrides {
			sources[key] = src
		}
	}

	c := &Composer{
		company:   cfg.CompanyName,
		videoURL:  cfg.VideoURL,
		templates: make(map[TemplateKey]*template.Template, len(sources)),
	}
	for _, key := range requiredTemplates {
		src, ok := sources[key]
		if !ok || strings.TrimSpace(src) == "" {
			return nil, fmt.Errorf("template %q is missing", key)
		}
		tmpl, err := template.New(string(key)).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", key, err)
		}
		c.templates[key] = tmpl
	}
	return c, nil
}

func parseTemplateFile(data []byte) (map[TemplateKey]string, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[TemplateKey]string, len(raw))
	for k, v := range raw {
		out[TemplateKey(k)] = v
	}
	return out, nil
}

// Render executes a template with lead-derived data merged with extra.
func (c *Composer) Render(key TemplateKey, data MessageData) (string, error) {
	tmpl, ok := c.templates[key]
	if !ok {
		return "", fmt.Errorf("unknown template %q", key)
	}
	if data.Company == "" {
		data.Company = c.company
	}
	if data.VideoURL == "" {
		data.VideoURL = c.videoURL
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", key, err)
	}
	return strings.Join(strings.Fields(buf.String()), " "), nil
}

func (c *Composer) leadData(l domain.Lead) MessageData {
	d := MessageData{
		Name:    l.Greeting(),
		Address: l.Address,
	}
	if d.Address == "" {
		d.Address = "your property"
	}
	if l.OfferAmount != nil {
		d.OfferAmount = domain.FormatGBP(*l.OfferAmount)
	}
	if l.AskingPrice != nil {
		d.AskingPrice = domain.FormatGBP(*l.AskingPrice)
	}
	if l.Solicitor != nil {
		d.SolicitorFirm = l.Solicitor.Firm
	}
	return d
}

func (c *Composer) Opening(l domain.Lead) (string, error) {
	d := c.leadData(l)
	d.Address = l.Address
	return c.Render(TemplateOpening, d)
}

func (c *Composer) SafeReply(l domain.Lead) (string, error) {
	return c.Render(TemplateSafeReply, c.leadData(l))
}

func (c *Composer) Acknowledgement(l domain.Lead) (string, error) {
	return c.Render(TemplateAcknowledgement, c.leadData(l))
}

// Offer renders the offer message for the given amount.
func (c *Composer) Offer(l domain.Lead, amount float64) (string, error) {
	d := c.leadData(l)
	d.OfferAmount = domain.FormatGBP(amount)
	return c.Render(TemplateOffer, d)
}

func (c *Composer) Objection(l domain.Lead) (string, error) {
	return c.Render(TemplateObjection, c.leadData(l))
}

// Retry renders follow-up n (1-based). deadline is only used by the last retry.
func (c *Composer) Retry(l domain.Lead, n int, deadline time.Time) (string, error) {
	d := c.leadData(l)
	d.Deadline = deadline.Format("Monday 2 January")
	switch n {
	case 1:
		return c.Render(TemplateRetry1, d)
	case 2:
		return c.Render(TemplateRetry2, d)
	default:
		return c.Render(TemplateRetry3, d)
	}
}

func (c *Composer) SolicitorRequest(l domain.Lead) (string, error) {
	return c.Render(TemplateSolicitorRequest, c.leadData(l))
}

func (c *Composer) Paperwork(l domain.Lead) (string, error) {
	return c.Render(TemplatePaperwork, c.leadData(l))
}
