// Package intake pulls new seller leads from the upstream lead source.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/platform/config"
)

const pageSize = 200

// Client polls GET {base}/v1/leads?since=<RFC3339>&limit=N, following next_cursor
// until the source has nothing more to return.
type Client struct {
	baseURL string
	apiKey  string
	source  string
	http    *http.Client
}

type leadDTO struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email"`
	Address      string    `json:"address"`
	Postcode     string    `json:"postcode"`
	AskingPrice  *float64  `json:"asking_price"`
	PropertyType string    `json:"property_type"`
	Bedrooms     *int      `json:"bedrooms"`
	Condition    string    `json:"condition"`
	CreatedAt    time.Time `json:"created_at"`
}

type leadsPage struct {
	Leads      []leadDTO `json:"leads"`
	NextCursor string    `json:"next_cursor"`
}

func NewClient(cfg config.IntakeConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.GetIntakeAPIURL(), "/"),
		apiKey:  cfg.GetIntakeAPIKey(),
		source:  cfg.GetIntakeSource(),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchSince returns every lead created after since, oldest first.
func (c *Client) FetchSince(ctx context.Context, since time.Time) ([]ports.LeadFacts, error) {
	var facts []ports.LeadFacts
	cursor := ""
	for {
		page, err := c.fetchPage(ctx, since, cursor)
		if err != nil {
			return nil, err
		}
		for _, l := range page.Leads {
			facts = append(facts, ports.LeadFacts{
				ExternalID:   l.ID,
				Source:       c.source,
				FirstName:    l.FirstName,
				LastName:     l.LastName,
				Phone:        l.Phone,
				Email:        l.Email,
				Address:      l.Address,
				Postcode:     l.Postcode,
				AskingPrice:  l.AskingPrice,
				PropertyType: l.PropertyType,
				Bedrooms:     l.Bedrooms,
				Condition:    l.Condition,
				ReceivedAt:   l.CreatedAt,
			})
		}
		if page.NextCursor == "" || len(page.Leads) == 0 {
			break
		}
		cursor = page.NextCursor
	}

	sort.SliceStable(facts, func(i, j int) bool { return facts[i].ReceivedAt.Before(facts[j].ReceivedAt) })
	return facts, nil
}

func (c *Client) fetchPage(ctx context.Context, since time.Time, cursor string) (leadsPage, error) {
	params := url.Values{}
	params.Set("limit", fmt.Sprint(pageSize))
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/leads?"+params.Encode(), nil)
	if err != nil {
		return leadsPage{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return leadsPage{}, fmt.Errorf("intake request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return leadsPage{}, fmt.Errorf("intake api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var page leadsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return leadsPage{}, fmt.Errorf("decode intake response: %w", err)
	}
	return page, nil
}

// NoopIntake is used when no lead source is configured; leads then arrive only
// through the operator API.
type NoopIntake struct{}

func (NoopIntake) FetchSince(context.Context, time.Time) ([]ports.LeadFacts, error) {
	return nil, nil
}

// New returns the HTTP client when INTAKE_API_URL is set, NoopIntake otherwise.
func New(cfg config.IntakeConfig) ports.LeadIntake {
	if cfg.GetIntakeAPIURL() == "" {
		return NoopIntake{}
	}
	return NewClient(cfg)
}
