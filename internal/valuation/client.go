// Package valuation looks up estimated market values for properties.
package valuation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/platform/config"
)

// Client calls the valuation HTTP API:
//
//	GET {base}/v1/valuations?postcode=..&address=..&property_type=..&bedrooms=..
//
// 404, or a body without a positive estimate, is ports.ErrNoEstimate.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type valuationResponse struct {
	Estimate   *float64 `json:"estimate"`
	Source     string   `json:"source"`
	Confidence string   `json:"confidence"`
}

func NewClient(cfg config.ValuationConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.GetValuationAPIURL(), "/"),
		apiKey:  cfg.GetValuationAPIKey(),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Estimate(ctx context.Context, q ports.ValuationQuery) (ports.Valuation, error) {
	params := url.Values{}
	params.Set("postcode", q.Postcode)
	if q.Address != "" {
		params.Set("address", q.Address)
	}
	if q.PropertyType != "" {
		params.Set("property_type", q.PropertyType)
	}
	if q.Bedrooms != nil {
		params.Set("bedrooms", strconv.Itoa(*q.Bedrooms))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/valuations?"+params.Encode(), nil)
	if err != nil {
		return ports.Valuation{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.Valuation{}, fmt.Errorf("valuation request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return ports.Valuation{}, ports.ErrNoEstimate
	}
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ports.Valuation{}, fmt.Errorf("valuation api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var decoded valuationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ports.Valuation{}, fmt.Errorf("decode valuation response: %w", err)
	}
	if decoded.Estimate == nil || *decoded.Estimate <= 0 {
		return ports.Valuation{}, ports.ErrNoEstimate
	}
	source := decoded.Source
	if source == "" {
		source = "valuation_api"
	}
	return ports.Valuation{Value: *decoded.Estimate, Source: source}, nil
}
