// Package messaging implements the outbound text gateway used to reach sellers.
package messaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/platform/config"
	"acquisition_backend/platform/logger"
	"acquisition_backend/platform/phone"
)

// GowaClient sends messages through a go-whatsapp-web-multidevice style HTTP gateway.
type GowaClient struct {
	baseURL  string
	apiKey   string
	deviceID string
	phone    phone.Normalizer
	http     *http.Client
	log      *logger.Logger
}

type gowaRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type gowaResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Results struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"`
	} `json:"results"`
}

func NewGowaClient(cfg config.MessagingConfig, log *logger.Logger) *GowaClient {
	return &GowaClient{
		baseURL:  strings.TrimRight(cfg.GetGatewayURL(), "/"),
		apiKey:   cfg.GetGatewayKey(),
		deviceID: cfg.GetGatewayDeviceID(),
		phone:    phone.NewNormalizer(cfg.GetPhoneDefaultRegion()),
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
}

// Send delivers body to the given number. Any non-2xx answer is an error.
func (c *GowaClient) Send(ctx context.Context, to, body string) (ports.SendResult, error) {
	normalized := strings.TrimPrefix(c.phone.NormalizeE164(to), "+")
	if normalized == "" {
		return ports.SendResult{}, fmt.Errorf("gateway: empty recipient")
	}

	payload, err := json.Marshal(gowaRequest{Phone: normalized, Message: body})
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("marshal gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send/message", bytes.NewReader(payload))
	if err != nil {
		return ports.SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("gateway request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ports.SendResult{}, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var decoded gowaResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		return ports.SendResult{}, fmt.Errorf("decode gateway response: %w", err)
	}
	status := decoded.Results.Status
	if status == "" {
		status = "sent"
	}

	c.log.Info("message sent via gateway", "phone", normalized, "message_id", decoded.Results.MessageID)
	return ports.SendResult{MessageID: decoded.Results.MessageID, Status: status}, nil
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}
