// Package handler exposes the pipeline over HTTP: the messaging gateway webhook
// and the operator endpoints.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"acquisition_backend/internal/pipeline"
	"acquisition_backend/internal/pipeline/domain"
	"acquisition_backend/internal/pipeline/repository"
	"acquisition_backend/internal/pipeline/transport"
	"acquisition_backend/internal/scheduler"
	"acquisition_backend/platform/httpkit"
	"acquisition_backend/platform/logger"
	"acquisition_backend/platform/validator"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
	errInvalidLeadID  = "invalid lead ID"
	defaultPageSize   = 20
)

// Operations is what the operator endpoints need from the pipeline.
type Operations interface {
	CreateLead(ctx context.Context, in pipeline.NewLead) (domain.Lead, error)
	GetLead(ctx context.Context, id uuid.UUID) (pipeline.LeadDetail, error)
	ListLeads(ctx context.Context, params repository.ListParams) ([]domain.Lead, int, error)
	StageCounts(ctx context.Context) (map[domain.Stage]int, error)
	AcceptOffer(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	RejectOffer(ctx context.Context, id uuid.UUID, reason string) (domain.Lead, error)
	SetSolicitor(ctx context.Context, id uuid.UUID, sol domain.Solicitor) (domain.Lead, error)
	RunCycle(ctx context.Context) (pipeline.CycleReport, error)
}

type Handler struct {
	ops   Operations
	queue scheduler.InboundQueue
	val   *validator.Validator
	log   *logger.Logger
	now   func() time.Time
}

func New(ops Operations, queue scheduler.InboundQueue, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{
		ops:   ops,
		queue: queue,
		val:   val,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// HandleInboundMessage queues a seller message for processing.
// POST /api/v1/webhooks/messages
func (h *Handler) HandleInboundMessage(c *gin.Context) {
	var req transport.InboundMessageRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	if strings.TrimSpace(req.Body) == "" {
		c.JSON(http.StatusOK, transport.InboundMessageResponse{Status: "ignored"})
		return
	}

	receivedAt := h.now()
	if req.ReceivedAt != nil && !req.ReceivedAt.IsZero() {
		receivedAt = req.ReceivedAt.UTC()
	}

	queued, err := h.queue.EnqueueInbound(c.Request.Context(), scheduler.InboundMessagePayload{
		ProviderMessageID: req.MessageID,
		From:              req.From,
		To:                req.To,
		Body:              req.Body,
		ReceivedAt:        receivedAt,
	})
	if err != nil {
		h.log.WithContext(c.Request.Context()).Error("failed to enqueue inbound message", "provider_message_id", req.MessageID, "error", err)
		httpkit.Error(c, http.StatusServiceUnavailable, "message could not be queued", nil)
		return
	}

	status := "queued"
	if !queued {
		status = "duplicate"
	}
	c.JSON(http.StatusAccepted, transport.InboundMessageResponse{Status: status})
}

// CreateLead POST /api/v1/admin/leads
func (h *Handler) CreateLead(c *gin.Context) {
	var req transport.CreateLeadRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	lead, err := h.ops.CreateLead(c.Request.Context(), pipeline.NewLead{
		ExternalID:   req.ExternalID,
		Source:       req.Source,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		Email:        req.Email,
		Address:      req.Address,
		Postcode:     req.Postcode,
		AskingPrice:  req.AskingPrice,
		PropertyType: domain.PropertyType(req.PropertyType),
		Bedrooms:     req.Bedrooms,
		Condition:    domain.Condition(req.Condition),
	})
	if httpkit.HandleError(c, err) {
		return
	}

	c.JSON(http.StatusCreated, transport.ToLeadResponse(lead))
}

// GetLead GET /api/v1/admin/leads/:id
func (h *Handler) GetLead(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}

	detail, err := h.ops.GetLead(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.LeadDetailResponse{
		Lead:     transport.ToLeadResponse(detail.Lead),
		Messages: make([]transport.MessageResponse, 0, len(detail.Messages)),
	}
	for _, m := range detail.Messages {
		resp.Messages = append(resp.Messages, transport.ToMessageResponse(m))
	}
	if detail.Deal != nil {
		deal := transport.ToDealResponse(*detail.Deal)
		resp.Deal = &deal
	}
	httpkit.OK(c, resp)
}

// ListLeads GET /api/v1/admin/leads
func (h *Handler) ListLeads(c *gin.Context) {
	var req transport.ListLeadsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.FieldErrors(err))
		return
	}

	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = defaultPageSize
	}

	params := repository.ListParams{
		Phone:  req.Phone,
		Limit:  req.PageSize,
		Offset: (req.Page - 1) * req.PageSize,
	}
	if req.Stage != "" {
		stage, ok := domain.ParseStage(strings.ToUpper(req.Stage))
		if !ok {
			httpkit.Error(c, http.StatusBadRequest, errValidation, map[string]string{"stage": "unknown stage"})
			return
		}
		params.Stage = &stage
	}

	leads, total, err := h.ops.ListLeads(c.Request.Context(), params)
	if httpkit.HandleError(c, err) {
		return
	}

	items := make([]transport.LeadResponse, 0, len(leads))
	for _, l := range leads {
		items = append(items, transport.ToLeadResponse(l))
	}
	httpkit.OK(c, transport.LeadListResponse{Items: items, Total: total, Page: req.Page, PageSize: req.PageSize})
}

// StageSummary GET /api/v1/admin/leads/summary
func (h *Handler) StageSummary(c *gin.Context) {
	counts, err := h.ops.StageCounts(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.StageCountsResponse{Stages: make(map[string]int, len(domain.AllStages()))}
	for _, stage := range domain.AllStages() {
		n := counts[stage]
		resp.Stages[string(stage)] = n
		resp.Total += n
	}
	httpkit.OK(c, resp)
}

// AcceptOffer POST /api/v1/admin/leads/:id/accept
func (h *Handler) AcceptOffer(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}

	lead, err := h.ops.AcceptOffer(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLeadResponse(lead))
}

// RejectOffer POST /api/v1/admin/leads/:id/reject
func (h *Handler) RejectOffer(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}

	var req transport.RejectOfferRequest
	if c.Request.ContentLength != 0 && !h.bindAndValidate(c, &req) {
		return
	}

	lead, err := h.ops.RejectOffer(c.Request.Context(), id, req.Reason)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLeadResponse(lead))
}

// SetSolicitor PUT /api/v1/admin/leads/:id/solicitor
func (h *Handler) SetSolicitor(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}

	var req transport.SolicitorRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	lead, err := h.ops.SetSolicitor(c.Request.Context(), id, domain.Solicitor{
		Name:  strings.TrimSpace(req.Name),
		Firm:  strings.TrimSpace(req.Firm),
		Email: strings.TrimSpace(req.Email),
		Phone: strings.TrimSpace(req.Phone),
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLeadResponse(lead))
}

// TriggerCycle runs one pipeline cycle and returns its report.
// POST /api/v1/admin/pipeline/cycle
func (h *Handler) TriggerCycle(c *gin.Context) {
	report, err := h.ops.RunCycle(c.Request.Context())
	if errors.Is(err, pipeline.ErrCycleInProgress) {
		httpkit.Error(c, http.StatusConflict, "a pipeline cycle is already running", nil)
		return
	}
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, report)
}

func (h *Handler) leadID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidLeadID, nil)
		return uuid.UUID{}, false
	}
	return id, true
}

func (h *Handler) bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.FieldErrors(err))
		return false
	}
	return true
}
