package handler

import (
	"golang.org/x/time/rate"

	apphttp "acquisition_backend/internal/http"
	"acquisition_backend/internal/scheduler"
	"acquisition_backend/platform/httpkit"
	"acquisition_backend/platform/logger"
	"acquisition_backend/platform/validator"
)

const (
	webhookRatePerSecond = 20
	webhookBurst         = 40
)

// Module is the pipeline's HTTP module implementing http.Module.
type Module struct {
	handler       *Handler
	webhookSecret string
	limiter       *httpkit.IPRateLimiter
}

func NewModule(ops Operations, queue scheduler.InboundQueue, webhookSecret string, val *validator.Validator, log *logger.Logger) *Module {
	return &Module{
		handler:       New(ops, queue, val, log),
		webhookSecret: webhookSecret,
		limiter:       httpkit.NewIPRateLimiter(rate.Limit(webhookRatePerSecond), webhookBurst, log),
	}
}

func (m *Module) Name() string {
	return "pipeline"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	webhooks := ctx.V1.Group("/webhooks")
	webhooks.Use(m.limiter.RateLimit(), httpkit.SharedSecret(httpkit.HeaderWebhookSecret, m.webhookSecret))
	webhooks.POST("/messages", m.handler.HandleInboundMessage)

	leads := ctx.Admin.Group("/leads")
	leads.POST("", m.handler.CreateLead)
	leads.GET("", m.handler.ListLeads)
	leads.GET("/summary", m.handler.StageSummary)
	leads.GET("/:id", m.handler.GetLead)
	leads.POST("/:id/accept", m.handler.AcceptOffer)
	leads.POST("/:id/reject", m.handler.RejectOffer)
	leads.PUT("/:id/solicitor", m.handler.SetSolicitor)

	ctx.Admin.POST("/pipeline/cycle", m.handler.TriggerCycle)
}

var _ apphttp.Module = (*Module)(nil)
