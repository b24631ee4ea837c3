package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"acquisition_backend/internal/pipeline"
	"acquisition_backend/platform/apperr"
	"acquisition_backend/platform/config"
	"acquisition_backend/platform/logger"
)

// InboundHandler processes one inbound seller message.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg pipeline.InboundMessage) (pipeline.InboundResult, error)
}

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	inbound InboundHandler
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, inbound InboundHandler, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		inbound: inbound,
		log:     log,
	}

	mux.HandleFunc(TaskInboundMessage, w.handleInboundMessage)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleInboundMessage returns an error for anything worth retrying; malformed
// payloads are dropped with SkipRetry.
func (w *Worker) handleInboundMessage(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseInboundMessagePayload(task)
	if err != nil {
		return fmt.Errorf("parse inbound payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ProviderMessageID == "" {
		return fmt.Errorf("inbound payload without provider message id: %w", asynq.SkipRetry)
	}

	res, err := w.inbound.HandleInbound(ctx, pipeline.InboundMessage{
		ProviderMessageID: payload.ProviderMessageID,
		From:              payload.From,
		To:                payload.To,
		Body:              payload.Body,
		ReceivedAt:        payload.ReceivedAt,
	})
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) || apperr.Is(err, apperr.KindValidation) {
			return errors.Join(err, asynq.SkipRetry)
		}
		w.log.WithContext(ctx).Warn("inbound message will be retried", "provider_message_id", payload.ProviderMessageID, "error", err)
		return err
	}

	w.log.Info("inbound message handled",
		"provider_message_id", payload.ProviderMessageID,
		"status", string(res.Status),
		"lead_id", res.LeadID.String(),
		"stage", string(res.Stage),
	)
	return nil
}
