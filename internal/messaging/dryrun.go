package messaging

import (
	"context"

	"github.com/google/uuid"

	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/platform/logger"
)

// DryRunSender logs messages instead of sending them. Used in development.
type DryRunSender struct {
	log *logger.Logger
}

func NewDryRunSender(log *logger.Logger) *DryRunSender {
	return &DryRunSender{log: log}
}

func (s *DryRunSender) Send(_ context.Context, to, body string) (ports.SendResult, error) {
	id := "dryrun-" + uuid.NewString()
	s.log.Info("dry-run message", "to", to, "message_id", id, "body", body)
	return ports.SendResult{MessageID: id, Status: "dry_run"}, nil
}
