package messaging

import (
	"fmt"

	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/platform/config"
	"acquisition_backend/platform/logger"
)

// NewGateway returns the gateway selected by MESSAGING_PROVIDER.
func NewGateway(cfg config.MessagingConfig, log *logger.Logger) (ports.MessagingGateway, error) {
	switch cfg.GetMessagingProvider() {
	case config.MessagingProviderGowa:
		return NewGowaClient(cfg, log), nil
	case config.MessagingProviderDryRun:
		return NewDryRunSender(log), nil
	}
	return nil, fmt.Errorf("unknown messaging provider %q", cfg.GetMessagingProvider())
}
