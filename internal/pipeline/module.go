package pipeline

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"acquisition_backend/internal/events"
	"acquisition_backend/internal/inference"
	"acquisition_backend/internal/intake"
	"acquisition_backend/internal/messaging"
	"acquisition_backend/internal/pipeline/agent"
	"acquisition_backend/internal/pipeline/offer"
	"acquisition_backend/internal/pipeline/repository"
	"acquisition_backend/internal/pipeline/underwriting"
	"acquisition_backend/internal/valuation"
	"acquisition_backend/platform/config"
	"acquisition_backend/platform/lock"
	"acquisition_backend/platform/logger"
	"acquisition_backend/platform/metrics"
	"acquisition_backend/platform/phone"
	"acquisition_backend/platform/validator"
)

const lockPrefix = "pipeline"

// ModuleConfig combines the config interfaces the orchestrator is built from.
type ModuleConfig interface {
	config.PipelineConfig
	config.MessagingConfig
	config.InferenceConfig
	config.ValuationConfig
	config.IntakeConfig
}

// NewFromConfig selects the collaborators named by cfg and builds the orchestrator.
// Both the API and the scheduler binaries use it so they share one pipeline.
func NewFromConfig(cfg ModuleConfig, store repository.Store, rdb redis.UniversalClient, bus events.Bus, m *metrics.Metrics, val *validator.Validator, log *logger.Logger) (*Orchestrator, error) {
	gateway, err := messaging.NewGateway(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("messaging gateway: %w", err)
	}
	provider, err := inference.NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("inference provider: %w", err)
	}
	composer, err := offer.NewComposer(offer.ComposerConfig{
		CompanyName:   cfg.GetCompanyName(),
		VideoURL:      cfg.GetOfferVideoURL(),
		TemplatesPath: cfg.GetMessageTemplatesPath(),
	})
	if err != nil {
		return nil, fmt.Errorf("message templates: %w", err)
	}

	lookup := valuation.NewCachedLookup(valuation.NewClient(cfg), rdb, cfg.GetValuationCacheTTL(), log)

	log.Info("pipeline collaborators selected",
		"messaging", cfg.GetMessagingProvider(),
		"inference", provider.Name(),
		"intake_configured", cfg.GetIntakeAPIURL() != "",
	)

	return NewOrchestrator(Deps{
		Store:   store,
		Gateway: gateway,
		Agent: agent.New(provider, composer, agent.Config{
			CompanyName:  cfg.GetCompanyName(),
			HistoryLimit: cfg.GetConversationHistoryLimit(),
		}, log),
		Underwriter: underwriting.NewValidator(underwriting.Thresholds{
			MinBMVPercent:      cfg.GetMinBMVPercent(),
			MaxAskingPrice:     cfg.GetMaxAskingPrice(),
			MinProfitPotential: cfg.GetMinProfitPotential(),
		}, lookup),
		Pricer: offer.NewEngine(offer.Settings{
			BasePercentage:    cfg.GetOfferBasePercentage(),
			MaxPercentage:     cfg.GetOfferMaxPercentage(),
			RoundingIncrement: cfg.GetOfferRoundingIncrement(),
		}),
		Composer:  composer,
		Schedule:  offer.NewRetrySchedule(cfg.GetRetryDelays(), cfg.GetFinalOfferDeadline(), cfg.GetMaxRetryCount()),
		Intake:    intake.New(cfg),
		Locker:    lock.NewLocker(rdb, lockPrefix),
		Bus:       bus,
		Metrics:   m,
		Validator: val,
		Phone:     phone.NewNormalizer(cfg.GetPhoneDefaultRegion()),
		Log:       log,
	}, Settings{
		IntakeSource:             cfg.GetIntakeSource(),
		Workers:                  cfg.GetPipelineWorkers(),
		ConversationTimeout:      cfg.GetConversationTimeout(),
		ConversationMaxExchanges: cfg.GetConversationMaxExchanges(),
		HistoryLimit:             cfg.GetConversationHistoryLimit(),
		CollaboratorTimeout:      cfg.GetCollaboratorTimeout(),
		CycleLockTTL:             2 * cfg.GetPollingInterval(),
	}), nil
}
