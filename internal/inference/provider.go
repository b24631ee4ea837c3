package inference

import (
	"fmt"

	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/platform/ai/moonshot"
	"acquisition_backend/platform/config"
)

// NewProvider returns the provider selected by INFERENCE_PROVIDER.
func NewProvider(cfg config.InferenceConfig) (ports.InferenceProvider, error) {
	switch cfg.GetInferenceProvider() {
	case config.InferenceProviderMoonshot:
		llm := moonshot.NewModel(moonshot.Config{APIKey: cfg.GetMoonshotAPIKey(), Model: cfg.GetInferenceModel()})
		return NewMoonshotProvider(llm), nil
	case config.InferenceProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{APIKey: cfg.GetOpenAIAPIKey(), Model: cfg.GetInferenceModel()}), nil
	}
	return nil, fmt.Errorf("unknown inference provider %q", cfg.GetInferenceProvider())
}
