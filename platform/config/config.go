// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	MessagingProviderGowa   = "gowa"
	MessagingProviderDryRun = "dryrun"

	InferenceProviderMoonshot = "moonshot"
	InferenceProviderOpenAI   = "openai"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetDatabaseMaxConns() int32
}

// SchedulerConfig provides Redis and task queue settings.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetWebhookSecret() string
	GetAdminAPIKey() string
}

// MessagingConfig selects and configures the outbound text messaging gateway.
type MessagingConfig interface {
	GetMessagingProvider() string
	GetGatewayURL() string
	GetGatewayKey() string
	GetGatewayDeviceID() string
	GetPhoneDefaultRegion() string
}

// InferenceConfig selects and configures the language model provider.
type InferenceConfig interface {
	GetInferenceProvider() string
	GetMoonshotAPIKey() string
	GetOpenAIAPIKey() string
	GetInferenceModel() string
}

// ValuationConfig provides settings for the market valuation lookup.
type ValuationConfig interface {
	GetValuationAPIURL() string
	GetValuationAPIKey() string
	GetValuationCacheTTL() time.Duration
}

// IntakeConfig provides settings for polling the lead source.
type IntakeConfig interface {
	GetIntakeAPIURL() string
	GetIntakeAPIKey() string
	GetIntakeSource() string
}

// EmailConfig provides settings for operator notification email.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetOperatorEmail() string
}

// PipelineConfig provides underwriting thresholds, offer parameters and cadence.
type PipelineConfig interface {
	GetMinBMVPercent() float64
	GetMaxAskingPrice() float64
	GetMinProfitPotential() float64
	GetOfferBasePercentage() float64
	GetOfferMaxPercentage() float64
	GetOfferRoundingIncrement() float64
	GetRetryDelays() []time.Duration
	GetFinalOfferDeadline() time.Duration
	GetMaxRetryCount() int
	GetConversationTimeout() time.Duration
	GetConversationMaxExchanges() int
	GetConversationHistoryLimit() int
	GetPollingInterval() time.Duration
	GetPipelineWorkers() int
	GetCollaboratorTimeout() time.Duration
	GetOfferVideoURL() string
	GetMessageTemplatesPath() string
	GetCompanyName() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	DatabaseMaxConns int32
	CORSAllowAll     bool
	CORSOrigins      []string
	CORSAllowCreds   bool
	WebhookSecret    string
	AdminAPIKey      string

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	MessagingProvider  string
	GatewayURL         string
	GatewayKey         string
	GatewayDeviceID    string
	PhoneDefaultRegion string

	InferenceProvider string
	MoonshotAPIKey    string
	OpenAIAPIKey      string
	InferenceModel    string

	ValuationAPIURL   string
	ValuationAPIKey   string
	ValuationCacheTTL time.Duration

	IntakeAPIURL string
	IntakeAPIKey string
	IntakeSource string

	EmailEnabled     bool
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	EmailFromName    string
	EmailFromAddress string
	OperatorEmail    string

	MinBMVPercent            float64
	MaxAskingPrice           float64
	MinProfitPotential       float64
	OfferBasePercentage      float64
	OfferMaxPercentage       float64
	OfferRoundingIncrement   float64
	RetryDelays              []time.Duration
	FinalOfferDeadline       time.Duration
	MaxRetryCount            int
	ConversationTimeout      time.Duration
	ConversationMaxExchanges int
	ConversationHistoryLimit int
	PollingInterval          time.Duration
	PipelineWorkers          int
	CollaboratorTimeout      time.Duration
	OfferVideoURL            string
	MessageTemplatesPath     string
	CompanyName              string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string      { return c.DatabaseURL }
func (c *Config) GetDatabaseMaxConns() int32 { return c.DatabaseMaxConns }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }
func (c *Config) GetWebhookSecret() string { return c.WebhookSecret }
func (c *Config) GetAdminAPIKey() string   { return c.AdminAPIKey }

// MessagingConfig implementation
func (c *Config) GetMessagingProvider() string  { return c.MessagingProvider }
func (c *Config) GetGatewayURL() string         { return c.GatewayURL }
func (c *Config) GetGatewayKey() string         { return c.GatewayKey }
func (c *Config) GetGatewayDeviceID() string    { return c.GatewayDeviceID }
func (c *Config) GetPhoneDefaultRegion() string { return c.PhoneDefaultRegion }

// InferenceConfig implementation
func (c *Config) GetInferenceProvider() string { return c.InferenceProvider }
func (c *Config) GetMoonshotAPIKey() string    { return c.MoonshotAPIKey }
func (c *Config) GetOpenAIAPIKey() string      { return c.OpenAIAPIKey }
func (c *Config) GetInferenceModel() string    { return c.InferenceModel }

// ValuationConfig implementation
func (c *Config) GetValuationAPIURL() string          { return c.ValuationAPIURL }
func (c *Config) GetValuationAPIKey() string          { return c.ValuationAPIKey }
func (c *Config) GetValuationCacheTTL() time.Duration { return c.ValuationCacheTTL }

// IntakeConfig implementation
func (c *Config) GetIntakeAPIURL() string { return c.IntakeAPIURL }
func (c *Config) GetIntakeAPIKey() string { return c.IntakeAPIKey }
func (c *Config) GetIntakeSource() string { return c.IntakeSource }
func (c *Config) IsIntakeEnabled() bool   { return c.IntakeAPIURL != "" }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetOperatorEmail() string    { return c.OperatorEmail }

// PipelineConfig implementation
func (c *Config) GetMinBMVPercent() float64              { return c.MinBMVPercent }
func (c *Config) GetMaxAskingPrice() float64             { return c.MaxAskingPrice }
func (c *Config) GetMinProfitPotential() float64         { return c.MinProfitPotential }
func (c *Config) GetOfferBasePercentage() float64        { return c.OfferBasePercentage }
func (c *Config) GetOfferMaxPercentage() float64         { return c.OfferMaxPercentage }
func (c *Config) GetOfferRoundingIncrement() float64     { return c.OfferRoundingIncrement }
func (c *Config) GetRetryDelays() []time.Duration        { return c.RetryDelays }
func (c *Config) GetFinalOfferDeadline() time.Duration   { return c.FinalOfferDeadline }
func (c *Config) GetMaxRetryCount() int                  { return c.MaxRetryCount }
func (c *Config) GetConversationTimeout() time.Duration  { return c.ConversationTimeout }
func (c *Config) GetConversationMaxExchanges() int       { return c.ConversationMaxExchanges }
func (c *Config) GetConversationHistoryLimit() int       { return c.ConversationHistoryLimit }
func (c *Config) GetPollingInterval() time.Duration      { return c.PollingInterval }
func (c *Config) GetPipelineWorkers() int                { return c.PipelineWorkers }
func (c *Config) GetCollaboratorTimeout() time.Duration  { return c.CollaboratorTimeout }
func (c *Config) GetOfferVideoURL() string               { return c.OfferVideoURL }
func (c *Config) GetMessageTemplatesPath() string        { return c.MessageTemplatesPath }
func (c *Config) GetCompanyName() string                 { return c.CompanyName }

// Load reads configuration from environment variables (and a .env file when present).
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load()
}

func load() (*Config, error) {
	var errs parseErrors

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DatabaseMaxConns: int32(errs.intValue("DATABASE_MAX_CONNS", 25)),
		CORSAllowAll:     corsAllowAll,
		CORSOrigins:      corsOrigins,
		CORSAllowCreds:   strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		WebhookSecret:    getEnv("WEBHOOK_SECRET", ""),
		AdminAPIKey:      getEnv("ADMIN_API_KEY", ""),

		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "pipeline"),
		AsynqConcurrency: errs.intValue("ASYNQ_CONCURRENCY", 10),

		MessagingProvider:  strings.ToLower(getEnv("MESSAGING_PROVIDER", MessagingProviderDryRun)),
		GatewayURL:         getEnv("GATEWAY_URL", ""),
		GatewayKey:         getEnv("GATEWAY_KEY", ""),
		GatewayDeviceID:    getEnv("GATEWAY_DEVICE_ID", ""),
		PhoneDefaultRegion: strings.ToUpper(getEnv("PHONE_DEFAULT_REGION", "GB")),

		InferenceProvider: strings.ToLower(getEnv("INFERENCE_PROVIDER", InferenceProviderMoonshot)),
		MoonshotAPIKey:    getEnv("MOONSHOT_API_KEY", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		InferenceModel:    getEnv("INFERENCE_MODEL", ""),

		ValuationAPIURL:   getEnv("VALUATION_API_URL", ""),
		ValuationAPIKey:   getEnv("VALUATION_API_KEY", ""),
		ValuationCacheTTL: errs.durationValue("VALUATION_CACHE_TTL", 24*time.Hour),

		IntakeAPIURL: getEnv("INTAKE_API_URL", ""),
		IntakeAPIKey: getEnv("INTAKE_API_KEY", ""),
		IntakeSource: getEnv("INTAKE_SOURCE", "portal"),

		EmailEnabled:     emailEnabled && smtpHost != "",
		SMTPHost:         smtpHost,
		SMTPPort:         errs.intValue("SMTP_PORT", 587),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Acquisitions"),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		OperatorEmail:    getEnv("OPERATOR_EMAIL", ""),

		MinBMVPercent:          errs.floatValue("MIN_BMV_PERCENT", 15),
		MaxAskingPrice:         errs.floatValue("MAX_ASKING_PRICE", 750000),
		MinProfitPotential:     errs.floatValue("MIN_PROFIT_POTENTIAL", 10000),
		OfferBasePercentage:    errs.floatValue("OFFER_BASE_PERCENTAGE", 80),
		OfferMaxPercentage:     errs.floatValue("OFFER_MAX_PERCENTAGE", 85),
		OfferRoundingIncrement: errs.floatValue("OFFER_ROUNDING_INCREMENT", 1000),
		RetryDelays: []time.Duration{
			days(errs.intValue("RETRY_DELAY_1_DAYS", 2)),
			days(errs.intValue("RETRY_DELAY_2_DAYS", 5)),
			days(errs.intValue("RETRY_DELAY_3_DAYS", 7)),
		},
		FinalOfferDeadline:       days(errs.intValue("FINAL_OFFER_DEADLINE_DAYS", 3)),
		MaxRetryCount:            errs.intValue("MAX_RETRY_COUNT", 3),
		ConversationTimeout:      time.Duration(errs.intValue("CONVERSATION_TIMEOUT_HOURS", 72)) * time.Hour,
		ConversationMaxExchanges: errs.intValue("CONVERSATION_MAX_EXCHANGES", 12),
		ConversationHistoryLimit: errs.intValue("CONVERSATION_HISTORY_LIMIT", 10),
		PollingInterval:          time.Duration(errs.intValue("POLLING_INTERVAL_SECONDS", 60)) * time.Second,
		PipelineWorkers:          errs.intValue("PIPELINE_WORKERS", 1),
		CollaboratorTimeout:      errs.durationValue("COLLABORATOR_TIMEOUT", 20*time.Second),
		OfferVideoURL:            getEnv("OFFER_VIDEO_URL", ""),
		MessageTemplatesPath:     getEnv("MESSAGE_TEMPLATES_PATH", ""),
		CompanyName:              getEnv("COMPANY_NAME", "our team"),
	}

	if len(errs) > 0 {
		return nil, errs
	}
	if err := cfg.validate(emailEnabled); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(emailRequested bool) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.ValuationAPIURL == "" {
		return fmt.Errorf("VALUATION_API_URL is required")
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}

	switch c.MessagingProvider {
	case MessagingProviderGowa:
		if c.GatewayURL == "" {
			return fmt.Errorf("GATEWAY_URL is required when MESSAGING_PROVIDER=%s", MessagingProviderGowa)
		}
	case MessagingProviderDryRun:
	default:
		return fmt.Errorf("unknown MESSAGING_PROVIDER %q", c.MessagingProvider)
	}

	switch c.InferenceProvider {
	case InferenceProviderMoonshot:
		if c.MoonshotAPIKey == "" {
			return fmt.Errorf("MOONSHOT_API_KEY is required when INFERENCE_PROVIDER=%s", InferenceProviderMoonshot)
		}
	case InferenceProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when INFERENCE_PROVIDER=%s", InferenceProviderOpenAI)
		}
	default:
		return fmt.Errorf("unknown INFERENCE_PROVIDER %q", c.InferenceProvider)
	}

	if c.OfferBasePercentage <= 0 || c.OfferMaxPercentage > 100 || c.OfferBasePercentage > c.OfferMaxPercentage {
		return fmt.Errorf("offer percentages must satisfy 0 < OFFER_BASE_PERCENTAGE <= OFFER_MAX_PERCENTAGE <= 100")
	}
	if c.OfferRoundingIncrement <= 0 {
		return fmt.Errorf("OFFER_ROUNDING_INCREMENT must be positive")
	}
	if c.MaxRetryCount < 1 || c.MaxRetryCount > len(c.RetryDelays) {
		return fmt.Errorf("MAX_RETRY_COUNT must be between 1 and %d", len(c.RetryDelays))
	}
	for i, d := range c.RetryDelays {
		if d <= 0 {
			return fmt.Errorf("RETRY_DELAY_%d_DAYS must be positive", i+1)
		}
	}
	if c.FinalOfferDeadline <= 0 {
		return fmt.Errorf("FINAL_OFFER_DEADLINE_DAYS must be positive")
	}
	if c.ConversationTimeout <= 0 || c.PollingInterval <= 0 || c.CollaboratorTimeout <= 0 {
		return fmt.Errorf("timeouts and polling interval must be positive")
	}
	if c.ConversationMaxExchanges < 1 || c.ConversationHistoryLimit < 1 {
		return fmt.Errorf("CONVERSATION_MAX_EXCHANGES and CONVERSATION_HISTORY_LIMIT must be positive")
	}
	if c.PipelineWorkers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1")
	}
	if c.MinBMVPercent < 0 || c.MaxAskingPrice <= 0 {
		return fmt.Errorf("MIN_BMV_PERCENT must be >= 0 and MAX_ASKING_PRICE positive")
	}
	if emailRequested && c.EmailEnabled && (c.EmailFromAddress == "" || c.OperatorEmail == "") {
		return fmt.Errorf("EMAIL_FROM_ADDRESS and OPERATOR_EMAIL are required when email is enabled")
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	return nil
}

// parseErrors collects malformed numeric values so Load reports all of them at once.
type parseErrors []string

func (p parseErrors) Error() string {
	return "invalid configuration: " + strings.Join(p, "; ")
}

func (p *parseErrors) intValue(key string, fallback int) int {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*p = append(*p, fmt.Sprintf("%s=%q is not an integer", key, raw))
		return fallback
	}
	return v
}

func (p *parseErrors) floatValue(key string, fallback float64) float64 {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*p = append(*p, fmt.Sprintf("%s=%q is not a number", key, raw))
		return fallback
	}
	return v
}

func (p *parseErrors) durationValue(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*p = append(*p, fmt.Sprintf("%s=%q is not a duration", key, raw))
		return fallback
	}
	return v
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
