package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/acquisition")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("VALUATION_API_URL", "http://valuation.local")
	t.Setenv("WEBHOOK_SECRET", "secret")
	t.Setenv("MOONSHOT_API_KEY", "key")
	t.Setenv("SMTP_HOST", "")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := load()
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}

	if cfg.GetMinBMVPercent() != 15 {
		t.Fatalf("expected MinBMVPercent=15, got %v", cfg.GetMinBMVPercent())
	}
	if cfg.GetOfferBasePercentage() != 80 || cfg.GetOfferMaxPercentage() != 85 {
		t.Fatalf("expected offer percentages 80/85, got %v/%v", cfg.GetOfferBasePercentage(), cfg.GetOfferMaxPercentage())
	}
	delays := cfg.GetRetryDelays()
	want := []time.Duration{48 * time.Hour, 120 * time.Hour, 168 * time.Hour}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("expected retry delay %d=%v, got %v", i+1, want[i], delays[i])
		}
	}
	if cfg.GetConversationTimeout() != 72*time.Hour {
		t.Fatalf("expected conversation timeout 72h, got %v", cfg.GetConversationTimeout())
	}
	if cfg.GetMessagingProvider() != MessagingProviderDryRun {
		t.Fatalf("expected dryrun messaging by default, got %q", cfg.GetMessagingProvider())
	}
	if cfg.GetEmailEnabled() {
		t.Fatalf("expected email disabled without SMTP_HOST")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing database", env: map[string]string{"DATABASE_URL": ""}, wantErr: "DATABASE_URL"},
		{name: "base above max", env: map[string]string{"OFFER_BASE_PERCENTAGE": "90"}, wantErr: "offer percentages"},
		{name: "unknown messaging", env: map[string]string{"MESSAGING_PROVIDER": "pigeon"}, wantErr: "MESSAGING_PROVIDER"},
		{name: "gowa without url", env: map[string]string{"MESSAGING_PROVIDER": "gowa"}, wantErr: "GATEWAY_URL"},
		{name: "openai without key", env: map[string]string{"INFERENCE_PROVIDER": "openai"}, wantErr: "OPENAI_API_KEY"},
		{name: "malformed number", env: map[string]string{"MIN_BMV_PERCENT": "lots"}, wantErr: "MIN_BMV_PERCENT"},
		{name: "too many retries", env: map[string]string{"MAX_RETRY_COUNT": "4"}, wantErr: "MAX_RETRY_COUNT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := load()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}
