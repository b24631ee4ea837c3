// Package inference adapts language model backends to ports.InferenceProvider.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"acquisition_backend/internal/pipeline/ports"
)

// MoonshotProvider calls any ADK model.LLM, normally the Moonshot Kimi adapter.
type MoonshotProvider struct {
	llm model.LLM
}

func NewMoonshotProvider(llm model.LLM) *MoonshotProvider {
	return &MoonshotProvider{llm: llm}
}

func (p *MoonshotProvider) Name() string {
	return "moonshot:" + p.llm.Name()
}

// Respond runs one non-streaming completion.
func (p *MoonshotProvider) Respond(ctx context.Context, req ports.InferenceRequest) (ports.InferenceResponse, error) {
	llmReq := &model.LLMRequest{
		Contents: toContents(req.Messages),
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr(req.Temperature),
			MaxOutputTokens:   int32(req.MaxTokens),
		},
	}
	if req.JSONMode {
		llmReq.Config.ResponseMIMEType = "application/json"
	}

	var last *model.LLMResponse
	for resp, err := range p.llm.GenerateContent(ctx, llmReq, false) {
		if err != nil {
			return ports.InferenceResponse{}, fmt.Errorf("moonshot: %w", err)
		}
		last = resp
	}
	if last == nil || last.Content == nil {
		return ports.InferenceResponse{}, errors.New("moonshot: empty response")
	}

	var sb strings.Builder
	for _, part := range last.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	out := ports.InferenceResponse{Text: sb.String()}
	if last.UsageMetadata != nil {
		out.TokensUsed = int(last.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

func toContents(msgs []ports.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if m.Role == ports.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}
