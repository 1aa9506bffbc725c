package openaiprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/tinyland-inc/wingman/pkg/providers/protocoltypes"
)

type (
	LLMResponse = protocoltypes.LLMResponse
	UsageInfo   = protocoltypes.UsageInfo
	Message     = protocoltypes.Message
)

const defaultModel = "gpt-4o-mini"

type Provider struct {
	client      osdk.Client
	tokenSource func() (string, error)
}

func NewProvider(apiKey, apiBase string) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(apiBase); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &Provider{client: osdk.NewClient(opts...)}
}

func NewProviderWithTokenSource(apiKey string, tokenSource func() (string, error), apiBase string) *Provider {
	p := NewProvider(apiKey, apiBase)
	p.tokenSource = tokenSource
	return p
}

func (p *Provider) Chat(
	ctx context.Context,
	messages []Message,
	model string,
	options map[string]any,
) (*LLMResponse, error) {
	var opts []option.RequestOption
	if p.tokenSource != nil {
		tok, err := p.tokenSource()
		if err != nil {
			return nil, fmt.Errorf("refreshing token: %w", err)
		}
		opts = append(opts, option.WithAPIKey(tok))
	}

	model, err := normalizeModel(model)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, buildParams(messages, model, options), opts...)
	if err != nil {
		var apiErr *osdk.Error
		if errors.As(err, &apiErr) {
			return nil, &protocoltypes.APIError{Provider: "openai", StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("openai API call: %w", err)
	}
	return parseResponse(resp), nil
}

func (p *Provider) GetDefaultModel() string {
	return defaultModel
}

func buildParams(messages []Message, model string, options map[string]any) osdk.ChatCompletionNewParams {
	params := osdk.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
	}
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			params.Messages = append(params.Messages, osdk.SystemMessage(msg.Content))
		case "user":
			params.Messages = append(params.Messages, osdk.UserMessage(msg.Content))
		case "assistant":
			params.Messages = append(params.Messages, osdk.AssistantMessage(msg.Content))
		}
	}
	if mt, ok := options["max_tokens"].(int); ok && mt > 0 {
		params.MaxCompletionTokens = osdk.Int(int64(mt))
	}
	if temp, ok := options["temperature"].(float64); ok {
		params.Temperature = osdk.Float(temp)
	}
	return params
}

func parseResponse(resp *osdk.ChatCompletion) *LLMResponse {
	out := &LLMResponse{
		FinishReason: protocoltypes.FinishStop,
		Usage: &UsageInfo{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	switch choice.FinishReason {
	case "length":
		out.FinishReason = protocoltypes.FinishLength
	case "content_filter":
		out.FinishReason = protocoltypes.FinishContentFilter
	}
	if choice.Message.Refusal != "" && out.Content == "" {
		out.FinishReason = protocoltypes.FinishContentFilter
	}
	return out
}

// normalizeModel accepts both "gpt-4o" and "openai/gpt-4o".
func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return defaultModel, nil
	}

	providerID, modelID, ok := strings.Cut(model, "/")
	if !ok {
		return model, nil
	}
	providerID = strings.TrimSpace(providerID)
	modelID = strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by openai provider", providerID)
	}
	return modelID, nil
}
