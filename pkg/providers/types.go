// Package providers selects and builds the LLM backend used for replies.
package providers

import (
	"context"

	"github.com/tinyland-inc/wingman/pkg/providers/protocoltypes"
)

type (
	Message     = protocoltypes.Message
	LLMResponse = protocoltypes.LLMResponse
	UsageInfo   = protocoltypes.UsageInfo
	APIError    = protocoltypes.APIError
)

type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, model string, options map[string]any) (*LLMResponse, error)
	GetDefaultModel() string
}

const (
	FinishStop          = protocoltypes.FinishStop
	FinishLength        = protocoltypes.FinishLength
	FinishContentFilter = protocoltypes.FinishContentFilter
)
