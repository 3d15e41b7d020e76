// ABOUTME: AnthropicBackend implements pipeline.LLMBackend against the Anthropic Messages API.
// ABOUTME: A single non-streaming call per codergen stage; no tool loop, matching the backend's minimal contract.
package llmbackend

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bromanko/attractor-sub001/pipeline"
)

const defaultMaxTokens = 4096

// AnthropicBackend calls the Anthropic Messages API directly via the
// official SDK. It satisfies pipeline.LLMBackend.
type AnthropicBackend struct {
	client    anthropicsdk.Client
	DefaultModel string
}

// NewAnthropicBackend builds a backend authenticated with apiKey. defaultModel
// is used for any stage that doesn't set its own llm_model attribute.
func NewAnthropicBackend(apiKey, defaultModel string) *AnthropicBackend {
	return &AnthropicBackend{
		client:       anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		DefaultModel: defaultModel,
	}
}

// RunStage sends config.Prompt as a single user message and returns the
// concatenated text content of the response.
func (b *AnthropicBackend) RunStage(ctx context.Context, config pipeline.AgentRunConfig) (*pipeline.AgentRunResult, error) {
	model := config.Model
	if model == "" {
		model = b.DefaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic backend: no model configured for node %q", config.NodeID)
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(config.Prompt)),
		},
	}
	if config.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: config.SystemPrompt}}
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new for node %q: %w", config.NodeID, err)
	}

	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			if text != "" {
				text += "\n"
			}
			text += tb.Text
		}
	}

	usage := pipeline.TokenUsage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	if resp.Usage.CacheCreationInputTokens > 0 {
		usage.CacheWriteTokens = int(resp.Usage.CacheCreationInputTokens)
	}
	if resp.Usage.CacheReadInputTokens > 0 {
		usage.CacheReadTokens = int(resp.Usage.CacheReadInputTokens)
	}

	return &pipeline.AgentRunResult{
		ResponseText: text,
		Usage:        usage,
		Success:      true,
	}, nil
}
