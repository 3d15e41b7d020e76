// ABOUTME: Defines the LLMBackend interface that decouples CodergenHandler from the concrete LLM client.
// ABOUTME: Provides AgentRunConfig and AgentRunResult types for configuring and receiving codergen runs.
package pipeline

import "context"

// LLMBackend abstracts the LLM call a codergen-shape stage makes so that
// CodergenHandler never depends on a concrete provider SDK.
type LLMBackend interface {
	// RunStage executes a single codergen call with the given configuration
	// and returns the raw result. ctx controls cancellation and timeout.
	RunStage(ctx context.Context, config AgentRunConfig) (*AgentRunResult, error)
}

// AgentRunConfig holds everything needed to execute one codergen stage call.
type AgentRunConfig struct {
	Prompt       string // fully expanded prompt text ($goal/$context-key substitutions already applied)
	Model        string // LLM model name
	Provider     string // LLM provider name (e.g. "anthropic")
	WorkDir      string // working directory for file operations
	Goal         string // pipeline-level goal, for backends that want it separately
	NodeID       string // node identifier, for logging/tracking
	MaxTurns     int    // maximum tool-use turns (0 = backend default)
	FidelityMode string // "full", "compact", "truncate", or "summary:*"
	SystemPrompt string // appended to the backend's default system prompt
}

// TokenUsage tracks granular token consumption for a single stage call.
type TokenUsage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
}

// Add combines two TokenUsage values by summing all fields.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:      u.InputTokens + other.InputTokens,
		OutputTokens:     u.OutputTokens + other.OutputTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		CacheReadTokens:  u.CacheReadTokens + other.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + other.CacheWriteTokens,
	}
}

// AgentRunResult holds the raw outcome of one codergen stage call. The
// handler is responsible for scanning ResponseText for status markers per
// the codergen status-marker contract.
type AgentRunResult struct {
	ResponseText string     // full response text, including any trailing status markers
	ToolCalls    int        // number of tool invocations the backend made, if any
	Usage        TokenUsage // token accounting for this call
	Success      bool       // whether the backend itself completed the call without transport error
}
