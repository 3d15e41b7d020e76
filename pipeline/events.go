// ABOUTME: PipelineEvent stream emitted by the engine, plus usage accounting across stage attempts.
// ABOUTME: Event kinds and the usage-summary shape are grounded on attractor's EngineEvent/TokenUsage.
package pipeline

import "time"

// EventKind identifies the category of a PipelineEvent.
type EventKind string

const (
	EventPipelineStarted   EventKind = "pipeline_started"
	EventPipelineResumed   EventKind = "pipeline_resumed"
	EventPipelineCompleted EventKind = "pipeline_completed"
	EventPipelineFailed    EventKind = "pipeline_failed"
	EventPipelineCancelled EventKind = "pipeline_cancelled"
	EventStageStarted      EventKind = "stage_started"
	EventStageCompleted    EventKind = "stage_completed"
	EventStageFailed       EventKind = "stage_failed"
	EventStageRetrying     EventKind = "stage_retrying"
	EventCheckpointSaved   EventKind = "checkpoint_saved"
	EventInterviewStarted  EventKind = "interview_started"
	EventInterviewComplete EventKind = "interview_completed"
	EventInterviewTimeout  EventKind = "interview_timeout"
	EventUsageUpdate       EventKind = "usage_update"
	EventAgentText         EventKind = "agent_text"
	EventAgentToolStart    EventKind = "agent_tool_start"
	EventAgentToolUpdate   EventKind = "agent_tool_update"
	EventAgentToolEnd      EventKind = "agent_tool_end"
)

// PipelineEvent is a single entry in the engine's observability stream. Data
// carries kind-specific payload (e.g. node ID, outcome, usage snapshot). The
// EventSink is called synchronously on the engine's own goroutine, so a slow
// sink blocks the engine; a sink that wants asynchrony must buffer.
type PipelineEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	NodeID    string         `json:"node_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventSink receives PipelineEvents as the engine emits them. nil is a valid
// EventSink (the zero value of the function type) and emit becomes a no-op.
type EventSink func(PipelineEvent)

func emit(sink EventSink, kind EventKind, nodeID string, data map[string]any) {
	if sink == nil {
		return
	}
	sink(PipelineEvent{Kind: kind, Timestamp: time.Now(), NodeID: nodeID, Data: data})
}

// Usage is the token/cost accounting for a single stage attempt, or the
// rolling total across a run.
type Usage struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens"`
	CacheWriteTokens int     `json:"cache_write_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Add combines two Usage values by summing all fields.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + other.InputTokens,
		OutputTokens:     u.OutputTokens + other.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + other.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + other.CacheWriteTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		Cost:             u.Cost + other.Cost,
	}
}

// StageUsage is one recorded stage-attempt's usage, tagged with the node that
// produced it.
type StageUsage struct {
	NodeID string `json:"node_id"`
	Usage  Usage  `json:"usage"`
}

// UsageSummary is the engine's running usage ledger, copied into the final
// run result and re-snapshotted on every usage_update event.
type UsageSummary struct {
	Stages []StageUsage `json:"stages"`
	Totals Usage        `json:"totals"`
}

// Record appends a stage attempt's usage and updates the rolling totals. It
// returns a deep-enough copy of the summary suitable for an event payload
// (the Stages slice is independent of the receiver's backing array).
func (s *UsageSummary) Record(nodeID string, usage Usage) UsageSummary {
	s.Stages = append(s.Stages, StageUsage{NodeID: nodeID, Usage: usage})
	s.Totals = s.Totals.Add(usage)
	return s.Snapshot()
}

// Snapshot returns a copy of the summary safe to hand to an event consumer
// without aliasing the engine's internal slice.
func (s *UsageSummary) Snapshot() UsageSummary {
	stages := make([]StageUsage, len(s.Stages))
	copy(stages, s.Stages)
	return UsageSummary{Stages: stages, Totals: s.Totals}
}
