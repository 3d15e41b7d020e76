// ABOUTME: Checkpoint serialization for persisting and resuming execution state.
// ABOUTME: Save writes to a temp file and renames into place so readers never observe a partial write.
package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint is a serializable snapshot of execution state, written to
// <logsRoot>/checkpoint.json after every stage transition and after
// cancellation.
type Checkpoint struct {
	Timestamp      time.Time      `json:"timestamp"`
	CurrentNode    string         `json:"current_node"`
	ResumeAt       string         `json:"resume_at,omitempty"`
	NextNode       string         `json:"next_node,omitempty"`
	CompletedNodes []string       `json:"completed_nodes"`
	NodeRetries    map[string]int `json:"node_retries"`
	ContextValues  map[string]any `json:"context_values"`
	Logs           []string       `json:"logs"`
}

// NewCheckpoint creates a checkpoint from the current execution state. nextNode
// is the resolved destination of the just-selected edge, or "" if the engine
// has not yet selected one for this transition (e.g. a cancellation that
// happened mid-stage, which must resume by re-executing currentNode).
func NewCheckpoint(ctx *Context, currentNode, nextNode string, completedNodes []string, nodeRetries map[string]int) *Checkpoint {
	return &Checkpoint{
		Timestamp:      time.Now(),
		CurrentNode:    currentNode,
		NextNode:       nextNode,
		CompletedNodes: completedNodes,
		NodeRetries:    nodeRetries,
		ContextValues:  ctx.Snapshot(),
		Logs:           ctx.Logs(),
	}
}

// ResumeNode resolves the node the engine should set `current` to on resume:
// next_node, falling back to resume_at, falling back to current_node.
func (cp *Checkpoint) ResumeNode() string {
	if cp.NextNode != "" {
		return cp.NextNode
	}
	if cp.ResumeAt != "" {
		return cp.ResumeAt
	}
	return cp.CurrentNode
}

// Save serializes the checkpoint to JSON and writes it to path atomically: the
// content is written to a sibling temp file first, then renamed over path, so
// a concurrent reader (or a crash mid-write) never observes a truncated or
// partially-written checkpoint. There is no locking on the checkpoint file
// beyond this atomicity guarantee — one pipeline instance owns one logsRoot.
func (cp *Checkpoint) Save(path string) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// LoadCheckpoint deserializes a checkpoint from JSON at the given path.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
