// ABOUTME: Start node handler: the pipeline entry point (shape=Mdiamond).
// ABOUTME: Performs no work beyond recording a start timestamp and returning success.
package pipeline

import (
	"context"
	"time"
)

// StartHandler handles the pipeline entry point node.
type StartHandler struct{}

// Type returns "start".
func (h *StartHandler) Type() string { return "start" }

// Execute records the start time and returns success immediately.
func (h *StartHandler) Execute(ctx context.Context, node *Node, pctx *Context, graph *Graph, logsRoot string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Outcome{
		Status: StatusSuccess,
		Notes:  "pipeline started at node: " + node.ID,
		ContextUpdates: map[string]any{
			"_started_at": time.Now().Format(time.RFC3339Nano),
			"last_stage":  node.ID,
		},
	}, nil
}
