// ABOUTME: Exit node handler: the pipeline terminal node (shape=Msquare).
// ABOUTME: Records a finish timestamp and returns success; goal-gate enforcement lives in the engine.
package pipeline

import (
	"context"
	"time"
)

// ExitHandler handles the pipeline exit node. Exit nodes return success
// immediately per the handler contract — any goal-gate failure that should
// prevent reaching exit is caught by the engine's edge selection before exit
// is ever scheduled.
type ExitHandler struct{}

// Type returns "exit".
func (h *ExitHandler) Type() string { return "exit" }

// Execute records the finish time and returns success.
func (h *ExitHandler) Execute(ctx context.Context, node *Node, pctx *Context, graph *Graph, logsRoot string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Outcome{
		Status: StatusSuccess,
		Notes:  "pipeline exited at node: " + node.ID,
		ContextUpdates: map[string]any{
			"_finished_at": time.Now().Format(time.RFC3339Nano),
			"last_stage":   node.ID,
		},
	}, nil
}
