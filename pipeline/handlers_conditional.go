// ABOUTME: Conditional (diamond) handler: pass-through of the upstream outcome for edge guard evaluation.
package pipeline

import "context"

// ConditionalHandler forwards the previous stage's outcome status unchanged
// so that out-edge guards (e.g. "outcome=fail") evaluate against the real
// upstream result rather than a hard-coded success.
type ConditionalHandler struct{}

// Type returns "conditional".
func (h *ConditionalHandler) Type() string { return "conditional" }

// Execute reads the "outcome" reserved context key set by the preceding
// stage and re-reports it as this node's status.
func (h *ConditionalHandler) Execute(ctx context.Context, node *Node, pctx *Context, graph *Graph, logsRoot string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	status := StatusSuccess
	if prev := pctx.GetString("outcome", ""); prev != "" {
		status = StageStatus(prev)
	}

	return &Outcome{
		Status: status,
		Notes:  "conditional node evaluated: " + node.ID,
		ContextUpdates: map[string]any{
			"last_stage": node.ID,
		},
	}, nil
}
