// ABOUTME: wait.human gate handler: presents choices derived from outgoing edges via the Interviewer interface.
// ABOUTME: Tracks re-review gates so a "revise"-style decision forces a later pass back through this gate.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WaitForHumanHandler handles human gate nodes (shape=hexagon, type=wait.human).
// It presents choices derived from outgoing edges to a human via the
// Interviewer interface and returns their selection.
type WaitForHumanHandler struct {
	// Interviewer is the human interaction frontend. If nil, the handler
	// returns a failure indicating no interviewer is available.
	Interviewer Interviewer
}

// Type returns "wait.human".
func (h *WaitForHumanHandler) Type() string { return "wait.human" }

// reviseDecisionMarkers identifies edge labels that send the flow back for
// rework rather than accepting it forward.
var reviseDecisionMarkers = []string{"revise", "reject", "request changes", "request_changes", "changes requested", "needs work"}

func isReviseDecision(normalizedLabel string) bool {
	for _, marker := range reviseDecisionMarkers {
		if strings.Contains(normalizedLabel, marker) {
			return true
		}
	}
	return false
}

var acceptDecisionMarkers = []string{"accept", "approve", "looks good", "lgtm"}

func isAcceptDecision(normalizedLabel string) bool {
	for _, marker := range acceptDecisionMarkers {
		if strings.Contains(normalizedLabel, marker) {
			return true
		}
	}
	return false
}

// Execute presents choices to a human and returns their selection.
//
// Supported node attributes:
//   - timeout_seconds: integer seconds limiting how long to wait for human input.
//   - default_answer: option selected if the timeout expires.
//   - kind: "yes_no" | "confirmation" | "multiple_choice" | "freeform" (defaults to multiple_choice).
//   - details: markdown rendered below the question text.
//
// Context updates always include human.timed_out (bool) and
// human.response_time_ms (int64). A revise-style decision records a pending
// re-review on human.gate.pending_re_reviews; an accept-style decision
// clears it.
func (h *WaitForHumanHandler) Execute(ctx context.Context, node *Node, pctx *Context, graph *Graph, logsRoot string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	edges := graph.OutgoingEdges(node.ID)
	if len(edges) == 0 {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "no outgoing edges for human gate: " + node.ID,
		}, nil
	}

	options := make([]string, 0, len(edges))
	edgeMap := make(map[string]*Edge, len(edges))
	for _, e := range edges {
		label := e.Attrs["label"]
		if label == "" {
			label = e.To
		}
		options = append(options, label)
		edgeMap[NormalizeLabel(label)] = e
	}

	if h.Interviewer == nil {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "no interviewer available for human gate: " + node.ID,
		}, nil
	}

	kind := QuestionKind(node.Attrs["kind"])
	if kind == "" {
		kind = QuestionMultipleChoice
	}

	timeoutSeconds := 0
	if v := node.Attrs["timeout_seconds"]; v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return &Outcome{Status: StatusFail, FailureReason: fmt.Sprintf("invalid timeout_seconds %q: %v", v, err)}, nil
		}
		timeoutSeconds = parsed
	}

	question := Question{
		ID:              node.ID,
		Kind:            kind,
		Text:            labelOrDefault(node.Attrs["label"], "Select an option:"),
		DetailsMarkdown: node.Attrs["details"],
		Options:         options,
		DefaultAnswer:   node.Attrs["default_answer"],
		TimeoutSeconds:  timeoutSeconds,
	}

	askCtx := WithNodeID(ctx, node.ID)
	start := time.Now()
	answer, err := h.Interviewer.Ask(askCtx, question)
	responseTimeMs := time.Since(start).Milliseconds()
	if answer.ResponseTimeMs > 0 {
		responseTimeMs = answer.ResponseTimeMs
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "interviewer error: " + err.Error(),
			ContextUpdates: map[string]any{
				"human.timed_out":        false,
				"human.response_time_ms": responseTimeMs,
			},
		}, nil
	}

	if answer.Value == AnswerTimeout && question.DefaultAnswer == "" {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: fmt.Sprintf("human gate %q timed out with no default_answer configured", node.ID),
			ContextUpdates: map[string]any{
				"human.timed_out":        true,
				"human.response_time_ms": responseTimeMs,
			},
		}, nil
	}
	if answer.Value == AnswerSkipped {
		return &Outcome{
			Status: StatusSkipped,
			Notes:  fmt.Sprintf("human gate %q skipped", node.ID),
			ContextUpdates: map[string]any{
				"human.timed_out":        false,
				"human.response_time_ms": responseTimeMs,
			},
		}, nil
	}

	selectedEdge := findEdgeByAnswer(answer.Value, edges, edgeMap)
	if selectedEdge == nil {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: fmt.Sprintf("human answer %q does not match any outgoing edge of %q", answer.Value, node.ID),
			ContextUpdates: map[string]any{
				"human.timed_out":        answer.TimedOut,
				"human.response_time_ms": responseTimeMs,
			},
		}, nil
	}

	selectedLabel := selectedEdge.Attrs["label"]
	if selectedLabel == "" {
		selectedLabel = selectedEdge.To
	}
	normalized := NormalizeLabel(selectedLabel)
	selectedKey := parseAcceleratorKey(selectedLabel)

	if isReviseDecision(normalized) {
		setPendingReReviewGate(pctx, node.ID, selectedEdge.To)
	} else if isAcceptDecision(normalized) {
		clearPendingReReviewGate(pctx, node.ID)
	}

	return &Outcome{
		Status:           StatusSuccess,
		PreferredLabel:   selectedLabel,
		SuggestedNextIDs: []string{selectedEdge.To},
		Notes:            "human selected: " + selectedLabel,
		ContextUpdates: map[string]any{
			"human.gate.selected":    selectedKey,
			"human.gate.label":       selectedLabel,
			"human.timed_out":        answer.TimedOut,
			"human.response_time_ms": responseTimeMs,
		},
	}, nil
}

func labelOrDefault(label, def string) string {
	if label == "" {
		return def
	}
	return label
}

// findEdgeByAnswer looks up an edge by normalized label match, then by
// accelerator key match; it returns nil when neither matches.
func findEdgeByAnswer(answer string, edges []*Edge, edgeMap map[string]*Edge) *Edge {
	if e, ok := edgeMap[NormalizeLabel(answer)]; ok {
		return e
	}
	for _, e := range edges {
		label := e.Attrs["label"]
		if label == "" {
			label = e.To
		}
		if strings.EqualFold(parseAcceleratorKey(label), answer) {
			return e
		}
	}
	return nil
}

// parseAcceleratorKey extracts the shortcut key from an edge label: "[K]
// Label" -> K, "K) Label" -> K, "K - Label" -> K, else the first character.
func parseAcceleratorKey(label string) string {
	s := strings.TrimSpace(label)
	if s == "" {
		return ""
	}
	if len(s) >= 4 && s[0] == '[' && s[2] == ']' {
		return string(s[1])
	}
	if len(s) >= 2 && s[1] == ')' {
		return string(s[0])
	}
	if len(s) >= 4 && s[1] == ' ' && s[2] == '-' {
		return string(s[0])
	}
	return string(s[0])
}
