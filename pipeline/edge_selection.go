// ABOUTME: Edge selection for graph traversal: suggested-id filter, guard match, preferred label,
// ABOUTME: specificity/weight tiebreak, re-review redirection, and goal-gate enforcement.
package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const pendingReReviewsKey = "human.gate.pending_re_reviews"

// acceleratorPatterns matches accelerator prefixes like "[Y] ", "Y) ", "Y - " at the start of a label.
var acceleratorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\[\w\]\s+`), // [Y] Yes
	regexp.MustCompile(`^\w\)\s*`),   // Y) Yes
	regexp.MustCompile(`^\w\s*-\s+`), // Y - Yes
}

// NormalizeLabel lowercases a label, trims whitespace, and strips accelerator
// prefixes used for keyboard shortcuts on human-gate options.
func NormalizeLabel(label string) string {
	s := strings.TrimSpace(label)
	s = strings.ToLower(s)
	for _, pat := range acceleratorPatterns {
		s = pat.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

func edgeWeight(e *Edge) int {
	if e.Attrs == nil {
		return 0
	}
	w, err := strconv.Atoi(e.Attrs["weight"])
	if err != nil {
		return 0
	}
	return w
}

// bestBySpecificityThenWeight prefers guarded (non-empty condition) edges over
// unguarded ones; within the chosen specificity tier it picks the highest
// weight, breaking ties by source order (the slice's existing order, which
// SliceStable preserves).
func bestBySpecificityThenWeight(edges []*Edge) *Edge {
	if len(edges) == 0 {
		return nil
	}

	var guarded, unguarded []*Edge
	for _, e := range edges {
		if strings.TrimSpace(e.Attrs["condition"]) != "" {
			guarded = append(guarded, e)
		} else {
			unguarded = append(unguarded, e)
		}
	}

	pool := guarded
	if len(pool) == 0 {
		pool = unguarded
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return edgeWeight(pool[i]) > edgeWeight(pool[j])
	})
	return pool[0]
}

// pendingReReviews reads the human.gate.pending_re_reviews context entry,
// tolerating the map[string][]any shape that results from JSON-round-tripping
// a checkpoint as well as a freshly-built map[string][]string.
func pendingReReviews(ctx *Context) map[string][]string {
	raw := ctx.Get(pendingReReviewsKey)
	if raw == nil {
		return nil
	}
	out := make(map[string][]string)
	switch m := raw.(type) {
	case map[string][]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			switch targets := v.(type) {
			case []string:
				out[k] = targets
			case []any:
				for _, t := range targets {
					if s, ok := t.(string); ok {
						out[k] = append(out[k], s)
					}
				}
			}
		}
	}
	return out
}

// setPendingReReviewGate records that target must be redirected through gate
// before it can be reached, adding to any existing targets for that gate.
func setPendingReReviewGate(ctx *Context, gate, target string) {
	gates := pendingReReviews(ctx)
	if gates == nil {
		gates = make(map[string][]string)
	}
	for _, existing := range gates[gate] {
		if existing == target {
			ctx.Set(pendingReReviewsKey, gates)
			return
		}
	}
	gates[gate] = append(gates[gate], target)
	ctx.Set(pendingReReviewsKey, gates)
}

// clearPendingReReviewGate removes all recorded targets for gate, called when
// the gate is passed with an "accept" decision.
func clearPendingReReviewGate(ctx *Context, gate string) {
	gates := pendingReReviews(ctx)
	if gates == nil {
		return
	}
	delete(gates, gate)
	ctx.Set(pendingReReviewsKey, gates)
}

// findPendingReReviewGate returns the gate node ID that target must be
// redirected to, or "" if target is not subject to re-review or the flow just
// passed through that gate (avoiding a redundant self-loop).
func findPendingReReviewGate(ctx *Context, target, lastStage string) string {
	for gate, targets := range pendingReReviews(ctx) {
		if gate == lastStage {
			continue
		}
		for _, t := range targets {
			if t == target {
				return gate
			}
		}
	}
	return ""
}

// SelectTransition implements the engine's edge-selection algorithm
// (suggested_next_ids filter, guard evaluation, preferred-label override,
// specificity/weight/order tiebreak, re-review redirection, goal-gate
// enforcement). It returns the resolved destination node ID and the edge that
// produced it (nil edge when redirected by re-review), or an error describing
// why no transition could be made.
func SelectTransition(current *Node, outcome *Outcome, ctx *Context, graph *Graph) (targetID string, edge *Edge, err error) {
	edges := graph.OutgoingEdges(current.ID)
	if len(edges) == 0 {
		return "", nil, fmt.Errorf("node %q has no outgoing edges", current.ID)
	}

	candidates := edges
	if len(outcome.SuggestedNextIDs) > 0 {
		suggested := make(map[string]bool, len(outcome.SuggestedNextIDs))
		for _, id := range outcome.SuggestedNextIDs {
			suggested[id] = true
		}
		var filtered []*Edge
		for _, e := range edges {
			if suggested[e.To] {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}

	var matching []*Edge
	for _, e := range candidates {
		if EvaluateCondition(e.Attrs["condition"], outcome, ctx) {
			matching = append(matching, e)
		}
	}
	if len(matching) == 0 {
		return "", nil, fmt.Errorf("no outgoing edge of %q matched outcome %q", current.ID, outcome.Status)
	}

	var selected *Edge
	if outcome.PreferredLabel != "" {
		normalizedPref := NormalizeLabel(outcome.PreferredLabel)
		for _, e := range matching {
			if label, ok := e.Attrs["label"]; ok && NormalizeLabel(label) == normalizedPref {
				selected = e
				break
			}
		}
	}
	if selected == nil {
		selected = bestBySpecificityThenWeight(matching)
	}

	if current.Attrs["goal_gate"] == "true" && outcome.Status != StatusSuccess {
		if strings.TrimSpace(selected.Attrs["condition"]) == "" {
			return "", nil, fmt.Errorf("goal gate %q failed with status %q and no explicit failure edge", current.ID, outcome.Status)
		}
	}

	target := selected.To
	lastStage := ctx.GetString("last_stage", "")
	if gate := findPendingReReviewGate(ctx, target, lastStage); gate != "" {
		return gate, nil, nil
	}

	return target, selected, nil
}
