// ABOUTME: Graph-shape validation rules for a lowered Graph: structural and semantic lints.
// ABOUTME: Produces Diagnostic[]; ValidateOrRaise aborts execution when any error-severity diagnostic exists.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// Severity is the severity level of a validation Diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Diagnostic is one validation finding.
type Diagnostic struct {
	Rule     string
	Severity Severity
	Message  string
	NodeID   string     `json:"node_id,omitempty"`
	Edge     *[2]string `json:"edge,omitempty"`
	Fix      string     `json:"fix,omitempty"`
}

// LintRule is one pluggable validation check against a lowered Graph.
type LintRule interface {
	Name() string
	Apply(g *Graph) []Diagnostic
}

var knownHandlerTypes = map[string]bool{
	"start":              true,
	"exit":               true,
	"codergen":           true,
	"conditional":        true,
	"tool":               true,
	"wait.human":         true,
	"workspace.create":   true,
	"workspace.merge":    true,
	"workspace.cleanup":  true,
}

var validFidelityModes = map[string]bool{
	"full": true, "compact": true, "truncate": true,
}

func isValidFidelity(mode string) bool {
	if validFidelityModes[mode] {
		return true
	}
	return len(mode) > len("summary:") && mode[:len("summary:")] == "summary:"
}

// builtinRules returns every graph-shape lint rule spec.md §4.2 names.
func builtinRules() []LintRule {
	return []LintRule{
		&startNodeRule{},
		&terminalNodeRule{},
		&startNoIncomingRule{},
		&exitNoOutgoingRule{},
		&edgeTargetExistsRule{},
		&reachabilityRule{},
		&conditionSyntaxRule{},
		&typeKnownRule{},
		&fidelityValidRule{},
		&retryTargetExistsRule{},
		&goalGateHasRetryRule{},
		&failurePathRule{},
		&conditionalGateCoverageRule{},
		&humanGateOptionsRule{},
		&promptOnLLMNodesRule{},
		&promptFileExistsRule{},
	}
}

// Validate runs all built-in graph-shape rules plus any extra rules.
func Validate(g *Graph, extraRules ...LintRule) []Diagnostic {
	var diags []Diagnostic
	for _, rule := range append(builtinRules(), extraRules...) {
		diags = append(diags, rule.Apply(g)...)
	}
	return diags
}

// ValidateOrRaise runs validation and returns an error naming the count of
// error-severity diagnostics, if any exist.
func ValidateOrRaise(g *Graph, extraRules ...LintRule) ([]Diagnostic, error) {
	diags := Validate(g, extraRules...)
	var errCount int
	for _, d := range diags {
		if d.Severity == SeverityError {
			errCount++
		}
	}
	if errCount > 0 {
		return diags, fmt.Errorf("graph validation failed with %d error(s)", errCount)
	}
	return diags, nil
}

// --- start_node ---

type startNodeRule struct{}

func (r *startNodeRule) Name() string { return "start_node" }

func (r *startNodeRule) Apply(g *Graph) []Diagnostic {
	var starts []string
	for _, n := range g.Nodes {
		if isStartNode(n) {
			starts = append(starts, n.ID)
		}
	}
	if len(starts) == 1 {
		return nil
	}
	return []Diagnostic{{
		Rule: r.Name(), Severity: SeverityError,
		Message: fmt.Sprintf("graph must have exactly one start node (shape=Mdiamond), found %d: %v", len(starts), starts),
		Fix:     "ensure exactly one node has shape=Mdiamond",
	}}
}

// --- terminal_node ---

type terminalNodeRule struct{}

func (r *terminalNodeRule) Name() string { return "terminal_node" }

func (r *terminalNodeRule) Apply(g *Graph) []Diagnostic {
	if len(g.FindExitNodes()) > 0 {
		return nil
	}
	return []Diagnostic{{
		Rule: r.Name(), Severity: SeverityError,
		Message: "graph has no terminal node (shape=Msquare)",
		Fix:     "add at least one node with shape=Msquare",
	}}
}

// --- start_no_incoming ---

type startNoIncomingRule struct{}

func (r *startNoIncomingRule) Name() string { return "start_no_incoming" }

func (r *startNoIncomingRule) Apply(g *Graph) []Diagnostic {
	start := g.FindStartNode()
	if start == nil {
		return nil
	}
	if in := g.IncomingEdges(start.ID); len(in) > 0 {
		return []Diagnostic{{
			Rule: r.Name(), Severity: SeverityError, NodeID: start.ID,
			Message: fmt.Sprintf("start node %q has %d incoming edge(s)", start.ID, len(in)),
			Fix:     "remove edges targeting the start node",
		}}
	}
	return nil
}

// --- exit_no_outgoing ---

type exitNoOutgoingRule struct{}

func (r *exitNoOutgoingRule) Name() string { return "exit_no_outgoing" }

func (r *exitNoOutgoingRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, n := range g.FindExitNodes() {
		if out := g.OutgoingEdges(n.ID); len(out) > 0 {
			diags = append(diags, Diagnostic{
				Rule: r.Name(), Severity: SeverityError, NodeID: n.ID,
				Message: fmt.Sprintf("exit node %q has %d outgoing edge(s)", n.ID, len(out)),
				Fix:     "remove edges originating from the exit node",
			})
		}
	}
	return diags
}

// --- edge_target_exists ---

type edgeTargetExistsRule struct{}

func (r *edgeTargetExistsRule) Name() string { return "edge_target_exists" }

func (r *edgeTargetExistsRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, e := range g.Edges {
		edge := [2]string{e.From, e.To}
		if g.FindNode(e.From) == nil {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityError, Edge: &edge,
				Message: fmt.Sprintf("edge source %q does not exist", e.From)})
		}
		if g.FindNode(e.To) == nil {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityError, Edge: &edge,
				Message: fmt.Sprintf("edge target %q does not exist", e.To)})
		}
	}
	return diags
}

// --- reachability ---

type reachabilityRule struct{}

func (r *reachabilityRule) Name() string { return "reachability" }

func (r *reachabilityRule) Apply(g *Graph) []Diagnostic {
	start := g.FindStartNode()
	if start == nil {
		return nil
	}
	visited := map[string]bool{start.ID: true}
	queue := []string{start.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.OutgoingEdges(cur) {
			if !visited[e.To] {
				visited[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		if !visited[id] {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityError, NodeID: id,
				Message: fmt.Sprintf("node %q is not reachable from start node %q", id, start.ID),
				Fix:     fmt.Sprintf("add an edge path from start to %q", id)})
		}
	}
	return diags
}

// --- condition_syntax ---

type conditionSyntaxRule struct{}

func (r *conditionSyntaxRule) Name() string { return "condition_syntax" }

func (r *conditionSyntaxRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, e := range g.Edges {
		cond := e.Attrs["condition"]
		if cond == "" {
			continue
		}
		if !ValidateConditionSyntax(cond) {
			edge := [2]string{e.From, e.To}
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityError, Edge: &edge,
				Message: fmt.Sprintf("edge %s->%s has malformed condition %q", e.From, e.To, cond)})
		}
	}
	return diags
}

// --- type_known ---

type typeKnownRule struct{}

func (r *typeKnownRule) Name() string { return "type_known" }

func (r *typeKnownRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		t, ok := n.Attrs["type"]
		if !ok || t == "" {
			continue
		}
		if !knownHandlerTypes[t] {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityWarning, NodeID: id,
				Message: fmt.Sprintf("node %q has unrecognized type %q", id, t)})
		}
	}
	return diags
}

// --- fidelity_valid ---

type fidelityValidRule struct{}

func (r *fidelityValidRule) Name() string { return "fidelity_valid" }

func (r *fidelityValidRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		f, ok := n.Attrs["fidelity"]
		if !ok || f == "" {
			continue
		}
		if !isValidFidelity(f) {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityWarning, NodeID: id,
				Message: fmt.Sprintf("node %q has invalid fidelity mode %q", id, f)})
		}
	}
	return diags
}

// --- retry_target_exists ---

type retryTargetExistsRule struct{}

func (r *retryTargetExistsRule) Name() string { return "retry_target_exists" }

func (r *retryTargetExistsRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		target := getRetryTarget(n, g)
		if target == "" {
			continue
		}
		if g.FindNode(target) == nil {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityWarning, NodeID: id,
				Message: fmt.Sprintf("node %q retry target %q does not exist", id, target)})
		}
	}
	return diags
}

// --- goal_gate_has_retry ---

type goalGateHasRetryRule struct{}

func (r *goalGateHasRetryRule) Name() string { return "goal_gate_has_retry" }

func (r *goalGateHasRetryRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		if n.Attrs["goal_gate"] != "true" {
			continue
		}
		if getRetryTarget(n, g) == "" {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityWarning, NodeID: id,
				Message: fmt.Sprintf("goal gate %q has no retry_target configured", id)})
		}
	}
	return diags
}

// --- failure_path ---

type failurePathRule struct{}

func (r *failurePathRule) Name() string { return "failure_path" }

func (r *failurePathRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		handlerType := n.Attrs["type"]
		if handlerType == "" {
			handlerType = ShapeToHandlerType(n.Attrs["shape"])
		}
		isToolOrWorkspace := handlerType == "tool" ||
			handlerType == "workspace.create" || handlerType == "workspace.merge" || handlerType == "workspace.cleanup"
		if !isToolOrWorkspace {
			continue
		}
		hasFailureEdge := false
		for _, e := range g.OutgoingEdges(id) {
			cond := e.Attrs["condition"]
			if cond == "" || containsFailStatus(cond) {
				hasFailureEdge = true
				break
			}
		}
		if !hasFailureEdge {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityWarning, NodeID: id,
				Message: fmt.Sprintf("%s node %q has no route for a fail outcome", handlerType, id)})
		}
	}
	return diags
}

func containsFailStatus(cond string) bool {
	for _, needle := range []string{"status=fail", "status!=success", ".status=fail"} {
		if len(cond) >= len(needle) {
			for i := 0; i+len(needle) <= len(cond); i++ {
				if cond[i:i+len(needle)] == needle {
					return true
				}
			}
		}
	}
	return false
}

// --- conditional_gate_coverage ---

type conditionalGateCoverageRule struct{}

func (r *conditionalGateCoverageRule) Name() string { return "conditional_gate_coverage" }

func (r *conditionalGateCoverageRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		if n.Attrs["shape"] != "diamond" {
			continue
		}
		edges := g.OutgoingEdges(id)
		hasSuccess, hasFail := false, false
		for _, e := range edges {
			cond := e.Attrs["condition"]
			if cond == "" {
				hasSuccess, hasFail = true, true
				continue
			}
			if containsFailStatus(cond) {
				hasFail = true
			} else {
				hasSuccess = true
			}
		}
		if !(hasSuccess && hasFail) {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityWarning, NodeID: id,
				Message: fmt.Sprintf("conditional node %q only routes one side of success/fail", id)})
		}
	}
	return diags
}

// --- human_gate_options ---

type humanGateOptionsRule struct{}

func (r *humanGateOptionsRule) Name() string { return "human_gate_options" }

func (r *humanGateOptionsRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		if n.Attrs["shape"] != "hexagon" && n.Attrs["type"] != "wait.human" {
			continue
		}
		if len(g.OutgoingEdges(id)) < 2 {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityWarning, NodeID: id,
				Message: fmt.Sprintf("human gate %q has fewer than 2 outgoing edges", id)})
		}
	}
	return diags
}

// --- prompt_on_llm_nodes ---

type promptOnLLMNodesRule struct{}

func (r *promptOnLLMNodesRule) Name() string { return "prompt_on_llm_nodes" }

func (r *promptOnLLMNodesRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		handlerType := n.Attrs["type"]
		if handlerType == "" {
			handlerType = ShapeToHandlerType(n.Attrs["shape"])
		}
		if handlerType != "codergen" {
			continue
		}
		if n.Attrs["prompt"] == "" && n.Attrs["prompt_file"] == "" && n.Attrs["label"] == "" {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityWarning, NodeID: id,
				Message: fmt.Sprintf("LLM node %q has no prompt, prompt_file, or label", id)})
		}
	}
	return diags
}

// --- prompt_file_exists ---

type promptFileExistsRule struct{}

func (r *promptFileExistsRule) Name() string { return "prompt_file_exists" }

func (r *promptFileExistsRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		pf := n.Attrs["prompt_file"]
		if pf == "" {
			continue
		}
		for _, path := range splitCommaList(pf) {
			if _, err := os.Stat(path); err != nil {
				if _, err2 := os.Stat(filepath.Clean(path)); err2 != nil {
					diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityWarning, NodeID: id,
						Message: fmt.Sprintf("node %q references missing prompt file %q", id, path)})
				}
			}
		}
	}
	return diags
}

func splitCommaList(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ',' {
			out = append(out, trimSpace(cur))
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, trimSpace(cur))
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
