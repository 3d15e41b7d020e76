// ABOUTME: Tests for the pipeline execution engine's core traversal loop.
// ABOUTME: Covers the four worked acceptance scenarios: linear success, goal-gate-blocks-exit, retry-then-success, and cancel-before-first-stage.
package pipeline

import (
	"context"
	"fmt"
	"testing"
)

// testHandler is a configurable NodeHandler returning preset outcomes, or
// delegating to executeFn for scripted per-call behavior.
type testHandler struct {
	typeName  string
	executeFn func(ctx context.Context, node *Node, pctx *Context, graph *Graph) (*Outcome, error)
	callCount int
}

func (h *testHandler) Type() string { return h.typeName }

func (h *testHandler) Execute(ctx context.Context, node *Node, pctx *Context, graph *Graph, logsRoot string) (*Outcome, error) {
	h.callCount++
	if h.executeFn != nil {
		return h.executeFn(ctx, node, pctx, graph)
	}
	return &Outcome{Status: StatusSuccess}, nil
}

func newSuccessHandler(typeName string) *testHandler {
	return &testHandler{typeName: typeName}
}

func buildTestRegistry(handlers ...*testHandler) *HandlerRegistry {
	reg := NewHandlerRegistry()
	for _, h := range handlers {
		reg.Register(h)
	}
	return reg
}

func newGraph(name string) *Graph {
	return &Graph{
		Name:         name,
		Attrs:        map[string]string{},
		Nodes:        make(map[string]*Node),
		NodeDefaults: map[string]string{},
		EdgeDefaults: map[string]string{},
	}
}

func addNode(g *Graph, id string, attrs map[string]string) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	g.Nodes[id] = &Node{ID: id, Attrs: attrs}
}

func addEdge(g *Graph, from, to string, attrs map[string]string) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	g.Edges = append(g.Edges, &Edge{From: from, To: to, Attrs: attrs})
}

// buildLinearGraph creates: start -> work -> exit
func buildLinearGraph() *Graph {
	g := newGraph("linear")
	addNode(g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(g, "work", map[string]string{"shape": "box"})
	addNode(g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(g, "start", "work", nil)
	addEdge(g, "work", "exit", nil)
	return g
}

// TestEngineRunLinearSuccess covers spec's worked scenario 1: a linear
// start -> work -> exit pipeline where every stage succeeds ends with
// status=success and every node in CompletedNodes, in order.
func TestEngineRunLinearSuccess(t *testing.T) {
	g := buildLinearGraph()
	reg := buildTestRegistry(newSuccessHandler("start"), newSuccessHandler("codergen"), newSuccessHandler("exit"))

	engine := NewEngine(EngineConfig{Handlers: reg, DefaultRetry: RetryPolicyNone()})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != RunStatusSuccess {
		t.Errorf("Status = %q, want %q", result.Status, RunStatusSuccess)
	}
	want := []string{"start", "work", "exit"}
	if len(result.CompletedNodes) != len(want) {
		t.Fatalf("CompletedNodes = %v, want %v", result.CompletedNodes, want)
	}
	for i, id := range want {
		if result.CompletedNodes[i] != id {
			t.Errorf("CompletedNodes[%d] = %q, want %q", i, result.CompletedNodes[i], id)
		}
	}
	if result.FinalOutcome == nil || result.FinalOutcome.Status != StatusSuccess {
		t.Errorf("FinalOutcome = %+v, want success", result.FinalOutcome)
	}
}

// buildGoalGateGraph creates: start -> implement(goal_gate) -> exit, with no
// explicit failure edge out of implement.
func buildGoalGateGraph() *Graph {
	g := newGraph("goal-gate")
	addNode(g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(g, "implement", map[string]string{"shape": "box", "goal_gate": "true"})
	addNode(g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(g, "start", "implement", nil)
	addEdge(g, "implement", "exit", nil)
	return g
}

// TestEngineRunGoalGateBlocksExit covers spec's worked scenario 2: a
// goal-gated node fails with no explicit failure edge, so the pipeline ends
// status=fail and exit is never reached.
func TestEngineRunGoalGateBlocksExit(t *testing.T) {
	g := buildGoalGateGraph()
	implementH := &testHandler{typeName: "codergen", executeFn: func(ctx context.Context, node *Node, pctx *Context, graph *Graph) (*Outcome, error) {
		return &Outcome{Status: StatusFail, FailureReason: "tests still failing"}, nil
	}}
	exitH := newSuccessHandler("exit")
	reg := buildTestRegistry(newSuccessHandler("start"), implementH, exitH)

	engine := NewEngine(EngineConfig{Handlers: reg, DefaultRetry: RetryPolicyNone()})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != RunStatusFail {
		t.Errorf("Status = %q, want %q", result.Status, RunStatusFail)
	}
	for _, id := range result.CompletedNodes {
		if id == "exit" {
			t.Errorf("CompletedNodes = %v, exit must not be reached when its goal gate fails", result.CompletedNodes)
		}
	}
	if exitH.callCount != 0 {
		t.Errorf("exit handler called %d times, want 0", exitH.callCount)
	}
	if result.FinalOutcome == nil || result.FinalOutcome.Status != StatusFail {
		t.Errorf("FinalOutcome = %+v, want a fail outcome from implement", result.FinalOutcome)
	}
}

// buildRetryLoopGraph creates a diamond: start -> run_tests -> (pass) exit,
// run_tests -> (fail) diagnose -> fix -> run_tests.
func buildRetryLoopGraph() *Graph {
	g := newGraph("retry-loop")
	addNode(g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(g, "run_tests", map[string]string{"shape": "parallelogram"})
	addNode(g, "diagnose", map[string]string{"shape": "box"})
	addNode(g, "fix", map[string]string{"shape": "box"})
	addNode(g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(g, "start", "run_tests", nil)
	addEdge(g, "run_tests", "exit", map[string]string{"condition": "outcome=success"})
	addEdge(g, "run_tests", "diagnose", map[string]string{"condition": "outcome=fail"})
	addEdge(g, "diagnose", "fix", nil)
	addEdge(g, "fix", "run_tests", nil)
	return g
}

// TestEngineRunRetryLoopThenSuccess covers spec's worked scenario 3: the
// first run_tests attempt fails, the diagnose/fix loop runs once, and the
// second run_tests attempt succeeds, ending status=success with each looped
// node appearing exactly once in CompletedNodes.
func TestEngineRunRetryLoopThenSuccess(t *testing.T) {
	g := buildRetryLoopGraph()

	attempt := 0
	runTestsH := &testHandler{typeName: "tool", executeFn: func(ctx context.Context, node *Node, pctx *Context, graph *Graph) (*Outcome, error) {
		attempt++
		if attempt == 1 {
			return &Outcome{Status: StatusFail, FailureReason: "2 tests failing"}, nil
		}
		return &Outcome{Status: StatusSuccess}, nil
	}}
	reg := buildTestRegistry(newSuccessHandler("start"), runTestsH, newSuccessHandler("codergen"), newSuccessHandler("exit"))

	engine := NewEngine(EngineConfig{Handlers: reg, DefaultRetry: RetryPolicyNone()})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != RunStatusSuccess {
		t.Errorf("Status = %q, want %q", result.Status, RunStatusSuccess)
	}
	if attempt != 2 {
		t.Errorf("run_tests executed %d times, want 2", attempt)
	}
	counts := map[string]int{}
	for _, id := range result.CompletedNodes {
		counts[id]++
	}
	for _, id := range []string{"diagnose", "fix"} {
		if counts[id] != 1 {
			t.Errorf("CompletedNodes contains %q %d times, want 1: %v", id, counts[id], result.CompletedNodes)
		}
	}
	if counts["run_tests"] != 2 {
		t.Errorf("CompletedNodes contains run_tests %d times, want 2: %v", counts["run_tests"], result.CompletedNodes)
	}
	if counts["exit"] != 1 {
		t.Errorf("CompletedNodes contains exit %d times, want 1: %v", counts["exit"], result.CompletedNodes)
	}
}

// TestEngineRunCancelBeforeFirstStage covers spec's worked scenario 4: a
// context already cancelled before the first stage executes yields
// status=cancelled, no handler is ever invoked, and emergency cleanup never
// runs.
func TestEngineRunCancelBeforeFirstStage(t *testing.T) {
	g := buildLinearGraph()
	startH := newSuccessHandler("start")
	workH := newSuccessHandler("codergen")
	exitH := newSuccessHandler("exit")
	reg := buildTestRegistry(startH, workH, exitH)

	engine := NewEngine(EngineConfig{
		Handlers:     reg,
		DefaultRetry: RetryPolicyNone(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Run(ctx, g)
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if result == nil {
		t.Fatal("expected a non-nil result even on cancellation")
	}
	if !result.Cancelled {
		t.Error("expected Cancelled=true")
	}
	if result.Status != RunStatusCancelled {
		t.Errorf("Status = %q, want %q", result.Status, RunStatusCancelled)
	}
	if len(result.CompletedNodes) != 0 {
		t.Errorf("CompletedNodes = %v, want none (cancelled before first stage)", result.CompletedNodes)
	}
	if startH.callCount != 0 || workH.callCount != 0 || exitH.callCount != 0 {
		t.Error("no handler should run once the context is already cancelled")
	}
}

func TestEngineRunFailsWhenNoHandlerRegistered(t *testing.T) {
	g := buildLinearGraph()
	reg := buildTestRegistry(newSuccessHandler("start"))

	engine := NewEngine(EngineConfig{Handlers: reg, DefaultRetry: RetryPolicyNone()})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != RunStatusFail {
		t.Errorf("Status = %q, want %q", result.Status, RunStatusFail)
	}
}

func TestEngineRunNoMatchingEdgeFails(t *testing.T) {
	g := newGraph("no-match")
	addNode(g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(g, "check", map[string]string{"shape": "box"})
	addNode(g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(g, "start", "check", nil)
	addEdge(g, "check", "exit", map[string]string{"condition": "outcome=success"})

	checkH := &testHandler{typeName: "codergen", executeFn: func(ctx context.Context, node *Node, pctx *Context, graph *Graph) (*Outcome, error) {
		return &Outcome{Status: StatusFail, FailureReason: "no matching edge"}, nil
	}}
	reg := buildTestRegistry(newSuccessHandler("start"), checkH, newSuccessHandler("exit"))

	engine := NewEngine(EngineConfig{Handlers: reg, DefaultRetry: RetryPolicyNone()})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != RunStatusFail {
		t.Errorf("Status = %q, want %q", result.Status, RunStatusFail)
	}
	if result.FailureSummary != nil {
		t.Errorf("FailureSummary = %+v, want nil (no tool_failure on this outcome)", result.FailureSummary)
	}
}

func TestEngineRunPopulatesFailureSummaryFromToolFailure(t *testing.T) {
	g := newGraph("tool-fail")
	addNode(g, "start", map[string]string{"shape": "Mdiamond"})
	addNode(g, "build", map[string]string{"shape": "parallelogram", "goal_gate": "true"})
	addNode(g, "exit", map[string]string{"shape": "Msquare"})
	addEdge(g, "start", "build", nil)
	addEdge(g, "build", "exit", nil)

	tf := NewToolStageFailure(ToolFailureExitNonzero, "make test", "/repo", 1, "", 100, "", "FAIL: TestFoo", ToolFailureArtifacts{Meta: "/logs/build/meta.json"})
	buildH := &testHandler{typeName: "tool", executeFn: func(ctx context.Context, node *Node, pctx *Context, graph *Graph) (*Outcome, error) {
		return &Outcome{Status: StatusFail, FailureReason: "build failed", ToolFailure: tf}, nil
	}}
	reg := buildTestRegistry(newSuccessHandler("start"), buildH, newSuccessHandler("exit"))

	engine := NewEngine(EngineConfig{Handlers: reg, DefaultRetry: RetryPolicyNone()})
	result, err := engine.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != RunStatusFail {
		t.Fatalf("Status = %q, want %q", result.Status, RunStatusFail)
	}
	if result.FailureSummary == nil {
		t.Fatal("expected a non-nil FailureSummary")
	}
	if result.FailureSummary.FailedNode != "build" {
		t.Errorf("FailedNode = %q, want build", result.FailureSummary.FailedNode)
	}
	if result.FailureSummary.RerunCommand != "make test" {
		t.Errorf("RerunCommand = %q, want %q", result.FailureSummary.RerunCommand, "make test")
	}
	if result.FailureSummary.LogsPath != "/logs/build/meta.json" {
		t.Errorf("LogsPath = %q, want %q", result.FailureSummary.LogsPath, "/logs/build/meta.json")
	}
}

func TestSanitizeNodeID(t *testing.T) {
	cases := map[string]string{
		"build":       "build",
		"a/b":         "a_b",
		"a\\b":        "a_b",
		"a..b":        "a_b",
		"plain-label": "plain-label",
	}
	for in, want := range cases {
		if got := sanitizeNodeID(in); got != want {
			t.Errorf("sanitizeNodeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExecuteWithRetryRespectsMaxAttempts(t *testing.T) {
	calls := 0
	h := &testHandler{typeName: "codergen", executeFn: func(ctx context.Context, node *Node, pctx *Context, graph *Graph) (*Outcome, error) {
		calls++
		return nil, fmt.Errorf("boom")
	}}
	node := &Node{ID: "n", Attrs: map[string]string{}}
	engine := NewEngine(EngineConfig{})

	policy := RetryPolicy{MaxAttempts: 3, Backoff: BackoffConfig{InitialDelay: 0, Factor: 1, MaxDelay: 0}, ShouldRetry: DefaultShouldRetry}
	outcome, err := engine.executeWithRetry(context.Background(), h, node, NewContext(), newGraph("g"), policy, map[string]int{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("outcome.Status = %q, want %q", outcome.Status, StatusFail)
	}
	if calls != 3 {
		t.Errorf("handler called %d times, want 3", calls)
	}
}
