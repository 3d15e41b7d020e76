// ABOUTME: Pipeline execution engine: validates, then drives a Graph from start to a terminal node.
// ABOUTME: Owns checkpointing, retries, edge selection, goal-gate enforcement, cancellation, and usage accounting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

// EngineConfig holds configuration for a pipeline execution engine instance.
type EngineConfig struct {
	LogsRoot       string           // directory for per-node artifacts (empty = skip artifact writing)
	CheckpointPath string           // single overwriting checkpoint file (empty = no checkpointing)
	Handlers       *HandlerRegistry // nil = caller must supply one before Run
	DefaultRetry   RetryPolicy      // default retry policy for nodes without an explicit override
	EventSink      EventSink        // optional observability sink; nil is a valid no-op sink

	// WorkspaceCleanup, when set, is invoked for best-effort emergency
	// teardown of an allocated workspace on a catastrophic handler failure
	// (no failure edge available). It never runs on cancellation.
	WorkspaceCleanup        *WorkspaceCleanupHandler
	DisableEmergencyCleanup bool
}

// Engine drives one Graph execution according to EngineConfig.
type Engine struct {
	config EngineConfig
}

// NewEngine creates a pipeline execution engine with the given configuration.
func NewEngine(config EngineConfig) *Engine {
	return &Engine{config: config}
}

// RunStatus classifies the terminal state of a pipeline execution.
type RunStatus string

const (
	RunStatusSuccess   RunStatus = "success"
	RunStatusFail      RunStatus = "fail"
	RunStatusCancelled RunStatus = "cancelled"
)

// FailureSummary gives a CLI or downstream caller enough signal to triage a
// failed run without re-reading logs, populated whenever the failing
// outcome carried a tool_failure diagnostic.
type FailureSummary struct {
	FailedNode        string
	FailureClass      string
	Digest            string
	FirstFailingCheck string
	RerunCommand      string
	LogsPath          string
	FailureReason     string
}

// buildFailureSummary derives a FailureSummary from the outcome that ended a
// run, when that outcome carried a tool_failure diagnostic. Returns nil for
// failures without one (goal-gate rejection, no matching edge, and similar
// control-flow failures carry their explanation in FailureReason instead).
func buildFailureSummary(nodeID string, outcome *Outcome) *FailureSummary {
	if outcome == nil || outcome.ToolFailure == nil {
		return nil
	}
	tf := outcome.ToolFailure
	return &FailureSummary{
		FailedNode:        nodeID,
		FailureClass:      string(tf.FailureClass),
		Digest:            tf.Digest,
		FirstFailingCheck: tf.FirstFailingCheck,
		RerunCommand:      tf.Command,
		LogsPath:          tf.ArtifactPaths.Meta,
		FailureReason:     outcome.FailureReason,
	}
}

// RunResult holds the final state of a completed (or cancelled) pipeline execution.
type RunResult struct {
	Status         RunStatus
	FinalOutcome   *Outcome
	CompletedNodes []string
	NodeOutcomes   map[string]*Outcome
	Context        *Context
	Usage          UsageSummary
	FailureSummary *FailureSummary
	Cancelled      bool
}

// Run validates graph, then drives it from its start node to a terminal node.
func (e *Engine) Run(ctx context.Context, graph *Graph) (*RunResult, error) {
	if _, err := ValidateOrRaise(graph); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	pctx := NewContext()
	for k, v := range graph.Attrs {
		pctx.Set(k, v)
	}

	startNode := graph.FindStartNode()
	if startNode == nil {
		return nil, fmt.Errorf("graph has no start node (shape=Mdiamond)")
	}

	emit(e.config.EventSink, EventPipelineStarted, "", nil)
	result, err := e.executeGraph(ctx, graph, pctx, startNode, nil, nil)
	return e.finish(result, err)
}

// ResumeFromCheckpoint loads a checkpoint and resumes execution from
// cp.ResumeNode(), restoring context values, logs, and retry counters.
func (e *Engine) ResumeFromCheckpoint(ctx context.Context, graph *Graph, checkpointPath string) (*RunResult, error) {
	cp, err := LoadCheckpoint(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	resumeID := cp.ResumeNode()
	resumeNode := graph.FindNode(resumeID)
	if resumeNode == nil {
		return nil, fmt.Errorf("checkpoint references node %q which does not exist in graph", resumeID)
	}

	pctx := NewContext()
	pctx.RestoreFrom(cp.ContextValues, cp.Logs)

	completed := append([]string(nil), cp.CompletedNodes...)
	retries := make(map[string]int, len(cp.NodeRetries))
	for k, v := range cp.NodeRetries {
		retries[k] = v
	}

	emit(e.config.EventSink, EventPipelineResumed, resumeID, map[string]any{"resume_from": cp.CurrentNode})
	result, err := e.executeGraph(ctx, graph, pctx, resumeNode, completed, retries)
	return e.finish(result, err)
}

func (e *Engine) finish(result *RunResult, err error) (*RunResult, error) {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		emit(e.config.EventSink, EventPipelineFailed, "", map[string]any{"error": err.Error()})
		return result, err
	}
	if result != nil && result.Status == RunStatusFail {
		data := map[string]any{}
		if result.FinalOutcome != nil && result.FinalOutcome.FailureReason != "" {
			data["error"] = result.FinalOutcome.FailureReason
		}
		emit(e.config.EventSink, EventPipelineFailed, "", data)
		return result, nil
	}
	emit(e.config.EventSink, EventPipelineCompleted, "", nil)
	return result, nil
}

const maxIterations = 10000

// executeGraph is the core traversal loop: resolve a handler for the current
// node, execute with retry, persist a checkpoint, select the next edge, and
// advance — until a terminal node is reached, the context is cancelled, or no
// further transition can be made.
func (e *Engine) executeGraph(
	ctx context.Context,
	graph *Graph,
	pctx *Context,
	startNode *Node,
	priorCompleted []string,
	priorRetries map[string]int,
) (*RunResult, error) {
	registry := e.config.Handlers
	if registry == nil {
		return nil, fmt.Errorf("no handler registry configured")
	}

	completedNodes := append([]string(nil), priorCompleted...)
	nodeOutcomes := make(map[string]*Outcome)
	nodeRetries := make(map[string]int, len(priorRetries))
	for k, v := range priorRetries {
		nodeRetries[k] = v
	}
	var usage UsageSummary
	var finalOutcome *Outcome

	// failResult builds a fail RunResult carrying whatever progress the run
	// made before the failure, per spec's propagation policy: in-run
	// execution failures surface through RunResult.Status, not a returned
	// error. Only setup/configuration problems (missing registry, no start
	// node, a failed validation or checkpoint load) still raise as errors.
	failResult := func(failedNode string, outcome *Outcome, reason string) (*RunResult, error) {
		if outcome == nil {
			outcome = &Outcome{Status: StatusFail, FailureReason: reason}
		}
		return &RunResult{
			Status:         RunStatusFail,
			FinalOutcome:   outcome,
			CompletedNodes: completedNodes,
			NodeOutcomes:   nodeOutcomes,
			Context:        pctx,
			Usage:          usage,
			FailureSummary: buildFailureSummary(failedNode, outcome),
		}, nil
	}

	currentNode := startNode
	iteration := 0

	for {
		iteration++
		if iteration > maxIterations {
			return failResult(currentNode.ID, nil, fmt.Sprintf("execution exceeded maximum iterations (%d), possible infinite loop", maxIterations))
		}

		if err := ctx.Err(); err != nil {
			e.checkpointOnCancel(pctx, currentNode.ID, "", completedNodes, nodeRetries)
			emit(e.config.EventSink, EventPipelineCancelled, currentNode.ID, nil)
			return &RunResult{Status: RunStatusCancelled, CompletedNodes: completedNodes, NodeOutcomes: nodeOutcomes, Context: pctx, Usage: usage, Cancelled: true}, err
		}

		node := currentNode
		handler := registry.Resolve(node)
		if handler == nil {
			return failResult(node.ID, nil, fmt.Sprintf("no handler found for node %q", node.ID))
		}

		if isTerminal(node) {
			emit(e.config.EventSink, EventStageStarted, node.ID, nil)
			outcome, err := safeExecute(ctx, handler, node, pctx, graph, e.config.LogsRoot)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					e.checkpointOnCancel(pctx, node.ID, "", completedNodes, nodeRetries)
					emit(e.config.EventSink, EventPipelineCancelled, node.ID, nil)
					return &RunResult{Status: RunStatusCancelled, CompletedNodes: completedNodes, NodeOutcomes: nodeOutcomes, Context: pctx, Usage: usage, Cancelled: true}, err
				}
				emit(e.config.EventSink, EventStageFailed, node.ID, map[string]any{"reason": err.Error()})
				return failResult(node.ID, nil, fmt.Sprintf("terminal node %q handler error: %v", node.ID, err))
			}
			completedNodes = append(completedNodes, node.ID)
			nodeOutcomes[node.ID] = outcome
			if outcome.ContextUpdates != nil {
				pctx.ApplyUpdates(outcome.ContextUpdates)
			}
			emit(e.config.EventSink, EventStageCompleted, node.ID, nil)
			finalOutcome = outcome
			break
		}

		emit(e.config.EventSink, EventStageStarted, node.ID, nil)
		retryPolicy := buildRetryPolicy(node, graph, e.config.DefaultRetry)
		outcome, err := e.executeWithRetry(ctx, handler, node, pctx, graph, retryPolicy, nodeRetries)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				e.checkpointOnCancel(pctx, node.ID, "", completedNodes, nodeRetries)
				emit(e.config.EventSink, EventPipelineCancelled, node.ID, nil)
				return &RunResult{Status: RunStatusCancelled, CompletedNodes: completedNodes, NodeOutcomes: nodeOutcomes, Context: pctx, Usage: usage, Cancelled: true}, err
			}
			emit(e.config.EventSink, EventStageFailed, node.ID, map[string]any{"reason": err.Error()})
			return failResult(node.ID, nil, fmt.Sprintf("node %q execution error: %v", node.ID, err))
		}

		completedNodes = append(completedNodes, node.ID)
		nodeOutcomes[node.ID] = outcome

		if tokens, ok := outcome.ContextUpdates["codergen.tokens_used"].(int); ok && tokens > 0 {
			snapshot := usage.Record(node.ID, Usage{TotalTokens: tokens})
			emit(e.config.EventSink, EventUsageUpdate, node.ID, map[string]any{"usage": snapshot})
		}

		if outcome.Status == StatusSuccess || outcome.Status == StatusPartialSuccess || outcome.Status == StatusSkipped {
			emit(e.config.EventSink, EventStageCompleted, node.ID, nil)
		} else {
			failData := map[string]any{"status": string(outcome.Status)}
			if outcome.FailureReason != "" {
				failData["reason"] = outcome.FailureReason
			}
			emit(e.config.EventSink, EventStageFailed, node.ID, failData)
		}

		if outcome.ContextUpdates != nil {
			pctx.ApplyUpdates(outcome.ContextUpdates)
		}
		pctx.Set("outcome", string(outcome.Status))
		if handler.Type() == "codergen" && (outcome.Status == StatusFail || outcome.Status == StatusPartialSuccess) &&
			(node.Attrs["goal_gate"] == "true" || (node.Attrs["re_review"] != "" && node.Attrs["re_review"] != "false")) {
			pctx.AppendToArray("review.findings", ReviewFinding{NodeID: node.ID, Status: string(outcome.Status), FailureReason: outcome.FailureReason, Notes: outcome.Notes})
		}
		pctx.Set("last_stage", node.ID)
		if outcome.PreferredLabel != "" {
			pctx.Set("preferred_label", outcome.PreferredLabel)
		}
		if outcome.ToolFailure != nil {
			pctx.Set("tool_failure", outcome.ToolFailure)
		}

		target, selectedEdge, selErr := SelectTransition(node, outcome, pctx, graph)
		if selectedEdge != nil {
			pctx.Set("last_edge_label", selectedEdge.Attrs["label"])
		}
		if selErr != nil {
			if outcome.Status == StatusFail && !e.config.DisableEmergencyCleanup && e.config.WorkspaceCleanup != nil {
				e.config.WorkspaceCleanup.EmergencyCleanup(ctx, pctx)
			}
			return failResult(node.ID, outcome, fmt.Sprintf("stage %q: %v", node.ID, selErr))
		}

		nextNode := graph.FindNode(target)
		if nextNode == nil {
			return failResult(node.ID, outcome, fmt.Sprintf("edge from %q points to nonexistent node %q", node.ID, target))
		}

		if e.config.CheckpointPath != "" {
			cp := NewCheckpoint(pctx, node.ID, nextNode.ID, completedNodes, nodeRetries)
			if err := cp.Save(e.config.CheckpointPath); err != nil {
				pctx.AppendLog(fmt.Sprintf("warning: failed to save checkpoint: %v", err))
			} else {
				emit(e.config.EventSink, EventCheckpointSaved, node.ID, nil)
			}
		}

		currentNode = nextNode
	}

	return &RunResult{
		Status:         RunStatusSuccess,
		FinalOutcome:   finalOutcome,
		CompletedNodes: completedNodes,
		NodeOutcomes:   nodeOutcomes,
		Context:        pctx,
		Usage:          usage,
	}, nil
}

// checkpointOnCancel persists a resumable checkpoint on cancellation.
// nextNode is left empty so resume re-executes currentNodeID (per the
// cancellation contract: a cancel that lands mid-stage must not skip it).
func (e *Engine) checkpointOnCancel(pctx *Context, currentNodeID, nextNodeID string, completedNodes []string, nodeRetries map[string]int) {
	if e.config.CheckpointPath == "" {
		return
	}
	cp := NewCheckpoint(pctx, currentNodeID, nextNodeID, completedNodes, nodeRetries)
	_ = cp.Save(e.config.CheckpointPath)
}

// safeExecute wraps handler.Execute with panic recovery, converting a handler
// panic into a plain error so one misbehaving handler can't crash the engine.
func safeExecute(ctx context.Context, handler NodeHandler, node *Node, pctx *Context, graph *Graph, logsRoot string) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic in node %q: %v\n%s", node.ID, r, debug.Stack())
			outcome = nil
		}
	}()
	return handler.Execute(ctx, node, pctx, graph, logsRoot)
}

// executeWithRetry runs handler according to policy, retrying on StatusRetry
// outcomes, on handler errors, and on fail or partial_success outcomes that
// policy.ShouldRetry accepts, with exponential backoff between attempts. A catastrophic failure (error, not an
// Outcome) that exhausts retries triggers emergency workspace cleanup when
// configured.
func (e *Engine) executeWithRetry(
	ctx context.Context,
	handler NodeHandler,
	node *Node,
	pctx *Context,
	graph *Graph,
	policy RetryPolicy,
	nodeRetries map[string]int,
) (*Outcome, error) {
	shouldRetry := policy.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}

	var lastOutcome *Outcome
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcome, err := safeExecute(ctx, handler, node, pctx, graph, e.config.LogsRoot)
		if err != nil {
			lastErr = err
			if attempt < policy.MaxAttempts {
				nodeRetries[node.ID]++
				emit(e.config.EventSink, EventStageRetrying, node.ID, map[string]any{"attempt": attempt})
				sleepWithContext(ctx, policy.Backoff.DelayForAttempt(attempt-1))
				continue
			}
			if !e.config.DisableEmergencyCleanup && e.config.WorkspaceCleanup != nil {
				e.config.WorkspaceCleanup.EmergencyCleanup(ctx, pctx)
			}
			if node.Attrs["allow_partial"] == "true" {
				return &Outcome{Status: StatusPartialSuccess, FailureReason: fmt.Sprintf("retries exhausted with error: %v", err)}, nil
			}
			return &Outcome{Status: StatusFail, FailureReason: fmt.Sprintf("execution error after %d attempt(s): %v", attempt, err)}, nil
		}

		lastOutcome = outcome

		switch outcome.Status {
		case StatusSuccess, StatusSkipped:
			nodeRetries[node.ID] = 0
			return outcome, nil

		case StatusRetry:
			if attempt < policy.MaxAttempts {
				nodeRetries[node.ID]++
				emit(e.config.EventSink, EventStageRetrying, node.ID, map[string]any{"attempt": attempt})
				sleepWithContext(ctx, policy.Backoff.DelayForAttempt(attempt-1))
				continue
			}
			if node.Attrs["allow_partial"] == "true" {
				return &Outcome{Status: StatusPartialSuccess, FailureReason: "retries exhausted"}, nil
			}
			return &Outcome{Status: StatusFail, FailureReason: fmt.Sprintf("retries exhausted after %d attempt(s)", attempt)}, nil

		case StatusFail, StatusPartialSuccess:
			if shouldRetry(outcome) && attempt < policy.MaxAttempts {
				nodeRetries[node.ID]++
				emit(e.config.EventSink, EventStageRetrying, node.ID, map[string]any{"attempt": attempt})
				sleepWithContext(ctx, policy.Backoff.DelayForAttempt(attempt-1))
				continue
			}
			if outcome.Status == StatusPartialSuccess {
				nodeRetries[node.ID] = 0
			}
			return outcome, nil

		default:
			return outcome, nil
		}
	}

	if lastOutcome != nil {
		return lastOutcome, nil
	}
	return nil, lastErr
}

// sleepWithContext sleeps for d, returning early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// sanitizeNodeID replaces path separators and other unsafe characters in a
// node ID, so it's always safe to use as a path component in artifact/log
// filenames.
func sanitizeNodeID(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", string(os.PathSeparator), "_")
	return r.Replace(id)
}
