// ABOUTME: Loader: detects workflow source format and lowers a WorkflowDefinition into a pipeline.Graph.
// ABOUTME: Implements the stage-kind-to-handler-type mapping and transition/option/route edge-expansion rules.
package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bromanko/attractor-sub001/pipeline"
)

// IsDeclarativeSource reports whether source is written in the declarative
// v2 document format rather than the legacy digraph-family grammar.
func IsDeclarativeSource(source string) bool {
	return strings.HasPrefix(strings.TrimSpace(source), "workflow")
}

// Load parses source in whichever surface format it's written in (the
// declarative v2 document, or the legacy digraph-family grammar) and returns
// the lowered pipeline.Graph ready for validation and execution.
func Load(source string) (*pipeline.Graph, error) {
	graph, _, err := LoadWithDiagnostics(source)
	return graph, err
}

// LoadWithDiagnostics parses and lowers source the same way Load does, but
// also returns any workflow_* definition-level diagnostics found along the
// way (empty for the legacy surface, which has no separate definition
// stage to lint). A definition-level error diagnostic still aborts lowering
// and is folded into the returned error.
func LoadWithDiagnostics(source string) (*pipeline.Graph, []pipeline.Diagnostic, error) {
	trimmed := strings.TrimSpace(source)
	if !strings.HasPrefix(trimmed, "workflow") {
		graph, err := ParseLegacyGraph(source)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing legacy graph: %w", err)
		}
		return graph, nil, nil
	}

	def, err := ParseKDL(source)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing declarative workflow: %w", err)
	}
	diags := ValidateDefinition(def)
	for _, d := range diags {
		if d.Severity == pipeline.SeverityError {
			return nil, diags, fmt.Errorf("workflow definition failed validation: %s", d.Message)
		}
	}
	graph, err := LowerToGraph(def)
	if err != nil {
		return nil, diags, err
	}
	return graph, diags, nil
}

var stageKindToType = map[StageKind]string{
	StageKindLLM:              "codergen",
	StageKindTool:             "tool",
	StageKindHuman:            "wait.human",
	StageKindDecision:         "conditional",
	StageKindExit:             "exit",
	StageKindWorkspaceCreate:  "workspace.create",
	StageKindWorkspaceMerge:   "workspace.merge",
	StageKindWorkspaceCleanup: "workspace.cleanup",
}

// LowerToGraph converts a parsed WorkflowDefinition into an engine-ready
// pipeline.Graph: a synthetic start node (type=start) pointing at the declared
// start stage, one node per stage, and edges for every transition, human
// option, and decision route.
func LowerToGraph(def *WorkflowDefinition) (*pipeline.Graph, error) {
	if def.Version != 2 {
		return nil, fmt.Errorf("unsupported workflow version %d, expected 2", def.Version)
	}
	if def.Start == "" {
		return nil, fmt.Errorf("workflow has no start stage declared")
	}

	graph := &pipeline.Graph{
		Name:         def.Name,
		Attrs:        map[string]string{},
		Nodes:        make(map[string]*pipeline.Node),
		Edges:        make([]*pipeline.Edge, 0),
		NodeDefaults: map[string]string{},
		EdgeDefaults: map[string]string{},
	}
	if def.Goal != "" {
		graph.Attrs["goal"] = def.Goal
	}

	startID := "start"
	if def.StageByID(startID) != nil {
		startID = "__workflow_start__"
	}
	graph.Nodes[startID] = &pipeline.Node{ID: startID, Attrs: map[string]string{"type": "start"}}
	graph.Edges = append(graph.Edges, &pipeline.Edge{From: startID, To: def.Start, Attrs: map[string]string{}})

	for _, stage := range def.Stages {
		node, err := lowerStage(stage, def)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", stage.ID, err)
		}
		graph.Nodes[stage.ID] = node

		for _, opt := range stage.Options {
			attrs := map[string]string{"label": opt.Label}
			if attrs["label"] == "" {
				attrs["label"] = opt.Key
			}
			attrs["option_key"] = opt.Key
			graph.Edges = append(graph.Edges, &pipeline.Edge{From: stage.ID, To: opt.To, Attrs: attrs})
		}

		for _, route := range stage.Routes {
			edges, err := lowerExpr(route.When, route.Priority, stage.ID, route.To)
			if err != nil {
				return nil, fmt.Errorf("stage %q route to %q: %w", stage.ID, route.To, err)
			}
			graph.Edges = append(graph.Edges, edges...)
		}
	}

	for _, t := range def.Transitions {
		edges, err := lowerExpr(t.When, t.Priority, t.From, t.To)
		if err != nil {
			return nil, fmt.Errorf("transition %s->%s: %w", t.From, t.To, err)
		}
		graph.Edges = append(graph.Edges, edges...)
	}

	return graph, nil
}

func lowerStage(stage StageDef, def *WorkflowDefinition) (*pipeline.Node, error) {
	handlerType, ok := stageKindToType[stage.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown stage kind %q", stage.Kind)
	}

	attrs := make(map[string]string, len(stage.Attrs)+6)
	for k, v := range stage.Attrs {
		attrs[k] = v
	}
	attrs["type"] = handlerType
	if stage.Prompt != "" {
		attrs["prompt"] = stage.Prompt
	}
	if stage.PromptFile != "" {
		attrs["prompt_file"] = stage.PromptFile
	}
	if stage.Label != "" {
		attrs["label"] = stage.Label
	}

	if profileName, ok := attrs["model_profile"]; ok && def.Models != nil {
		for _, profile := range def.Models.Profiles {
			if profile.Name != profileName {
				continue
			}
			if _, set := attrs["llm_model"]; !set && profile.Model != "" {
				attrs["llm_model"] = profile.Model
			}
			if _, set := attrs["provider"]; !set && profile.Provider != "" {
				attrs["provider"] = profile.Provider
			}
			if _, set := attrs["reasoning_effort"]; !set && profile.ReasoningEffort != "" {
				attrs["reasoning_effort"] = profile.ReasoningEffort
			}
			break
		}
	}
	if _, set := attrs["llm_model"]; !set && def.Models != nil && def.Models.Default != "" && stage.Kind == StageKindLLM {
		attrs["llm_model"] = def.Models.Default
	}

	if stage.Retry != nil {
		if stage.Retry.MaxAttempts > 0 {
			attrs["max_retries"] = strconv.Itoa(stage.Retry.MaxAttempts - 1)
		}
		if stage.Retry.Delay != "" {
			attrs["retry_delay"] = stage.Retry.Delay
		}
		if stage.Retry.MaxDelay != "" {
			attrs["retry_max_delay"] = stage.Retry.MaxDelay
		}
		if stage.Retry.Backoff != "" {
			attrs["retry_backoff"] = stage.Retry.Backoff
		}
	}

	return &pipeline.Node{ID: stage.ID, Attrs: attrs}, nil
}

// lowerExpr compiles a guard expression and expands it into zero or more
// edges: one per DNF disjunct, weighted per spec (priority*1e6 + (N-index)).
func lowerExpr(when string, priority int, from, to string) ([]*pipeline.Edge, error) {
	compiled, err := pipeline.CompileExpression(when)
	if err != nil {
		return nil, err
	}

	switch compiled.Kind {
	case pipeline.CompiledUnsatisfiable:
		return nil, nil
	case pipeline.CompiledUnconditional:
		attrs := map[string]string{}
		if priority != 0 {
			attrs["weight"] = strconv.Itoa(priority * 1_000_000)
		}
		return []*pipeline.Edge{{From: from, To: to, Attrs: attrs}}, nil
	case pipeline.CompiledDisjunction:
		n := len(compiled.Clauses)
		edges := make([]*pipeline.Edge, 0, n)
		for i, clause := range compiled.Clauses {
			weight := priority*1_000_000 + (n - i)
			edges = append(edges, &pipeline.Edge{
				From: from,
				To:   to,
				Attrs: map[string]string{
					"condition": clause,
					"weight":    strconv.Itoa(weight),
				},
			})
		}
		return edges, nil
	default:
		return nil, fmt.Errorf("unknown compiled expression kind %q", compiled.Kind)
	}
}
