// ABOUTME: Lint rules for the declarative WorkflowDefinition, run before lowering to a pipeline.Graph.
// ABOUTME: Reuses pipeline.Diagnostic/Severity so CLI rendering is uniform across both validation passes.
package workflow

import (
	"fmt"
	"strings"

	"github.com/bromanko/attractor-sub001/pipeline"
)

// ValidateDefinition runs every workflow_* lint rule against a parsed
// declarative definition and returns the diagnostics found. It does not
// mutate def and does not lower it.
func ValidateDefinition(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	for _, rule := range definitionRules {
		diags = append(diags, rule(def)...)
	}
	return diags
}

type definitionRule func(def *WorkflowDefinition) []pipeline.Diagnostic

var definitionRules = []definitionRule{
	ruleVersion,
	ruleStartExists,
	ruleDuplicateStage,
	ruleTransitionEndpoints,
	ruleHumanOptions,
	ruleRoutingPartition,
	ruleDecisionCatchAll,
	ruleExpressionSyntax,
	ruleExpressionStageRef,
	ruleModelProfile,
	ruleRetryMaxAttempts,
	rulePromptFilePath,
	ruleToolCommand,
	ruleLLMPrompt,
	ruleReachableExit,
}

func diag(rule string, sev pipeline.Severity, nodeID, msg, fix string) pipeline.Diagnostic {
	d := pipeline.Diagnostic{Rule: rule, Severity: sev, Message: msg, Fix: fix}
	if nodeID != "" {
		d.NodeID = nodeID
	}
	return d
}

func ruleVersion(def *WorkflowDefinition) []pipeline.Diagnostic {
	if def.Version != 2 {
		return []pipeline.Diagnostic{diag("workflow_version", pipeline.SeverityError, "",
			fmt.Sprintf("workflow version %d is not supported", def.Version),
			"set version 2")}
	}
	return nil
}

func ruleStartExists(def *WorkflowDefinition) []pipeline.Diagnostic {
	if def.Start == "" {
		return []pipeline.Diagnostic{diag("workflow_start_exists", pipeline.SeverityError, "",
			"workflow has no start stage declared", "add start \"<stage-id>\"")}
	}
	if def.StageByID(def.Start) == nil {
		return []pipeline.Diagnostic{diag("workflow_start_exists", pipeline.SeverityError, def.Start,
			fmt.Sprintf("start references undefined stage %q", def.Start), "declare the stage or fix the start reference")}
	}
	return nil
}

func ruleDuplicateStage(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	seen := make(map[string]bool)
	for _, s := range def.Stages {
		if seen[s.ID] {
			diags = append(diags, diag("workflow_duplicate_stage", pipeline.SeverityError, s.ID,
				fmt.Sprintf("stage %q is declared more than once", s.ID), "remove or rename the duplicate"))
		}
		seen[s.ID] = true
	}
	return diags
}

func ruleTransitionEndpoints(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	for _, t := range def.Transitions {
		if def.StageByID(t.From) == nil {
			diags = append(diags, diag("workflow_transition_from", pipeline.SeverityError, t.From,
				fmt.Sprintf("transition references undefined source stage %q", t.From), "declare the stage or fix the transition"))
		}
		if def.StageByID(t.To) == nil {
			diags = append(diags, diag("workflow_transition_to", pipeline.SeverityError, t.To,
				fmt.Sprintf("transition references undefined target stage %q", t.To), "declare the stage or fix the transition"))
		}
	}
	return diags
}

func ruleHumanOptions(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	for _, s := range def.Stages {
		if s.Kind != StageKindHuman {
			continue
		}
		if len(s.Options) == 0 {
			diags = append(diags, diag("workflow_human_options", pipeline.SeverityError, s.ID,
				fmt.Sprintf("human stage %q declares no options", s.ID), "add at least one option"))
			continue
		}
		for _, opt := range s.Options {
			if def.StageByID(opt.To) == nil {
				diags = append(diags, diag("workflow_human_options", pipeline.SeverityError, s.ID,
					fmt.Sprintf("human stage %q option %q targets undefined stage %q", s.ID, opt.Key, opt.To),
					"declare the stage or fix the option target"))
			}
		}
	}
	return diags
}

func ruleRoutingPartition(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	for _, s := range def.Stages {
		if s.Kind != StageKindDecision {
			continue
		}
		if len(s.Routes) == 0 {
			diags = append(diags, diag("workflow_routing_partition", pipeline.SeverityError, s.ID,
				fmt.Sprintf("decision stage %q declares no routes", s.ID), "add at least one route"))
			continue
		}
		allUnsatisfiable := true
		for _, route := range s.Routes {
			compiled, err := pipeline.CompileExpression(route.When)
			if err != nil {
				continue
			}
			if compiled.Kind != pipeline.CompiledUnsatisfiable {
				allUnsatisfiable = false
			}
		}
		if allUnsatisfiable {
			diags = append(diags, diag("workflow_routing_partition", pipeline.SeverityError, s.ID,
				fmt.Sprintf("decision stage %q has no route that can ever be taken", s.ID),
				"loosen at least one route's condition"))
		}
	}
	return diags
}

func ruleDecisionCatchAll(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	for _, s := range def.Stages {
		if s.Kind != StageKindDecision || len(s.Routes) == 0 {
			continue
		}
		last := s.Routes[len(s.Routes)-1]
		compiled, err := pipeline.CompileExpression(last.When)
		if err == nil && compiled.Kind == pipeline.CompiledUnconditional {
			continue
		}
		diags = append(diags, diag("workflow_decision_catch_all", pipeline.SeverityWarning, s.ID,
			fmt.Sprintf("decision stage %q has no unconditional catch-all route; unmatched outcomes will fail transition selection", s.ID),
			"add a final route with no when clause"))
	}
	return diags
}

func ruleExpressionSyntax(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	check := func(nodeID, when string) {
		if when == "" {
			return
		}
		if _, err := pipeline.CompileExpression(when); err != nil {
			diags = append(diags, diag("workflow_expression_syntax", pipeline.SeverityError, nodeID,
				fmt.Sprintf("invalid expression %q: %v", when, err), "fix the expression syntax"))
		}
	}
	for _, s := range def.Stages {
		for _, r := range s.Routes {
			check(s.ID, r.When)
		}
	}
	for _, t := range def.Transitions {
		check(t.From, t.When)
	}
	return diags
}

func ruleExpressionStageRef(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	check := func(nodeID, when string) {
		if when == "" {
			return
		}
		refs, err := pipeline.StageRefs(when)
		if err != nil {
			return
		}
		for _, ref := range refs {
			if def.StageByID(ref.StageID) == nil {
				diags = append(diags, diag("workflow_expression_stage_ref", pipeline.SeverityError, nodeID,
					fmt.Sprintf("expression %q references undefined stage %q", when, ref.StageID),
					"fix the referenced stage id"))
			}
		}
	}
	for _, s := range def.Stages {
		for _, r := range s.Routes {
			check(s.ID, r.When)
		}
	}
	for _, t := range def.Transitions {
		check(t.From, t.When)
	}
	return diags
}

func ruleModelProfile(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	profiles := make(map[string]bool)
	if def.Models != nil {
		for _, p := range def.Models.Profiles {
			profiles[p.Name] = true
		}
	}
	for _, s := range def.Stages {
		name, ok := s.Attrs["model_profile"]
		if !ok {
			continue
		}
		if !profiles[name] {
			diags = append(diags, diag("workflow_model_profile", pipeline.SeverityError, s.ID,
				fmt.Sprintf("stage %q references undefined model profile %q", s.ID, name),
				"declare the profile under models or fix the reference"))
		}
	}
	return diags
}

func ruleRetryMaxAttempts(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	for _, s := range def.Stages {
		if s.Retry == nil {
			continue
		}
		if s.Retry.MaxAttempts < 1 {
			diags = append(diags, diag("workflow_retry_max_attempts", pipeline.SeverityError, s.ID,
				fmt.Sprintf("stage %q retry.max_attempts must be at least 1, got %d", s.ID, s.Retry.MaxAttempts),
				"set max_attempts to 1 or higher"))
		}
	}
	return diags
}

func rulePromptFilePath(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	for _, s := range def.Stages {
		if s.PromptFile == "" {
			continue
		}
		if strings.HasPrefix(s.PromptFile, "/") || strings.Contains(s.PromptFile, "..") {
			diags = append(diags, diag("workflow_prompt_file_path", pipeline.SeverityError, s.ID,
				fmt.Sprintf("stage %q prompt_file %q must be a relative path with no \"..\" segments", s.ID, s.PromptFile),
				"use a path relative to the workflow file with no parent traversal"))
		}
	}
	return diags
}

func ruleToolCommand(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	for _, s := range def.Stages {
		if s.Kind != StageKindTool {
			continue
		}
		if s.Attrs["tool_command"] == "" {
			diags = append(diags, diag("workflow_tool_command", pipeline.SeverityError, s.ID,
				fmt.Sprintf("tool stage %q does not set tool_command", s.ID), "add tool_command=\"...\""))
		}
	}
	return diags
}

func ruleLLMPrompt(def *WorkflowDefinition) []pipeline.Diagnostic {
	var diags []pipeline.Diagnostic
	for _, s := range def.Stages {
		if s.Kind != StageKindLLM {
			continue
		}
		hasPrompt := s.Prompt != ""
		hasFile := s.PromptFile != ""
		switch {
		case hasPrompt && hasFile:
			diags = append(diags, diag("workflow_llm_prompt", pipeline.SeverityError, s.ID,
				fmt.Sprintf("llm stage %q sets both prompt and prompt_file", s.ID), "keep only one"))
		case !hasPrompt && !hasFile:
			diags = append(diags, diag("workflow_llm_prompt", pipeline.SeverityError, s.ID,
				fmt.Sprintf("llm stage %q sets neither prompt nor prompt_file", s.ID), "add one"))
		}
	}
	return diags
}

func ruleReachableExit(def *WorkflowDefinition) []pipeline.Diagnostic {
	if def.Start == "" || def.StageByID(def.Start) == nil {
		return nil
	}
	adjacency := make(map[string][]string)
	for _, s := range def.Stages {
		for _, opt := range s.Options {
			adjacency[s.ID] = append(adjacency[s.ID], opt.To)
		}
		for _, route := range s.Routes {
			adjacency[s.ID] = append(adjacency[s.ID], route.To)
		}
	}
	for _, t := range def.Transitions {
		adjacency[t.From] = append(adjacency[t.From], t.To)
	}

	visited := map[string]bool{def.Start: true}
	queue := []string{def.Start}
	reachesExit := false
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if stage := def.StageByID(id); stage != nil && stage.Kind == StageKindExit {
			reachesExit = true
			break
		}
		for _, next := range adjacency[id] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	if !reachesExit {
		return []pipeline.Diagnostic{diag("workflow_reachable_exit", pipeline.SeverityError, def.Start,
			"no exit stage is reachable from the start stage", "add a path from start to an exit stage")}
	}
	return nil
}
