// ABOUTME: Tests for definition-level lint rules, exercised directly against hand-built WorkflowDefinitions.
package workflow

import (
	"testing"

	"github.com/bromanko/attractor-sub001/pipeline"
)

func hasRule(diags []pipeline.Diagnostic, rule string) bool {
	for _, d := range diags {
		if d.Rule == rule {
			return true
		}
	}
	return false
}

func TestValidateDefinitionRejectsWrongVersion(t *testing.T) {
	def := &WorkflowDefinition{Version: 1}
	diags := ValidateDefinition(def)
	if !hasRule(diags, "workflow_version") {
		t.Errorf("expected workflow_version diagnostic, got %+v", diags)
	}
}

func TestValidateDefinitionRejectsMissingStart(t *testing.T) {
	def := &WorkflowDefinition{Version: 2}
	diags := ValidateDefinition(def)
	if !hasRule(diags, "workflow_start_exists") {
		t.Errorf("expected workflow_start_exists diagnostic, got %+v", diags)
	}
}

func TestValidateDefinitionRejectsUndefinedStartStage(t *testing.T) {
	def := &WorkflowDefinition{Version: 2, Start: "missing"}
	diags := ValidateDefinition(def)
	if !hasRule(diags, "workflow_start_exists") {
		t.Errorf("expected workflow_start_exists diagnostic for undefined start stage, got %+v", diags)
	}
}

func TestValidateDefinitionRejectsDuplicateStage(t *testing.T) {
	def := &WorkflowDefinition{
		Version: 2,
		Start:   "a",
		Stages: []StageDef{
			{ID: "a", Kind: StageKindExit},
			{ID: "a", Kind: StageKindExit},
		},
	}
	diags := ValidateDefinition(def)
	if !hasRule(diags, "workflow_duplicate_stage") {
		t.Errorf("expected workflow_duplicate_stage diagnostic, got %+v", diags)
	}
}

func TestValidateDefinitionRejectsBadTransitionEndpoints(t *testing.T) {
	def := &WorkflowDefinition{
		Version: 2,
		Start:   "a",
		Stages:  []StageDef{{ID: "a", Kind: StageKindExit}},
		Transitions: []TransitionDef{
			{From: "a", To: "ghost"},
			{From: "ghost2", To: "a"},
		},
	}
	diags := ValidateDefinition(def)
	if !hasRule(diags, "workflow_transition_to") {
		t.Errorf("expected workflow_transition_to diagnostic, got %+v", diags)
	}
	if !hasRule(diags, "workflow_transition_from") {
		t.Errorf("expected workflow_transition_from diagnostic, got %+v", diags)
	}
}

func TestValidateDefinitionRejectsHumanStageWithNoOptions(t *testing.T) {
	def := &WorkflowDefinition{
		Version: 2,
		Start:   "gate",
		Stages:  []StageDef{{ID: "gate", Kind: StageKindHuman}},
	}
	diags := ValidateDefinition(def)
	if !hasRule(diags, "workflow_human_options") {
		t.Errorf("expected workflow_human_options diagnostic, got %+v", diags)
	}
}

func TestValidateDefinitionRejectsHumanOptionToUndefinedStage(t *testing.T) {
	def := &WorkflowDefinition{
		Version: 2,
		Start:   "gate",
		Stages: []StageDef{
			{ID: "gate", Kind: StageKindHuman, Options: []OptionDef{{Key: "ok", To: "ghost"}}},
		},
	}
	diags := ValidateDefinition(def)
	if !hasRule(diags, "workflow_human_options") {
		t.Errorf("expected workflow_human_options diagnostic for undefined option target, got %+v", diags)
	}
}

func TestValidateDefinitionAcceptsWellFormedWorkflow(t *testing.T) {
	def := &WorkflowDefinition{
		Version: 2,
		Start:   "build",
		Stages: []StageDef{
			{ID: "build", Kind: StageKindLLM, Prompt: "build it"},
			{ID: "done", Kind: StageKindExit},
		},
		Transitions: []TransitionDef{{From: "build", To: "done"}},
	}
	diags := ValidateDefinition(def)
	for _, d := range diags {
		if d.Severity == pipeline.SeverityError {
			t.Errorf("unexpected error diagnostic on a well-formed workflow: %+v", d)
		}
	}
}
