// ABOUTME: Tests for the edge-guard expression compiler: lexing/parsing through NNF/DNF lowering.
// ABOUTME: Covers unconditional collapse, the never-clause for a negated bare call, disjunction expansion, conjunction joining, and stage-ref extraction.
package pipeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompileExpressionEmptyIsUnconditional(t *testing.T) {
	got, err := CompileExpression("")
	if err != nil {
		t.Fatalf("CompileExpression: %v", err)
	}
	if got.Kind != CompiledUnconditional {
		t.Errorf("Kind = %s, want unconditional", got.Kind)
	}
}

func TestCompileExpressionSimpleOutcome(t *testing.T) {
	got, err := CompileExpression(`outcome("build") == "success"`)
	if err != nil {
		t.Fatalf("CompileExpression: %v", err)
	}
	if got.Kind != CompiledDisjunction {
		t.Fatalf("Kind = %s, want disjunction", got.Kind)
	}
	want := []string{"context.build.status=success"}
	if diff := cmp.Diff(want, got.Clauses); diff != "" {
		t.Errorf("Clauses mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileExpressionOrExpandsToMultipleClauses(t *testing.T) {
	got, err := CompileExpression(`outcome("a") == "fail" || outcome("b") == "fail"`)
	if err != nil {
		t.Fatalf("CompileExpression: %v", err)
	}
	if got.Kind != CompiledDisjunction {
		t.Fatalf("Kind = %s, want disjunction", got.Kind)
	}
	if len(got.Clauses) != 2 {
		t.Fatalf("got %d clauses, want 2: %v", len(got.Clauses), got.Clauses)
	}
}

func TestCompileExpressionAndJoinsWithinClause(t *testing.T) {
	got, err := CompileExpression(`outcome("build") == "success" && exists("build.artifact")`)
	if err != nil {
		t.Fatalf("CompileExpression: %v", err)
	}
	want := []string{"context.build.status=success && context.build.artifact!="}
	if diff := cmp.Diff(want, got.Clauses); diff != "" {
		t.Errorf("Clauses mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileExpressionNegatedExists(t *testing.T) {
	got, err := CompileExpression(`!exists("build.artifact")`)
	if err != nil {
		t.Fatalf("CompileExpression: %v", err)
	}
	want := []string{"context.build.artifact="}
	if diff := cmp.Diff(want, got.Clauses); diff != "" {
		t.Errorf("Clauses mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileExpressionBareOutcomeNegationLowersToNeverClause(t *testing.T) {
	got, err := CompileExpression(`!outcome("build")`)
	if err != nil {
		t.Fatalf("CompileExpression: %v", err)
	}
	if got.Kind != CompiledDisjunction {
		t.Fatalf("Kind = %s, want disjunction", got.Kind)
	}
	want := []string{"outcome=__never__"}
	if diff := cmp.Diff(want, got.Clauses); diff != "" {
		t.Errorf("Clauses mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileExpressionInvalidSyntaxErrors(t *testing.T) {
	if _, err := CompileExpression(`outcome("build") ==`); err == nil {
		t.Error("expected an error for truncated expression, got nil")
	}
}

func TestStageRefsReportsOneRefPerCall(t *testing.T) {
	refs, err := StageRefs(`outcome("build") == "success" && output("build.exit_code") == "0" || exists("deploy.url")`)
	if err != nil {
		t.Fatalf("StageRefs: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("got %d refs, want 3: %+v", len(refs), refs)
	}
	for _, r := range refs {
		if r.StageID != "build" && r.StageID != "deploy" {
			t.Errorf("unexpected stage id %q", r.StageID)
		}
	}
}

func TestStageRefsEmptyExpressionReturnsNil(t *testing.T) {
	refs, err := StageRefs("")
	if err != nil {
		t.Fatalf("StageRefs: %v", err)
	}
	if refs != nil {
		t.Errorf("got %v, want nil", refs)
	}
}
