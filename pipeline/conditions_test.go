// ABOUTME: Tests for compiled edge-guard clause evaluation against an outcome and a run context.
package pipeline

import "testing"

func TestEvaluateConditionEmptyClauseIsAlwaysTrue(t *testing.T) {
	if !EvaluateCondition("", nil, NewContext()) {
		t.Error("expected an empty clause to evaluate true")
	}
	if !EvaluateCondition("   ", &Outcome{Status: StatusFail}, NewContext()) {
		t.Error("expected a whitespace-only clause to evaluate true")
	}
}

func TestEvaluateConditionOutcomeStatus(t *testing.T) {
	outcome := &Outcome{Status: StatusSuccess}
	if !EvaluateCondition("outcome=success", outcome, NewContext()) {
		t.Error("expected outcome=success to match a success outcome")
	}
	if EvaluateCondition("outcome=fail", outcome, NewContext()) {
		t.Error("expected outcome=fail to not match a success outcome")
	}
	if !EvaluateCondition("outcome!=fail", outcome, NewContext()) {
		t.Error("expected outcome!=fail to match a success outcome")
	}
}

func TestEvaluateConditionContextKey(t *testing.T) {
	ctx := NewContext()
	ctx.Set("context.build.status", "success")
	if !EvaluateCondition("context.build.status=success", nil, ctx) {
		t.Error("expected context.build.status=success to match")
	}
	if EvaluateCondition("context.build.status=fail", nil, ctx) {
		t.Error("expected context.build.status=fail to not match")
	}
}

func TestEvaluateConditionExistsKeyUnsetMatchesEmptyString(t *testing.T) {
	ctx := NewContext()
	if !EvaluateCondition("context.build.artifact=", nil, ctx) {
		t.Error("expected an unset key to match the empty-string literal (exists() negation)")
	}
	ctx.Set("context.build.artifact", "out.bin")
	if EvaluateCondition("context.build.artifact=", nil, ctx) {
		t.Error("expected a set key to no longer match the empty-string literal")
	}
	if !EvaluateCondition("context.build.artifact!=", nil, ctx) {
		t.Error("expected a set key to match the exists() clause")
	}
}

func TestEvaluateConditionAndRequiresAllAtoms(t *testing.T) {
	outcome := &Outcome{Status: StatusSuccess, PreferredLabel: "ready"}
	if !EvaluateCondition("outcome=success && preferred_label=ready", outcome, NewContext()) {
		t.Error("expected both atoms to match")
	}
	if EvaluateCondition("outcome=success && preferred_label=blocked", outcome, NewContext()) {
		t.Error("expected the second atom mismatch to fail the whole clause")
	}
}

func TestEvaluateConditionMalformedAtomNeverMatches(t *testing.T) {
	if EvaluateCondition("no-operator-here", nil, NewContext()) {
		t.Error("expected a malformed atom (no operator) to never match")
	}
}

func TestEvaluateConditionNeverSentinel(t *testing.T) {
	if EvaluateCondition("outcome=__never__", &Outcome{Status: "__never__"}, NewContext()) == false {
		t.Error("the __never__ sentinel is just a literal string, and should match itself if it somehow appeared as a status")
	}
}

func TestValidateConditionSyntax(t *testing.T) {
	if !ValidateConditionSyntax("") {
		t.Error("expected empty clause to be valid")
	}
	if !ValidateConditionSyntax("outcome=success && context.build.status!=fail") {
		t.Error("expected well-formed clause to be valid")
	}
	if ValidateConditionSyntax("no-operator-here") {
		t.Error("expected a clause with no operator to be invalid")
	}
}
