// ABOUTME: Tests for CodergenHandler's variable expansion and status-marker parsing contract.
package pipeline

import (
	"context"
	"errors"
	"testing"
)

// stubBackend is a scripted LLMBackend for tests.
type stubBackend struct {
	result *AgentRunResult
	err    error
	gotCfg AgentRunConfig
}

func (b *stubBackend) RunStage(ctx context.Context, config AgentRunConfig) (*AgentRunResult, error) {
	b.gotCfg = config
	if b.err != nil {
		return nil, b.err
	}
	return b.result, nil
}

func TestParseStatusMarkersSuccess(t *testing.T) {
	resp := "Did the work.\n\n[STATUS: success]\n"
	status, _, _, _, ok := parseStatusMarkers(resp)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if status != StatusSuccess {
		t.Errorf("status = %q, want %q", status, StatusSuccess)
	}
}

func TestParseStatusMarkersFailWithReasonAndLabel(t *testing.T) {
	resp := "Ran into trouble.\n\n[STATUS: fail]\n[FAILURE_REASON: tests did not pass]\n[PREFERRED_LABEL: retry]\n[NEXT: diagnose]\n[NEXT: fix]\n"
	status, reason, label, next, ok := parseStatusMarkers(resp)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if status != StatusFail {
		t.Errorf("status = %q, want %q", status, StatusFail)
	}
	if reason != "tests did not pass" {
		t.Errorf("reason = %q, want %q", reason, "tests did not pass")
	}
	if label != "retry" {
		t.Errorf("label = %q, want %q", label, "retry")
	}
	if len(next) != 2 || next[0] != "diagnose" || next[1] != "fix" {
		t.Errorf("next = %v, want [diagnose fix]", next)
	}
}

func TestParseStatusMarkersMissingMarkerReturnsNotOK(t *testing.T) {
	_, _, _, _, ok := parseStatusMarkers("just some prose with no marker at all")
	if ok {
		t.Error("expected ok=false when no [STATUS: ...] marker is present")
	}
}

func TestParseStatusMarkersCaseInsensitiveAliases(t *testing.T) {
	cases := map[string]StageStatus{
		"[STATUS: SUCCESS]":         StatusSuccess,
		"[status: failure]":         StatusFail,
		"[STATUS: partial_success]": StatusPartialSuccess,
		"[Status: Retry]":           StatusRetry,
		"[STATUS: skipped]":         StatusSkipped,
	}
	for marker, want := range cases {
		status, _, _, _, ok := parseStatusMarkers("work done\n\n" + marker)
		if !ok {
			t.Errorf("marker %q: expected ok=true", marker)
			continue
		}
		if status != want {
			t.Errorf("marker %q: status = %q, want %q", marker, status, want)
		}
	}
}

func TestAutoStatusEnabledDefaultsTrue(t *testing.T) {
	if !autoStatusEnabled(&Node{Attrs: map[string]string{}}) {
		t.Error("expected auto_status to default to enabled")
	}
	if autoStatusEnabled(&Node{Attrs: map[string]string{"auto_status": "false"}}) {
		t.Error("expected auto_status=false to disable marker parsing")
	}
}

func TestExpandVariablesSubstitutesGoalAndContextKeys(t *testing.T) {
	pctx := NewContext()
	pctx.Set("goal", "ship the feature")
	pctx.Set("build.status", "green")

	got := expandVariables("Goal: $goal, build is $build.status, unknown: $nope", pctx)
	want := "Goal: ship the feature, build is green, unknown: $nope"
	if got != want {
		t.Errorf("expandVariables = %q, want %q", got, want)
	}
}

func TestCodergenHandlerMissingStatusMarkerSetsFailureClass(t *testing.T) {
	backend := &stubBackend{result: &AgentRunResult{ResponseText: "did the thing, no marker", Success: true}}
	h := &CodergenHandler{Backend: backend}
	node := &Node{ID: "work", Attrs: map[string]string{"prompt": "do it"}}

	outcome, err := h.Execute(context.Background(), node, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusFail)
	}
	if outcome.FailureClass != FailureClassMissingStatusMarker {
		t.Errorf("FailureClass = %q, want %q", outcome.FailureClass, FailureClassMissingStatusMarker)
	}
}

func TestCodergenHandlerParsesSuccessMarker(t *testing.T) {
	backend := &stubBackend{result: &AgentRunResult{ResponseText: "work done\n\n[STATUS: success]", Success: true, ToolCalls: 2}}
	h := &CodergenHandler{Backend: backend}
	node := &Node{ID: "work", Attrs: map[string]string{"prompt": "do it"}}

	outcome, err := h.Execute(context.Background(), node, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusSuccess)
	}
}

func TestCodergenHandlerAutoStatusDisabledTrustsBackendSuccess(t *testing.T) {
	backend := &stubBackend{result: &AgentRunResult{ResponseText: "no marker here", Success: true}}
	h := &CodergenHandler{Backend: backend}
	node := &Node{ID: "work", Attrs: map[string]string{"prompt": "do it", "auto_status": "false"}}

	outcome, err := h.Execute(context.Background(), node, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q (auto_status=false trusts backend.Success)", outcome.Status, StatusSuccess)
	}
}

func TestCodergenHandlerNoBackendFallsBackToStub(t *testing.T) {
	h := &CodergenHandler{}
	node := &Node{ID: "work", Attrs: map[string]string{"prompt": "do it"}}

	outcome, err := h.Execute(context.Background(), node, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusSuccess)
	}
}

func TestCodergenHandlerBackendErrorSurfacesAsFailOutcome(t *testing.T) {
	backend := &stubBackend{err: errors.New("backend unreachable")}
	h := &CodergenHandler{Backend: backend}
	node := &Node{ID: "work", Attrs: map[string]string{"prompt": "do it"}}

	outcome, err := h.Execute(context.Background(), node, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusFail)
	}
}
