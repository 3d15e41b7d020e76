// ABOUTME: Tests for the start, exit, conditional, and tool node handlers.
package pipeline

import (
	"context"
	"testing"
)

func TestStartHandlerRecordsStartedAt(t *testing.T) {
	h := &StartHandler{}
	outcome, err := h.Execute(context.Background(), &Node{ID: "start"}, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusSuccess)
	}
	if _, ok := outcome.ContextUpdates["_started_at"]; !ok {
		t.Error("expected _started_at to be set")
	}
}

func TestExitHandlerRecordsFinishedAt(t *testing.T) {
	h := &ExitHandler{}
	outcome, err := h.Execute(context.Background(), &Node{ID: "exit"}, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusSuccess)
	}
	if _, ok := outcome.ContextUpdates["_finished_at"]; !ok {
		t.Error("expected _finished_at to be set")
	}
}

func TestConditionalHandlerForwardsUpstreamOutcome(t *testing.T) {
	pctx := NewContext()
	pctx.Set("outcome", string(StatusFail))
	h := &ConditionalHandler{}
	outcome, err := h.Execute(context.Background(), &Node{ID: "check"}, pctx, &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q (forwarded from upstream outcome)", outcome.Status, StatusFail)
	}
}

func TestConditionalHandlerDefaultsToSuccessWithNoUpstreamOutcome(t *testing.T) {
	h := &ConditionalHandler{}
	outcome, err := h.Execute(context.Background(), &Node{ID: "check"}, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusSuccess)
	}
}

func TestToolHandlerMissingCommandFails(t *testing.T) {
	h := &ToolHandler{}
	outcome, err := h.Execute(context.Background(), &Node{ID: "run", Attrs: map[string]string{}}, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusFail)
	}
}

func TestToolHandlerSuccessfulExit(t *testing.T) {
	h := &ToolHandler{}
	node := &Node{ID: "run", Attrs: map[string]string{"tool_command": "exit 0"}}
	outcome, err := h.Execute(context.Background(), node, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusSuccess)
	}
}

func TestToolHandlerNonzeroExitClassifiesFailure(t *testing.T) {
	h := &ToolHandler{}
	node := &Node{ID: "run", Attrs: map[string]string{"tool_command": "exit 7"}}
	outcome, err := h.Execute(context.Background(), node, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusFail)
	}
	if outcome.ToolFailure == nil {
		t.Fatal("expected a ToolStageFailure to be attached")
	}
	if outcome.ToolFailure.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", outcome.ToolFailure.ExitCode)
	}
}

func TestToolHandlerInvalidTimeoutFails(t *testing.T) {
	h := &ToolHandler{}
	node := &Node{ID: "run", Attrs: map[string]string{"tool_command": "exit 0", "timeout": "not-a-duration"}}
	outcome, err := h.Execute(context.Background(), node, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusFail)
	}
}
