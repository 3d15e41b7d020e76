// ABOUTME: Tests for WaitForHumanHandler's edge-selection and re-review gate tracking.
package pipeline

import (
	"context"
	"testing"
)

func humanGateGraph() (*Graph, *Node) {
	g := newGraph("human-gate")
	addNode(g, "review", map[string]string{"shape": "hexagon"})
	addNode(g, "accept", map[string]string{"shape": "box"})
	addNode(g, "revise", map[string]string{"shape": "box"})
	addEdge(g, "review", "accept", map[string]string{"label": "Accept"})
	addEdge(g, "review", "revise", map[string]string{"label": "Revise"})
	return g, g.Nodes["review"]
}

func TestWaitForHumanHandlerNoInterviewerFails(t *testing.T) {
	g, node := humanGateGraph()
	h := &WaitForHumanHandler{}
	outcome, err := h.Execute(context.Background(), node, NewContext(), g, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusFail)
	}
}

func TestWaitForHumanHandlerNoOutgoingEdgesFails(t *testing.T) {
	g := newGraph("no-edges")
	addNode(g, "review", map[string]string{"shape": "hexagon"})
	h := &WaitForHumanHandler{Interviewer: NewQueueInterviewer("Accept")}
	outcome, err := h.Execute(context.Background(), g.Nodes["review"], NewContext(), g, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusFail)
	}
}

func TestWaitForHumanHandlerAcceptSelectsEdgeAndClearsReReview(t *testing.T) {
	g, node := humanGateGraph()
	pctx := NewContext()
	setPendingReReviewGate(pctx, node.ID, "revise")
	h := &WaitForHumanHandler{Interviewer: NewQueueInterviewer("Accept")}

	outcome, err := h.Execute(context.Background(), node, pctx, g, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Fatalf("Status = %q, want %q", outcome.Status, StatusSuccess)
	}
	if len(outcome.SuggestedNextIDs) != 1 || outcome.SuggestedNextIDs[0] != "accept" {
		t.Errorf("SuggestedNextIDs = %v, want [accept]", outcome.SuggestedNextIDs)
	}
	if gate := findPendingReReviewGate(pctx, "revise", ""); gate != "" {
		t.Errorf("expected accept decision to clear the pending re-review gate, found gate %q", gate)
	}
}

func TestWaitForHumanHandlerReviseSetsPendingReReview(t *testing.T) {
	g, node := humanGateGraph()
	pctx := NewContext()
	h := &WaitForHumanHandler{Interviewer: NewQueueInterviewer("Revise")}

	outcome, err := h.Execute(context.Background(), node, pctx, g, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Fatalf("Status = %q, want %q", outcome.Status, StatusSuccess)
	}
	if gate := findPendingReReviewGate(pctx, "revise", ""); gate != node.ID {
		t.Errorf("findPendingReReviewGate(revise) = %q, want %q", gate, node.ID)
	}
}

func TestWaitForHumanHandlerUnmatchedAnswerFails(t *testing.T) {
	g, node := humanGateGraph()
	h := &WaitForHumanHandler{Interviewer: NewQueueInterviewer("nonsense")}
	outcome, err := h.Execute(context.Background(), node, NewContext(), g, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusFail)
	}
}

func TestWaitForHumanHandlerTimeoutWithNoDefaultFails(t *testing.T) {
	g, node := humanGateGraph()
	node.Attrs["timeout_seconds"] = "1"
	h := &WaitForHumanHandler{Interviewer: NewQueueInterviewer(AnswerTimeout)}
	outcome, err := h.Execute(context.Background(), node, NewContext(), g, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusFail)
	}
	if outcome.ContextUpdates["human.timed_out"] != true {
		t.Errorf("human.timed_out = %v, want true", outcome.ContextUpdates["human.timed_out"])
	}
}

func TestParseAcceleratorKey(t *testing.T) {
	cases := map[string]string{
		"[A] Accept":       "A",
		"A) Accept":        "A",
		"A - Accept":       "A",
		"Accept":           "A",
	}
	for label, want := range cases {
		if got := parseAcceleratorKey(label); got != want {
			t.Errorf("parseAcceleratorKey(%q) = %q, want %q", label, got, want)
		}
	}
}
