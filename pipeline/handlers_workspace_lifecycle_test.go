// ABOUTME: Tests for WorkspaceCreateHandler and WorkspaceCleanupHandler's filesystem safety checks.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestWorkspaceCreateHandlerRequiresRunner(t *testing.T) {
	h := &WorkspaceCreateHandler{}
	outcome, err := h.Execute(context.Background(), &Node{ID: "create"}, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusFail)
	}
}

func TestWorkspaceCreateHandlerSuccess(t *testing.T) {
	repoRoot := t.TempDir()
	runner := &scriptedRunner{responses: map[string][]runnerResponse{
		"workspace": {{stdout: "created workspace\n"}},
		"log":       {{stdout: "basecommit\n"}},
	}}
	h := &WorkspaceCreateHandler{Runner: runner}
	node := &Node{ID: "create", Attrs: map[string]string{"repo_root": repoRoot, "workspace_name": "Feature X"}}

	outcome, err := h.Execute(context.Background(), node, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Fatalf("Status = %q, want %q", outcome.Status, StatusSuccess)
	}
	if outcome.ContextUpdates["workspace.name"] != "feature-x" {
		t.Errorf("workspace.name = %v, want feature-x", outcome.ContextUpdates["workspace.name"])
	}
	wantPath := filepath.Join(filepath.Dir(repoRoot), filepath.Base(repoRoot)+"-ws-feature-x")
	if outcome.ContextUpdates["workspace.path"] != wantPath {
		t.Errorf("workspace.path = %v, want %v", outcome.ContextUpdates["workspace.path"], wantPath)
	}
}

func TestWorkspaceCreateHandlerRetriesOnExistingPath(t *testing.T) {
	repoRoot := t.TempDir()
	collisionPath := filepath.Join(filepath.Dir(repoRoot), filepath.Base(repoRoot)+"-ws-feature-x")
	if err := os.MkdirAll(collisionPath, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer os.RemoveAll(collisionPath)

	runner := &scriptedRunner{responses: map[string][]runnerResponse{
		"workspace": {{stdout: "created workspace\n"}},
		"log":       {{stdout: "basecommit\n"}},
	}}
	h := &WorkspaceCreateHandler{Runner: runner}
	node := &Node{ID: "create", Attrs: map[string]string{"repo_root": repoRoot, "workspace_name": "Feature X"}}

	outcome, err := h.Execute(context.Background(), node, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Fatalf("Status = %q, want %q", outcome.Status, StatusSuccess)
	}
	if outcome.ContextUpdates["workspace.name"] == "feature-x" {
		t.Error("expected the colliding name to be suffixed, not reused verbatim")
	}
}

func TestWorkspaceCleanupHandlerRefusesDefaultWorkspace(t *testing.T) {
	h := &WorkspaceCleanupHandler{Runner: &scriptedRunner{responses: map[string][]runnerResponse{}}}
	node := &Node{ID: "cleanup", Attrs: map[string]string{"workspace_name": "default"}}
	outcome, err := h.Execute(context.Background(), node, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusFail)
	}
}

func TestWorkspaceCleanupHandlerRefusesPathWithoutSafetyMarker(t *testing.T) {
	dir := t.TempDir()
	runner := &scriptedRunner{responses: map[string][]runnerResponse{
		"workspace": {{stdout: "forgotten\n"}},
	}}
	h := &WorkspaceCleanupHandler{Runner: runner}
	pctx := NewContext()
	pctx.Set("workspace.path", dir) // no "-ws-" marker
	pctx.Set("workspace.repo_root", filepath.Dir(dir))
	node := &Node{ID: "cleanup", Attrs: map[string]string{"workspace_name": "feature-x"}}

	outcome, err := h.Execute(context.Background(), node, pctx, &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Fatalf("Status = %q, want %q (forgotten from jj even though the directory is left alone)", outcome.Status, StatusSuccess)
	}
	if _, statErr := os.Stat(dir); statErr != nil {
		t.Errorf("directory without the -ws- safety marker was removed: %v", statErr)
	}
}

func TestWorkspaceCleanupHandlerRemovesMarkedWorkspaceDirectory(t *testing.T) {
	parent := t.TempDir()
	wsPath := filepath.Join(parent, "repo-ws-feature-x")
	if err := os.MkdirAll(wsPath, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	runner := &scriptedRunner{responses: map[string][]runnerResponse{
		"workspace": {{stdout: "forgotten\n"}},
	}}
	h := &WorkspaceCleanupHandler{Runner: runner}
	pctx := NewContext()
	pctx.Set("workspace.path", wsPath)
	pctx.Set("workspace.repo_root", filepath.Join(parent, "repo"))
	node := &Node{ID: "cleanup", Attrs: map[string]string{"workspace_name": "feature-x"}}

	outcome, err := h.Execute(context.Background(), node, pctx, &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Fatalf("Status = %q, want %q", outcome.Status, StatusSuccess)
	}
	if _, statErr := os.Stat(wsPath); !os.IsNotExist(statErr) {
		t.Errorf("expected workspace directory to be removed, stat err = %v", statErr)
	}
}

func TestWorkspaceCleanupHandlerRequiresRunner(t *testing.T) {
	h := &WorkspaceCleanupHandler{}
	node := &Node{ID: "cleanup", Attrs: map[string]string{"workspace_name": "feature-x"}}
	outcome, err := h.Execute(context.Background(), node, NewContext(), &Graph{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Errorf("Status = %q, want %q", outcome.Status, StatusFail)
	}
}

func TestWorkspaceCleanupHandlerEmergencyCleanupIgnoresDefaultAndEmpty(t *testing.T) {
	runner := &scriptedRunner{responses: map[string][]runnerResponse{}}
	h := &WorkspaceCleanupHandler{Runner: runner}
	pctx := NewContext()
	pctx.Set("workspace.name", "default")
	h.EmergencyCleanup(context.Background(), pctx)
	if len(runner.calls) != 0 {
		t.Errorf("expected no runner calls for the default workspace, got %v", runner.calls)
	}
}
