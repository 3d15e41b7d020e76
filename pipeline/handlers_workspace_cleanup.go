// ABOUTME: workspace.cleanup handler: forgets and removes an isolated jj workspace, with safety checks.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// WorkspaceCleanupHandler tears down a workspace created by
// WorkspaceCreateHandler. It never touches the "default" workspace, and
// requires the workspace's on-disk path to carry the "-ws-" naming marker
// before removing it, so a misconfigured repo_root can never cause it to
// delete an unrelated directory.
type WorkspaceCleanupHandler struct {
	Runner   WorkspaceRunner
	Registry *WorkspaceRegistry
}

// Type returns "workspace.cleanup".
func (h *WorkspaceCleanupHandler) Type() string { return "workspace.cleanup" }

type workspaceCleanupLog struct {
	WorkspaceName  string   `json:"workspace_name"`
	Path           string   `json:"path,omitempty"`
	Forgotten      bool     `json:"forgotten"`
	DirectoryGone  bool     `json:"directory_gone"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Execute runs "jj workspace forget" for the named workspace (treating
// already-gone errors as success), then removes the workspace directory only
// when its path contains the "-ws-" safety marker and is not an ancestor of
// repo root.
func (h *WorkspaceCleanupHandler) Execute(ctx context.Context, node *Node, pctx *Context, graph *Graph, logsRoot string) (*Outcome, error) {
	if h.Runner == nil {
		return &Outcome{Status: StatusFail, FailureReason: "no workspace runner configured"}, nil
	}

	name := node.Attrs["workspace_name"]
	if name == "" {
		name = pctx.GetString("workspace.name", "")
	}
	if name == "default" {
		return &Outcome{Status: StatusFail, FailureReason: "refusing to clean up the default workspace"}, nil
	}
	if name == "" {
		return &Outcome{Status: StatusFail, FailureReason: "no workspace name to clean up"}, nil
	}

	repoRoot := node.Attrs["repo_root"]
	if repoRoot == "" {
		repoRoot = pctx.GetString("workspace.repo_root", "")
	}
	path := pctx.GetString("workspace.path", "")

	var warnings []string

	forgotten := false
	_, stderr, err := h.Runner.Run(ctx, repoRoot, "workspace", "forget", name)
	if err == nil {
		forgotten = true
	} else if isBenignForgetError(stderr) || isBenignForgetError(err.Error()) {
		forgotten = true
		warnings = append(warnings, "workspace forget: already gone: "+stderr)
	} else {
		warnings = append(warnings, "workspace forget failed: "+err.Error()+": "+stderr)
	}

	directoryGone := true
	if path != "" {
		if strings.Contains(path, "-ws-") && !isAncestorOfOrEqual(path, repoRoot) {
			if err := os.RemoveAll(path); err != nil {
				warnings = append(warnings, "removing workspace directory: "+err.Error())
			}
			if _, statErr := os.Stat(path); statErr == nil {
				directoryGone = false
				warnings = append(warnings, fmt.Sprintf("workspace directory %q still present after removal", path))
			} else if !os.IsNotExist(statErr) {
				directoryGone = false
				warnings = append(warnings, "verifying workspace directory removal: "+statErr.Error())
			}
		} else {
			warnings = append(warnings, fmt.Sprintf("refusing to remove path %q: missing -ws- marker or is an ancestor of repo root", path))
		}
	}

	if h.Registry != nil && repoRoot != "" {
		if err := h.Registry.Remove(repoRoot, name); err != nil {
			warnings = append(warnings, "registry update failed: "+err.Error())
		}
	}

	if logsRoot != "" {
		entry := workspaceCleanupLog{WorkspaceName: name, Path: path, Forgotten: forgotten, DirectoryGone: directoryGone, Warnings: warnings}
		if data, err := json.MarshalIndent(entry, "", "  "); err == nil {
			_ = writeNodeArtifact(logsRoot, node.ID, "cleanup.json", data)
		}
	}

	status := StatusSuccess
	if !forgotten || !directoryGone {
		status = StatusPartialSuccess
	}

	updates := map[string]any{
		"last_stage": node.ID,
	}
	for _, w := range warnings {
		pctx.AppendLog("workspace.cleanup warning: " + w)
	}

	return &Outcome{
		Status:         status,
		Notes:          fmt.Sprintf("cleaned up workspace %q (forgotten=%v, directory_gone=%v)", name, forgotten, directoryGone),
		ContextUpdates: updates,
	}, nil
}

// EmergencyCleanup is invoked by the engine on a catastrophic handler failure
// with no failure edge, best-effort tearing down whatever workspace the
// context records, ignoring any errors beyond logging.
func (h *WorkspaceCleanupHandler) EmergencyCleanup(ctx context.Context, pctx *Context) {
	name := pctx.GetString("workspace.name", "")
	if name == "" || name == "default" {
		return
	}
	repoRoot := pctx.GetString("workspace.repo_root", "")
	path := pctx.GetString("workspace.path", "")

	if h.Runner != nil {
		_, _, _ = h.Runner.Run(ctx, repoRoot, "workspace", "forget", name)
	}
	if path != "" && strings.Contains(path, "-ws-") && !isAncestorOfOrEqual(path, repoRoot) {
		_ = os.RemoveAll(path)
	}
	if h.Registry != nil && repoRoot != "" {
		_ = h.Registry.Remove(repoRoot, name)
	}
}
