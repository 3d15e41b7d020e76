// ABOUTME: workspace.create handler: allocates an isolated jj workspace for a pipeline run.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorkspaceCreateHandler creates an isolated source-control workspace for the
// pipeline run to operate in, so concurrent runs never clobber each other's
// working tree.
type WorkspaceCreateHandler struct {
	Runner   WorkspaceRunner
	Registry *WorkspaceRegistry
}

// Type returns "workspace.create".
func (h *WorkspaceCreateHandler) Type() string { return "workspace.create" }

const maxWorkspaceCollisionRetries = 3

type workspaceCreateLog struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	BaseCommit string `json:"base_commit"`
	RepoRoot   string `json:"repo_root"`
	Attempts   int    `json:"attempts"`
}

// Execute resolves the repository root, sanitizes the requested workspace
// name, and creates a new jj workspace at <repo-parent>/<repo-name>-ws-<name>,
// retrying with a random suffix on name collisions.
func (h *WorkspaceCreateHandler) Execute(ctx context.Context, node *Node, pctx *Context, graph *Graph, logsRoot string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.Runner == nil {
		return &Outcome{Status: StatusFail, FailureReason: "no workspace runner configured"}, nil
	}

	repoRoot := node.Attrs["repo_root"]
	if repoRoot == "" {
		repoRoot = pctx.GetString("workspace.repo_root", "")
	}
	if repoRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return &Outcome{Status: StatusFail, FailureReason: "no repo_root configured and cwd unavailable: " + err.Error()}, nil
		}
		repoRoot = cwd
	}
	repoRoot = filepath.Clean(repoRoot)

	requested := node.Attrs["workspace_name"]
	base := sanitizeWorkspaceName(requested)

	repoParent := filepath.Dir(repoRoot)
	repoName := filepath.Base(repoRoot)

	var (
		name, path string
		attempts   int
		lastErr    error
	)
	for attempts = 0; attempts < maxWorkspaceCollisionRetries+1; attempts++ {
		candidate := base
		if attempts > 0 {
			suffix, err := randomHexSuffix()
			if err != nil {
				return &Outcome{Status: StatusFail, FailureReason: "generating workspace name suffix: " + err.Error()}, nil
			}
			candidate = base + "-" + suffix
		}
		candidatePath := filepath.Join(repoParent, fmt.Sprintf("%s-ws-%s", repoName, candidate))

		if _, statErr := os.Stat(candidatePath); statErr == nil {
			lastErr = fmt.Errorf("workspace path %q already exists", candidatePath)
			continue
		}

		_, stderr, err := h.Runner.Run(ctx, repoRoot, "workspace", "add", candidatePath)
		if err != nil {
			lastErr = fmt.Errorf("jj workspace add failed: %v: %s", err, stderr)
			if strings.Contains(strings.ToLower(stderr), "already exists") {
				continue
			}
			return &Outcome{Status: StatusFail, FailureReason: lastErr.Error()}, nil
		}

		name, path = candidate, candidatePath
		lastErr = nil
		break
	}
	if lastErr != nil {
		return &Outcome{Status: StatusFail, FailureReason: "could not allocate a unique workspace: " + lastErr.Error()}, nil
	}

	baseCommit, _, err := h.Runner.Run(ctx, path, "log", "-r", "@", "--no-graph", "-T", "commit_id")
	if err != nil {
		baseCommit = ""
	}
	baseCommit = strings.TrimSpace(baseCommit)

	if h.Registry != nil {
		if err := h.Registry.Add(repoRoot, name, path); err != nil {
			pctx.AppendLog("warning: workspace registry update failed: " + err.Error())
		}
	}

	if logsRoot != "" {
		entry := workspaceCreateLog{Name: name, Path: path, BaseCommit: baseCommit, RepoRoot: repoRoot, Attempts: attempts + 1}
		if data, err := json.MarshalIndent(entry, "", "  "); err == nil {
			_ = writeNodeArtifact(logsRoot, node.ID, "workspace.json", data)
		}
	}

	return &Outcome{
		Status: StatusSuccess,
		Notes:  fmt.Sprintf("created workspace %q at %s", name, path),
		ContextUpdates: map[string]any{
			"last_stage":          node.ID,
			"workspace.name":      name,
			"workspace.path":      path,
			"workspace.base_commit": baseCommit,
			"workspace.repo_root": repoRoot,
		},
	}, nil
}
