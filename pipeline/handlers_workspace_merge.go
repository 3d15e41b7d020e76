// ABOUTME: workspace.merge handler: rebases a workspace's mutable commits onto the default workspace head.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// WorkspaceMergeHandler integrates a workspace's work back into the default
// workspace by rebasing its mutable, not-yet-shared commits onto the current
// default head.
type WorkspaceMergeHandler struct {
	Runner   WorkspaceRunner
	Registry *WorkspaceRegistry
}

// Type returns "workspace.merge".
func (h *WorkspaceMergeHandler) Type() string { return "workspace.merge" }

type workspaceMergeLog struct {
	WorkspaceName  string `json:"workspace_name"`
	HeadBefore     string `json:"head_before"`
	OldestCommit   string `json:"oldest_commit,omitempty"`
	MergedTip      string `json:"merged_tip,omitempty"`
	Conflicts      bool   `json:"conflicts"`
	Noop           bool   `json:"noop"`
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Execute rebases the oldest mutable commit unique to the workspace (plus its
// descendants) onto the default workspace's current head, then moves the
// default workspace's @ onto the resulting merged tip.
func (h *WorkspaceMergeHandler) Execute(ctx context.Context, node *Node, pctx *Context, graph *Graph, logsRoot string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.Runner == nil {
		return &Outcome{Status: StatusFail, FailureReason: "no workspace runner configured"}, nil
	}

	name := pctx.GetString("workspace.name", "")
	repoRoot := pctx.GetString("workspace.repo_root", "")
	workspacePath := pctx.GetString("workspace.path", "")
	if name == "" || repoRoot == "" {
		return &Outcome{Status: StatusFail, FailureReason: "workspace.merge requires workspace.name and workspace.repo_root in context"}, nil
	}
	if workspacePath == "" {
		workspacePath = repoRoot
	}

	headBeforeOut, _, err := h.Runner.Run(ctx, repoRoot, "log", "-r", "@", "--no-graph", "-T", "commit_id")
	if err != nil {
		return &Outcome{Status: StatusFail, FailureReason: "reading default head: " + err.Error()}, nil
	}
	headBefore := strings.TrimSpace(headBeforeOut)
	if headBefore == "" {
		return &Outcome{Status: StatusFail, FailureReason: "could not resolve default workspace head"}, nil
	}

	candidatesOut, _, err := h.Runner.Run(ctx, workspacePath, "log", "-r",
		fmt.Sprintf("(::@ & mutable()) ~ ::%s", headBefore), "--no-graph", "-T", "commit_id")
	if err != nil {
		return &Outcome{Status: StatusFail, FailureReason: "listing workspace commits: " + err.Error()}, nil
	}
	candidates := splitNonEmptyLines(candidatesOut)
	if len(candidates) == 0 {
		logEntry := workspaceMergeLog{WorkspaceName: name, HeadBefore: headBefore, Noop: true}
		h.writeLog(logsRoot, node.ID, logEntry)
		return &Outcome{
			Status: StatusSuccess,
			Notes:  "nothing to merge: workspace has no unmerged mutable commits",
			ContextUpdates: map[string]any{
				"last_stage":               node.ID,
				"workspace.merge_conflicts": false,
			},
		}, nil
	}
	oldest := candidates[len(candidates)-1]

	rebaseOut, rebaseErr, err := h.Runner.Run(ctx, workspacePath, "rebase", "-s", oldest, "-d", headBefore)
	combined := rebaseOut + "\n" + rebaseErr
	if strings.Contains(strings.ToLower(combined), "conflict") {
		logEntry := workspaceMergeLog{WorkspaceName: name, HeadBefore: headBefore, OldestCommit: oldest, Conflicts: true}
		h.writeLog(logsRoot, node.ID, logEntry)
		return &Outcome{
			Status:        StatusFail,
			FailureReason: "rebase produced conflicts",
			ContextUpdates: map[string]any{
				"last_stage":                node.ID,
				"workspace.merge_conflicts": true,
			},
		}, nil
	}
	if err != nil {
		return &Outcome{Status: StatusFail, FailureReason: "rebase failed: " + err.Error() + ": " + rebaseErr}, nil
	}

	tipOut, _, err := h.Runner.Run(ctx, workspacePath, "log", "-r",
		fmt.Sprintf("heads(descendants(%s) & mutable() & ~%s)", headBefore, headBefore), "--no-graph", "-T", "commit_id")
	if err != nil {
		return &Outcome{Status: StatusFail, FailureReason: "locating merged tip: " + err.Error()}, nil
	}
	tipLines := splitNonEmptyLines(tipOut)
	if len(tipLines) == 0 {
		return &Outcome{Status: StatusFail, FailureReason: "could not locate merged tip after rebase"}, nil
	}
	mergedTip := tipLines[0]

	_, moveStderr, err := h.Runner.Run(ctx, repoRoot, "rebase", "-d", mergedTip)
	if err != nil {
		if strings.Contains(strings.ToLower(moveStderr), "cannot rebase onto descendant") {
			if _, editStderr, editErr := h.Runner.Run(ctx, repoRoot, "edit", mergedTip); editErr != nil {
				return &Outcome{Status: StatusFail, FailureReason: "moving default @ to merged tip: " + editErr.Error() + ": " + editStderr}, nil
			}
		} else {
			return &Outcome{Status: StatusFail, FailureReason: "rebasing default @ onto merged tip: " + err.Error() + ": " + moveStderr}, nil
		}
	}

	logEntry := workspaceMergeLog{WorkspaceName: name, HeadBefore: headBefore, OldestCommit: oldest, MergedTip: mergedTip}
	h.writeLog(logsRoot, node.ID, logEntry)

	return &Outcome{
		Status: StatusSuccess,
		Notes:  fmt.Sprintf("merged workspace %q onto default head", name),
		ContextUpdates: map[string]any{
			"last_stage":                node.ID,
			"workspace.merge_conflicts": false,
			"workspace.merged_tip":      mergedTip,
		},
	}, nil
}

func (h *WorkspaceMergeHandler) writeLog(logsRoot, nodeID string, entry workspaceMergeLog) {
	if logsRoot == "" {
		return
	}
	if data, err := json.MarshalIndent(entry, "", "  "); err == nil {
		_ = writeNodeArtifact(logsRoot, nodeID, "merge.json", data)
	}
}
