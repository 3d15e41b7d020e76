// ABOUTME: Codergen (LLM coding agent) handler: variable expansion, prompt assembly, status-marker parsing.
// ABOUTME: Delegates the actual LLM call to an LLMBackend; records prompt/response/status artifacts on disk.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"context"
)

// CodergenHandler handles LLM-powered stage nodes (shape=box, type=codergen).
// This is the default handler for nodes without an explicit type.
type CodergenHandler struct {
	// Backend executes the actual LLM call. When nil, the handler falls back
	// to stub behavior useful for dry runs and tests.
	Backend LLMBackend
}

// Type returns "codergen".
func (h *CodergenHandler) Type() string { return "codergen" }

var varRefPattern = regexp.MustCompile(`\$(goal|[A-Za-z_][A-Za-z0-9_.]*)`)

// expandVariables substitutes $goal and $<context-key> references in text
// with their string values from pctx. An unresolved reference is left
// unexpanded verbatim so authors notice a typo rather than silently losing
// the text.
func expandVariables(text string, pctx *Context) string {
	return varRefPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := match[1:]
		if key == "goal" {
			if v := pctx.GetString("goal", ""); v != "" {
				return v
			}
			return match
		}
		v := pctx.Get(key)
		if v == nil {
			return match
		}
		return coerceString(v, match)
	})
}

// loadPromptFiles reads a comma-separated list of prompt file paths and joins
// their contents with a blank line between each, in listed order.
func loadPromptFiles(spec string) (string, error) {
	var parts []string
	for _, raw := range strings.Split(spec, ",") {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading prompt file %q: %w", path, err)
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, "\n\n"), nil
}

// statusMarkerPattern matches a single "[STATUS: value]"-style marker line.
var (
	statusMarkerPattern    = regexp.MustCompile(`(?im)^\s*\[STATUS:\s*([A-Za-z_]+)\s*\]\s*$`)
	failureReasonPattern   = regexp.MustCompile(`(?im)^\s*\[FAILURE_REASON:\s*(.+?)\s*\]\s*$`)
	preferredLabelPattern  = regexp.MustCompile(`(?im)^\s*\[PREFERRED_LABEL:\s*(.+?)\s*\]\s*$`)
	nextMarkerPattern      = regexp.MustCompile(`(?im)^\s*\[NEXT:\s*([A-Za-z0-9_.\-]+)\s*\]\s*$`)
)

var statusMarkerValues = map[string]StageStatus{
	"success":         StatusSuccess,
	"fail":            StatusFail,
	"failure":         StatusFail,
	"partial_success": StatusPartialSuccess,
	"retry":           StatusRetry,
	"skipped":         StatusSkipped,
}

// parseStatusMarkers scans response for the codergen status-marker contract:
// a trailing [STATUS: ...] line, an optional [FAILURE_REASON: ...] line, an
// optional [PREFERRED_LABEL: ...] line, and zero or more repeatable
// [NEXT: id] lines. Returns (status, ok) where ok is false when no status
// marker was present at all.
func parseStatusMarkers(response string) (status StageStatus, failureReason, preferredLabel string, next []string, ok bool) {
	if m := statusMarkerPattern.FindStringSubmatch(response); m != nil {
		if s, known := statusMarkerValues[strings.ToLower(m[1])]; known {
			status = s
			ok = true
		}
	}
	if m := failureReasonPattern.FindStringSubmatch(response); m != nil {
		failureReason = m[1]
	}
	if m := preferredLabelPattern.FindStringSubmatch(response); m != nil {
		preferredLabel = m[1]
	}
	for _, m := range nextMarkerPattern.FindAllStringSubmatch(response, -1) {
		next = append(next, m[1])
	}
	return status, failureReason, preferredLabel, next, ok
}

// autoStatusEnabled resolves the auto_status opt-out/opt-in rule: marker
// parsing is enabled by default, and disabled only when the node explicitly
// sets auto_status="false".
func autoStatusEnabled(node *Node) bool {
	return node.Attrs["auto_status"] != "false"
}

// Execute assembles the prompt (label/prompt/prompt_file with $-variable
// expansion), invokes the backend, parses status markers from the response
// tail per the auto_status rule, and records prompt.md/response.md/status.json
// under logsRoot/<nodeID>/.
func (h *CodergenHandler) Execute(ctx context.Context, node *Node, pctx *Context, graph *Graph, logsRoot string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attrs := node.Attrs
	if attrs == nil {
		attrs = make(map[string]string)
	}

	prompt := attrs["prompt"]
	if promptFile := attrs["prompt_file"]; promptFile != "" {
		fileContent, err := loadPromptFiles(promptFile)
		if err != nil {
			return &Outcome{Status: StatusFail, FailureReason: err.Error()}, nil
		}
		if prompt != "" {
			prompt = prompt + "\n\n" + fileContent
		} else {
			prompt = fileContent
		}
	}
	if prompt == "" {
		prompt = attrs["label"]
	}
	if prompt == "" {
		prompt = node.ID
	}
	prompt = expandVariables(prompt, pctx)

	label := attrs["label"]
	if label == "" {
		label = node.ID
	}

	if logsRoot != "" {
		_ = writeNodeArtifact(logsRoot, node.ID, "prompt.md", []byte(prompt))
	}

	if h.Backend == nil {
		return h.executeStub(node.ID, prompt, logsRoot)
	}

	maxTurns := 20
	if v := attrs["max_turns"]; v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			maxTurns = parsed
		}
	}

	goal := pctx.GetString("goal", "")

	fidelityMode := ""
	if f := attrs["fidelity"]; f != "" && isValidFidelity(f) {
		fidelityMode = f
	} else if f := pctx.GetString("_fidelity_mode", ""); f != "" && isValidFidelity(f) {
		fidelityMode = f
	}

	workDir := attrs["workdir"]
	if workDir == "" {
		workDir = pctx.GetString("workspace.path", "")
	}

	config := AgentRunConfig{
		Prompt:       prompt,
		Model:        attrs["llm_model"],
		Provider:     attrs["llm_provider"],
		WorkDir:      workDir,
		Goal:         goal,
		NodeID:       node.ID,
		MaxTurns:     maxTurns,
		FidelityMode: fidelityMode,
		SystemPrompt: attrs["system_prompt"],
	}

	result, err := h.Backend.RunStage(ctx, config)
	if err != nil {
		return &Outcome{
			Status:        StatusFail,
			FailureReason: fmt.Sprintf("codergen backend error: %v", err),
			ContextUpdates: map[string]any{
				"last_stage": node.ID,
			},
		}, nil
	}

	if logsRoot != "" {
		_ = writeNodeArtifact(logsRoot, node.ID, "response.md", []byte(result.ResponseText))
	}

	updates := map[string]any{
		"last_stage":            node.ID,
		"codergen.tool_calls":   result.ToolCalls,
		"codergen.tokens_used":  result.Usage.TotalTokens,
	}

	status := StatusSuccess
	var failureReason, preferredLabel string
	var next []string
	if autoStatusEnabled(node) {
		if parsed, reason, label, n, ok := parseStatusMarkers(result.ResponseText); ok {
			status = parsed
			failureReason = reason
			preferredLabel = label
			next = n
		} else {
			status = StatusFail
			failureReason = "missing [STATUS: ...] marker in codergen response"
			if logsRoot != "" {
				_ = writeStatusJSON(logsRoot, node.ID, status, failureReason)
			}
			return &Outcome{
				Status:         status,
				FailureReason:  failureReason,
				FailureClass:   FailureClassMissingStatusMarker,
				ContextUpdates: updates,
			}, nil
		}
	} else if !result.Success {
		status = StatusFail
		failureReason = "codergen backend reported an unsuccessful call"
	}

	if logsRoot != "" {
		_ = writeStatusJSON(logsRoot, node.ID, status, failureReason)
	}

	if status == StatusFail || status == StatusRetry {
		return &Outcome{
			Status:           status,
			FailureReason:    failureReason,
			PreferredLabel:   preferredLabel,
			SuggestedNextIDs: next,
			ContextUpdates:   updates,
		}, nil
	}

	return &Outcome{
		Status:           status,
		PreferredLabel:   preferredLabel,
		SuggestedNextIDs: next,
		Notes:            fmt.Sprintf("stage completed: %s (tools: %d, tokens: %d)", label, result.ToolCalls, result.Usage.TotalTokens),
		ContextUpdates:   updates,
	}, nil
}

// executeStub is the fallback behavior when no backend is configured: it
// records the assembled prompt without calling an LLM, always succeeding.
func (h *CodergenHandler) executeStub(nodeID, prompt, logsRoot string) (*Outcome, error) {
	if logsRoot != "" {
		_ = writeNodeArtifact(logsRoot, nodeID, "response.md", []byte("(stub: no backend configured)"))
		_ = writeStatusJSON(logsRoot, nodeID, StatusSuccess, "")
	}
	return &Outcome{
		Status: StatusSuccess,
		Notes:  "stage completed (stub, no backend configured)",
		ContextUpdates: map[string]any{
			"last_stage":      nodeID,
			"codergen.prompt": prompt,
		},
	}, nil
}

// writeNodeArtifact writes data to logsRoot/<nodeID>/<filename>, creating
// directories as needed.
func writeNodeArtifact(logsRoot, nodeID, filename string, data []byte) error {
	dir := filepath.Join(logsRoot, sanitizeNodeID(nodeID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, filename), data, 0o644)
}

type statusArtifact struct {
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func writeStatusJSON(logsRoot, nodeID string, status StageStatus, failureReason string) error {
	data, err := json.Marshal(statusArtifact{Status: string(status), FailureReason: failureReason})
	if err != nil {
		return err
	}
	return writeNodeArtifact(logsRoot, nodeID, "status.json", data)
}
