// ABOUTME: Diagnostics captured when a tool-shape stage exits non-zero, times out, or fails to spawn.
// ABOUTME: Classification, tail extraction, and digest generation follow the tool-stage failure contract.
package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ToolFailureClass classifies why a tool-shape stage failed.
type ToolFailureClass string

const (
	ToolFailureExitNonzero ToolFailureClass = "exit_nonzero"
	ToolFailureTimeout     ToolFailureClass = "timeout"
	ToolFailureSpawnError  ToolFailureClass = "spawn_error"
)

// ToolFailureArtifacts records where the full (untruncated) stdout/stderr and
// run metadata were written on disk.
type ToolFailureArtifacts struct {
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
	Meta   string `json:"meta,omitempty"`
}

// ToolStageFailure is the structured diagnostic attached to the Outcome of a
// failed tool-shape stage, giving downstream decision/review stages enough
// signal to react without re-running the command.
type ToolStageFailure struct {
	FailureClass      ToolFailureClass     `json:"failureClass"`
	Digest            string               `json:"digest"`
	Command           string               `json:"command"`
	Cwd               string               `json:"cwd,omitempty"`
	ExitCode          int                  `json:"exitCode,omitempty"`
	Signal            string               `json:"signal,omitempty"`
	DurationMs        int64                `json:"durationMs"`
	StdoutTail        string               `json:"stdoutTail,omitempty"`
	StderrTail        string               `json:"stderrTail,omitempty"`
	ArtifactPaths     ToolFailureArtifacts `json:"artifactPaths"`
	FirstFailingCheck string               `json:"firstFailingCheck,omitempty"`
}

const (
	tailMaxLines = 30
	tailMaxChars = 4096
)

// tailOf returns the last tailMaxLines lines of s, further capped to
// tailMaxChars characters from the end, so a flood of stdout never blows up a
// checkpoint.
func tailOf(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > tailMaxLines {
		lines = lines[len(lines)-tailMaxLines:]
	}
	tail := strings.Join(lines, "\n")
	if len(tail) > tailMaxChars {
		tail = tail[len(tail)-tailMaxChars:]
	}
	return tail
}

// ClassifyToolFailure maps a process outcome to a ToolFailureClass: a
// timeout-triggered kill (or bare SIGTERM) is "timeout"; spawn-time errors
// (binary not found, permission denied, output buffer overrun) are
// "spawn_error"; anything else with a nonzero exit is "exit_nonzero".
func ClassifyToolFailure(timedOut bool, signal string, spawnErr error) ToolFailureClass {
	if timedOut || signal == "SIGTERM" || signal == "killed" {
		return ToolFailureTimeout
	}
	if spawnErr != nil {
		msg := spawnErr.Error()
		if strings.Contains(msg, "executable file not found") ||
			strings.Contains(msg, "no such file or directory") ||
			strings.Contains(msg, "permission denied") ||
			strings.Contains(msg, "ENOENT") ||
			strings.Contains(msg, "EACCES") ||
			strings.Contains(msg, "bytes exceeded") {
			return ToolFailureSpawnError
		}
	}
	return ToolFailureExitNonzero
}

// testRunnerPattern matchers identify commands whose output is worth scraping
// with the patterned digest extractors below, rather than falling back to the
// generic first-non-empty-line rule.
var testRunnerPattern = regexp.MustCompile(`(?i)\bselfci\b|\b(npm run )?(test|check)\b|\bvitest\b|\bjest\b`)

// Patterned digest extractors, tried in order against combined stdout+stderr.
var (
	testsFailedPattern  = regexp.MustCompile(`(?i)Tests:\s*(.+)`)
	xFailingPattern     = regexp.MustCompile(`(?i)(\d+)\s+failing\b.*`)
	suiteFailedPattern  = regexp.MustCompile(`(?i)Test suite failed.*`)
)

// firstFailingCheckPatterns extract a short identifying name for the first
// failing check from common test-runner output formats.
var firstFailingCheckPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^FAIL\s+(.+)$`),
	regexp.MustCompile(`(?m)^\s*●\s+(.+)$`),
	regexp.MustCompile(`(?m)^FAILED:\s*(.+)$`),
	regexp.MustCompile(`(?m)^not ok \d+ - (.+)$`),
}

func extractFirstFailingCheck(stdout, stderr string) string {
	combined := stdout + "\n" + stderr
	for _, pat := range firstFailingCheckPatterns {
		if m := pat.FindStringSubmatch(combined); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// firstNonEmptyLine returns the first non-blank line of s.
func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// truncateCommand caps a command string for inclusion in a timeout digest.
func truncateCommand(cmd string, max int) string {
	if len(cmd) <= max {
		return cmd
	}
	return cmd[:max]
}

// digestFor computes the human-readable failure digest per the tool-failure
// contract: timeout and spawn-error digests are templated; exit_nonzero
// digests prefer a patterned extraction from test-runner-like commands,
// falling back to the first non-empty stderr line, then stdout, then a
// signal/exit-code summary.
func digestFor(class ToolFailureClass, command string, signal string, exitCode int, stdout, stderr string) string {
	switch class {
	case ToolFailureTimeout:
		return fmt.Sprintf("Timed out: %s", truncateCommand(command, 80))
	case ToolFailureSpawnError:
		line := firstNonEmptyLine(stderr)
		if line == "" {
			line = firstNonEmptyLine(stdout)
		}
		return fmt.Sprintf("Spawn error: %s", line)
	}

	if testRunnerPattern.MatchString(command) {
		combined := stdout + "\n" + stderr
		if m := testsFailedPattern.FindStringSubmatch(combined); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := xFailingPattern.FindString(combined); m != "" {
			return strings.TrimSpace(m)
		}
		if m := suiteFailedPattern.FindString(combined); m != "" {
			return strings.TrimSpace(m)
		}
	}

	if line := firstNonEmptyLine(stderr); line != "" {
		return line
	}
	if line := firstNonEmptyLine(stdout); line != "" {
		return line
	}
	if signal != "" {
		return fmt.Sprintf("Killed by signal: %s", signal)
	}
	return fmt.Sprintf("Exit code %s", strconv.Itoa(exitCode))
}

// NewToolStageFailure builds a ToolStageFailure from raw subprocess results.
// stdout/stderr are the full captured streams; tails, first-failing-check,
// and the digest are derived from them here so handlers never need to know
// the truncation or extraction rules.
func NewToolStageFailure(class ToolFailureClass, command, cwd string, exitCode int, signal string, durationMs int64, stdout, stderr string, artifacts ToolFailureArtifacts) *ToolStageFailure {
	failure := &ToolStageFailure{
		FailureClass:      class,
		Command:           command,
		Cwd:               cwd,
		ExitCode:          exitCode,
		Signal:            signal,
		DurationMs:        durationMs,
		StdoutTail:        tailOf(stdout),
		StderrTail:        tailOf(stderr),
		ArtifactPaths:     artifacts,
		FirstFailingCheck: extractFirstFailingCheck(stdout, stderr),
	}
	failure.Digest = digestFor(class, command, signal, exitCode, stdout, stderr)
	return failure
}
