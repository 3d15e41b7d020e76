// ABOUTME: Terminal rendering helpers: styled banners via lipgloss, markdown-to-HTML via goldmark.
// ABOUTME: Grounded on the project's tui/styles.go palette, adapted for plain CLI (non-interactive) output.
package cli

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/yuin/goldmark"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#2ECC71")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F1C40F"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// Banner renders a titled banner line for CLI command headers.
func Banner(title string) string {
	return bannerStyle.Render(title)
}

// Success renders a success-styled line.
func Success(msg string) string {
	return successStyle.Render(msg)
}

// Failure renders a failure-styled line.
func Failure(msg string) string {
	return failureStyle.Render(msg)
}

// Warn renders a warning-styled line.
func Warn(msg string) string {
	return warnStyle.Render(msg)
}

// Dim renders a de-emphasized line, used for secondary detail under a result.
func Dim(msg string) string {
	return dimStyle.Render(msg)
}

// RenderMarkdownToHTML converts a markdown body (such as an LLM response) to
// HTML. Nothing in this repository calls it.
func RenderMarkdownToHTML(source string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}

// Indent prefixes every line of s with the given number of spaces, for
// nesting diagnostic detail under a parent line.
func Indent(s string, spaces int) string {
	prefix := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
