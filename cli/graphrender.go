// ABOUTME: Renders a pipeline.Graph for `show`: DOT serialization, plus ascii/boxart terminal layouts.
// ABOUTME: DOT output round-trips through gographviz.Analyse to catch malformed serialization before printing.
package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/awalterschulze/gographviz"
	"github.com/charmbracelet/lipgloss"

	"github.com/bromanko/attractor-sub001/pipeline"
)

// ToDOT serializes a graph back to digraph source, quoting attribute values.
func ToDOT(g *pipeline.Graph) string {
	var b strings.Builder
	name := g.Name
	if name == "" {
		name = "workflow"
	}
	fmt.Fprintf(&b, "digraph %s {\n", name)
	for _, id := range g.NodeIDs() {
		node := g.Nodes[id]
		fmt.Fprintf(&b, "  %q%s;\n", id, attrBlock(node.Attrs))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&b, "  %q -> %q%s;\n", e.From, e.To, attrBlock(e.Attrs))
	}
	b.WriteString("}\n")
	return b.String()
}

func attrBlock(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, attrs[k]))
	}
	return " [" + strings.Join(parts, ", ") + "]"
}

// ValidateDOT parses DOT source with gographviz to confirm it's well-formed
// before it's written out by `show --format dot`.
func ValidateDOT(source string) error {
	ast, err := gographviz.ParseString(source)
	if err != nil {
		return fmt.Errorf("parsing dot source: %w", err)
	}
	g := gographviz.NewGraph()
	if err := gographviz.Analyse(ast, g); err != nil {
		return fmt.Errorf("analysing dot graph: %w", err)
	}
	return nil
}

var (
	nodeBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	edgeArrowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// RenderASCII renders a plain-text line-per-node/edge summary.
func RenderASCII(g *pipeline.Graph) string {
	var b strings.Builder
	for _, id := range g.NodeIDs() {
		node := g.Nodes[id]
		fmt.Fprintf(&b, "[%s] %s\n", node.Attrs["type"], id)
	}
	b.WriteString("\n")
	for _, e := range g.Edges {
		label := e.Attrs["condition"]
		if label == "" {
			label = e.Attrs["label"]
		}
		if label != "" {
			fmt.Fprintf(&b, "%s -> %s  (%s)\n", e.From, e.To, label)
		} else {
			fmt.Fprintf(&b, "%s -> %s\n", e.From, e.To)
		}
	}
	return b.String()
}

// RenderBoxArt renders nodes as bordered boxes with arrows between them,
// grouped in NodeIDs order (not a true layout engine, just a readable list).
func RenderBoxArt(g *pipeline.Graph) string {
	var rows []string
	for _, id := range g.NodeIDs() {
		node := g.Nodes[id]
		label := fmt.Sprintf("%s\n%s", id, node.Attrs["type"])
		rows = append(rows, nodeBoxStyle.Render(label))
	}
	arrow := edgeArrowStyle.Render("  |\n  v  ")
	return strings.Join(rows, "\n"+arrow+"\n")
}
