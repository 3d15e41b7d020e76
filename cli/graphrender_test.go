// ABOUTME: Tests for graph rendering helpers: DOT serialization, round-trip validation, and ASCII layout.
package cli

import (
	"strings"
	"testing"

	"github.com/bromanko/attractor-sub001/pipeline"
)

func sampleGraph() *pipeline.Graph {
	return &pipeline.Graph{
		Name: "demo",
		Nodes: map[string]*pipeline.Node{
			"start": {ID: "start", Attrs: map[string]string{"type": "start"}},
			"build": {ID: "build", Attrs: map[string]string{"type": "codergen"}},
			"done":  {ID: "done", Attrs: map[string]string{"type": "exit"}},
		},
		Edges: []*pipeline.Edge{
			{From: "start", To: "build", Attrs: map[string]string{}},
			{From: "build", To: "done", Attrs: map[string]string{"label": "ok"}},
		},
	}
}

func TestToDOTRoundTripsThroughValidateDOT(t *testing.T) {
	dot := ToDOT(sampleGraph())
	if !strings.Contains(dot, `digraph demo {`) {
		t.Errorf("expected digraph header naming the graph, got:\n%s", dot)
	}
	if err := ValidateDOT(dot); err != nil {
		t.Fatalf("ValidateDOT rejected generated DOT: %v\n%s", err, dot)
	}
}

func TestValidateDOTRejectsGarbage(t *testing.T) {
	if err := ValidateDOT("this is not dot at all {{{"); err == nil {
		t.Error("expected malformed DOT source to fail validation")
	}
}

func TestRenderASCIIListsNodesAndEdges(t *testing.T) {
	out := RenderASCII(sampleGraph())
	for _, want := range []string{"[start] start", "[codergen] build", "[exit] done", "start -> build", "build -> done  (ok)"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestRenderBoxArtIncludesEveryNode(t *testing.T) {
	out := RenderBoxArt(sampleGraph())
	for _, id := range []string{"start", "build", "done"} {
		if !strings.Contains(out, id) {
			t.Errorf("expected box art to mention node %q, got:\n%s", id, out)
		}
	}
}
