// ABOUTME: Recursive-descent parser for the legacy graph-description surface, producing a pipeline.Graph.
// ABOUTME: Adapted from the project's original DOT parser: digraphs, node/edge defaults, subgraphs, edge chains.
package workflow

import (
	"fmt"

	"github.com/bromanko/attractor-sub001/pipeline"
)

type legacyParser struct {
	tokens       []legacyToken
	pos          int
	graph        *pipeline.Graph
	nodeDefaults map[string]string
	edgeDefaults map[string]string
}

// ParseLegacyGraph parses the legacy digraph-family source directly into a
// pipeline.Graph.
func ParseLegacyGraph(input string) (*pipeline.Graph, error) {
	tokens, err := legacyLex(input)
	if err != nil {
		return nil, fmt.Errorf("lex error: %w", err)
	}
	p := &legacyParser{
		tokens: tokens,
		graph: &pipeline.Graph{
			Nodes:        make(map[string]*pipeline.Node),
			Edges:        make([]*pipeline.Edge, 0),
			Attrs:        make(map[string]string),
			NodeDefaults: make(map[string]string),
			EdgeDefaults: make(map[string]string),
		},
		nodeDefaults: make(map[string]string),
		edgeDefaults: make(map[string]string),
	}
	if err := p.parseGraph(); err != nil {
		return nil, err
	}
	return p.graph, nil
}

func (p *legacyParser) current() legacyToken {
	if p.pos >= len(p.tokens) {
		return legacyToken{Type: legacyEOF}
	}
	return p.tokens[p.pos]
}

func (p *legacyParser) peek(offset int) legacyToken {
	idx := p.pos + offset
	if idx >= len(p.tokens) {
		return legacyToken{Type: legacyEOF}
	}
	return p.tokens[idx]
}

func (p *legacyParser) advance() legacyToken {
	tok := p.current()
	p.pos++
	return tok
}

func (p *legacyParser) expect(t legacyTokenType) (legacyToken, error) {
	tok := p.current()
	if tok.Type != t {
		return tok, fmt.Errorf("expected %v but got %v (%q) at line %d, col %d", t, tok.Type, tok.Value, tok.Line, tok.Col)
	}
	p.advance()
	return tok, nil
}

func (p *legacyParser) skipSemicolon() {
	if p.current().Type == legacySemicolon {
		p.advance()
	}
}

func (p *legacyParser) parseGraph() error {
	if p.current().Type == legacyIdentifier && p.current().Value == "strict" {
		return fmt.Errorf("strict modifier is not supported at line %d, col %d", p.current().Line, p.current().Col)
	}
	if _, err := p.expect(legacyDigraph); err != nil {
		return fmt.Errorf("expected 'digraph': %w", err)
	}
	name, err := p.expect(legacyIdentifier)
	if err != nil {
		return fmt.Errorf("expected graph name: %w", err)
	}
	p.graph.Name = name.Value

	if _, err := p.expect(legacyLBrace); err != nil {
		return err
	}
	if err := p.parseStatements(); err != nil {
		return err
	}
	if _, err := p.expect(legacyRBrace); err != nil {
		return err
	}
	if p.current().Type == legacyDigraph {
		return fmt.Errorf("multiple digraphs are not supported; only one digraph per file is allowed")
	}

	for k, v := range p.nodeDefaults {
		p.graph.NodeDefaults[k] = v
	}
	for k, v := range p.edgeDefaults {
		p.graph.EdgeDefaults[k] = v
	}
	return nil
}

func (p *legacyParser) parseStatements() error {
	for p.current().Type != legacyRBrace && p.current().Type != legacyEOF {
		if err := p.parseStatement(); err != nil {
			return err
		}
	}
	return nil
}

func (p *legacyParser) parseStatement() error {
	tok := p.current()
	switch tok.Type {
	case legacyGraph:
		return p.parseGraphAttrStmt()
	case legacyNode:
		return p.parseNodeDefaults()
	case legacyEdge:
		return p.parseEdgeDefaults()
	case legacySubgraph:
		return p.parseSubgraph()
	case legacyIdentifier, legacyString:
		return p.parseNodeOrEdgeStmt()
	case legacySemicolon:
		p.advance()
		return nil
	default:
		return fmt.Errorf("unexpected token %v (%q) at line %d, col %d", tok.Type, tok.Value, tok.Line, tok.Col)
	}
}

func (p *legacyParser) parseGraphAttrStmt() error {
	p.advance()
	if p.current().Type == legacyLBracket {
		attrs, err := p.parseAttrBlock()
		if err != nil {
			return err
		}
		for k, v := range attrs {
			p.graph.Attrs[k] = v
		}
	}
	p.skipSemicolon()
	return nil
}

func (p *legacyParser) parseNodeDefaults() error {
	p.advance()
	if p.current().Type == legacyLBracket {
		attrs, err := p.parseAttrBlock()
		if err != nil {
			return err
		}
		for k, v := range attrs {
			p.nodeDefaults[k] = v
		}
	}
	p.skipSemicolon()
	return nil
}

func (p *legacyParser) parseEdgeDefaults() error {
	p.advance()
	if p.current().Type == legacyLBracket {
		attrs, err := p.parseAttrBlock()
		if err != nil {
			return err
		}
		for k, v := range attrs {
			p.edgeDefaults[k] = v
		}
	}
	p.skipSemicolon()
	return nil
}

// parseSubgraph flattens a subgraph's nodes/edges into the main graph, with
// scoped node defaults that don't leak back out.
func (p *legacyParser) parseSubgraph() error {
	p.advance()
	if p.current().Type == legacyIdentifier {
		p.advance() // optional subgraph name, not retained
	}
	if _, err := p.expect(legacyLBrace); err != nil {
		return err
	}

	outerNodeDefaults := p.nodeDefaults
	p.nodeDefaults = make(map[string]string, len(outerNodeDefaults))
	for k, v := range outerNodeDefaults {
		p.nodeDefaults[k] = v
	}

	for p.current().Type != legacyRBrace && p.current().Type != legacyEOF {
		tok := p.current()
		switch tok.Type {
		case legacyIdentifier:
			if p.peek(1).Type == legacyEquals {
				p.advance()
				p.advance()
				if _, err := p.parseValue(); err != nil {
					return err
				}
				p.skipSemicolon()
				continue
			}
			if err := p.parseNodeOrEdgeStmt(); err != nil {
				return err
			}
		case legacyNode:
			p.advance()
			if p.current().Type == legacyLBracket {
				attrs, err := p.parseAttrBlock()
				if err != nil {
					return err
				}
				for k, v := range attrs {
					p.nodeDefaults[k] = v
				}
			}
			p.skipSemicolon()
		case legacyEdge:
			if err := p.parseEdgeDefaults(); err != nil {
				return err
			}
		case legacyGraph:
			if err := p.parseGraphAttrStmt(); err != nil {
				return err
			}
		case legacySemicolon:
			p.advance()
		default:
			return fmt.Errorf("unexpected token %v (%q) in subgraph at line %d, col %d", tok.Type, tok.Value, tok.Line, tok.Col)
		}
	}

	if _, err := p.expect(legacyRBrace); err != nil {
		return err
	}
	p.nodeDefaults = outerNodeDefaults
	p.skipSemicolon()
	return nil
}

func (p *legacyParser) parseNodeOrEdgeStmt() error {
	if p.peek(1).Type == legacyMinus {
		return fmt.Errorf("undirected edges (--) are not supported at line %d, col %d; use directed edges (->)", p.peek(1).Line, p.peek(1).Col)
	}
	if p.peek(1).Type == legacyEquals {
		key := p.advance().Value
		p.advance()
		val, err := p.parseValue()
		if err != nil {
			return err
		}
		p.graph.Attrs[key] = val
		p.skipSemicolon()
		return nil
	}

	id := p.advance().Value
	if p.current().Type == legacyArrow {
		return p.parseEdgeStmt(id)
	}
	return p.parseNodeStmt(id)
}

func (p *legacyParser) parseNodeStmt(id string) error {
	var attrs map[string]string
	if p.current().Type == legacyLBracket {
		var err error
		attrs, err = p.parseAttrBlock()
		if err != nil {
			return err
		}
	}
	p.ensureNode(id, attrs)
	p.skipSemicolon()
	return nil
}

func (p *legacyParser) parseEdgeStmt(firstID string) error {
	nodeIDs := []string{firstID}
	for p.current().Type == legacyArrow {
		p.advance()
		tok := p.current()
		if tok.Type != legacyIdentifier && tok.Type != legacyString {
			return fmt.Errorf("expected identifier after -> at line %d, col %d", tok.Line, tok.Col)
		}
		nodeIDs = append(nodeIDs, tok.Value)
		p.advance()
	}

	var attrs map[string]string
	if p.current().Type == legacyLBracket {
		var err error
		attrs, err = p.parseAttrBlock()
		if err != nil {
			return err
		}
	}

	for _, id := range nodeIDs {
		p.ensureNode(id, nil)
	}

	for i := 0; i < len(nodeIDs)-1; i++ {
		edgeAttrs := make(map[string]string)
		for k, v := range p.edgeDefaults {
			edgeAttrs[k] = v
		}
		for k, v := range attrs {
			edgeAttrs[k] = v
		}
		p.graph.Edges = append(p.graph.Edges, &pipeline.Edge{From: nodeIDs[i], To: nodeIDs[i+1], Attrs: edgeAttrs})
	}

	p.skipSemicolon()
	return nil
}

func (p *legacyParser) ensureNode(id string, explicitAttrs map[string]string) {
	node, exists := p.graph.Nodes[id]
	if !exists {
		node = &pipeline.Node{ID: id, Attrs: make(map[string]string)}
		for k, v := range p.nodeDefaults {
			node.Attrs[k] = v
		}
		p.graph.Nodes[id] = node
	}
	for k, v := range explicitAttrs {
		node.Attrs[k] = v
	}
}

func (p *legacyParser) parseAttrBlock() (map[string]string, error) {
	if _, err := p.expect(legacyLBracket); err != nil {
		return nil, err
	}
	attrs := make(map[string]string)
	if p.current().Type == legacyRBracket {
		p.advance()
		return attrs, nil
	}
	key, val, err := p.parseAttr()
	if err != nil {
		return nil, err
	}
	attrs[key] = val

	for p.current().Type == legacyComma {
		p.advance()
		if p.current().Type == legacyRBracket {
			break
		}
		key, val, err = p.parseAttr()
		if err != nil {
			return nil, err
		}
		attrs[key] = val
	}

	if _, err := p.expect(legacyRBracket); err != nil {
		return nil, err
	}
	return attrs, nil
}

func (p *legacyParser) parseAttr() (string, string, error) {
	tok := p.current()
	if tok.Type != legacyIdentifier {
		return "", "", fmt.Errorf("expected attribute key (identifier) but got %v (%q) at line %d, col %d", tok.Type, tok.Value, tok.Line, tok.Col)
	}
	key := tok.Value
	p.advance()

	if _, err := p.expect(legacyEquals); err != nil {
		return "", "", err
	}
	val, err := p.parseValue()
	if err != nil {
		return "", "", err
	}
	return key, val, nil
}

func (p *legacyParser) parseValue() (string, error) {
	tok := p.current()
	switch tok.Type {
	case legacyString, legacyNumber, legacyBoolean, legacyIdentifier:
		p.advance()
		return tok.Value, nil
	case legacyMinus:
		p.advance()
		if p.current().Type == legacyNumber {
			val := "-" + p.current().Value
			p.advance()
			return val, nil
		}
		return "-", nil
	default:
		return "", fmt.Errorf("expected value but got %v (%q) at line %d, col %d", tok.Type, tok.Value, tok.Line, tok.Col)
	}
}
