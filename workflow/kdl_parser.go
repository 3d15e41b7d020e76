// ABOUTME: Recursive-descent parser for the declarative v2 workflow document format.
// ABOUTME: Parses into a generic node tree first, then buildDefinition lowers it into a WorkflowDefinition.
package workflow

import (
	"fmt"
	"strconv"
)

// kdlNodeTree is one generic "name arg1 arg2 key=val { children }" node, the same
// shape a real KDL document has; ParseKDL only knows this generic grammar,
// buildDefinition assigns workflow-specific meaning to node names.
type kdlNodeTree struct {
	Name     string
	Args     []string
	Props    map[string]string
	Children []*kdlNodeTree
	Line     int
}

type kdlDocParser struct {
	tokens []kdlToken
	pos    int
}

// ParseKDL parses a declarative workflow document into a WorkflowDefinition.
func ParseKDL(source string) (*WorkflowDefinition, error) {
	tokens, err := kdlLex(source)
	if err != nil {
		return nil, fmt.Errorf("lex error: %w", err)
	}
	p := &kdlDocParser{tokens: tokens}
	nodes, err := p.parseNodes(false)
	if err != nil {
		return nil, err
	}
	if len(nodes) != 1 || nodes[0].Name != "workflow" {
		return nil, fmt.Errorf("expected a single top-level \"workflow\" node")
	}
	return buildDefinition(nodes[0])
}

func (p *kdlDocParser) current() kdlToken {
	if p.pos >= len(p.tokens) {
		return kdlToken{Type: kdlEOF}
	}
	return p.tokens[p.pos]
}

func (p *kdlDocParser) advance() kdlToken {
	tok := p.current()
	p.pos++
	return tok
}

// parseNodes parses a sequence of nodes until a closing brace (if inBlock) or
// EOF.
func (p *kdlDocParser) parseNodes(inBlock bool) ([]*kdlNodeTree, error) {
	var nodes []*kdlNodeTree
	for {
		tok := p.current()
		if tok.Type == kdlEOF {
			if inBlock {
				return nil, fmt.Errorf("unexpected EOF, expected '}'")
			}
			return nodes, nil
		}
		if tok.Type == kdlRBrace {
			if !inBlock {
				return nil, fmt.Errorf("unexpected '}' at line %d, col %d", tok.Line, tok.Col)
			}
			return nodes, nil
		}
		if tok.Type == kdlSemicolon {
			p.advance()
			continue
		}
		node, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
}

func (p *kdlDocParser) parseNode() (*kdlNodeTree, error) {
	nameTok := p.current()
	if nameTok.Type != kdlIdentifier {
		return nil, fmt.Errorf("expected node name, got %v %q at line %d, col %d", nameTok.Type, nameTok.Value, nameTok.Line, nameTok.Col)
	}
	p.advance()

	node := &kdlNodeTree{Name: nameTok.Value, Props: make(map[string]string), Line: nameTok.Line}

	for {
		tok := p.current()
		switch tok.Type {
		case kdlString, kdlNumber, kdlBoolean:
			// Could be a bare arg, or the start of "key=value" if followed by '='.
			if p.peekIsEquals() {
				return nil, fmt.Errorf("property name must be an identifier at line %d, col %d", tok.Line, tok.Col)
			}
			node.Args = append(node.Args, tok.Value)
			p.advance()
		case kdlIdentifier:
			if p.peekIsEquals() {
				key := tok.Value
				p.advance() // identifier
				p.advance() // '='
				valTok := p.current()
				if valTok.Type != kdlString && valTok.Type != kdlNumber && valTok.Type != kdlBoolean {
					return nil, fmt.Errorf("expected property value at line %d, col %d", valTok.Line, valTok.Col)
				}
				node.Props[key] = valTok.Value
				p.advance()
			} else {
				node.Args = append(node.Args, tok.Value)
				p.advance()
			}
		case kdlLBrace:
			p.advance()
			children, err := p.parseNodes(true)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(kdlRBrace); err != nil {
				return nil, err
			}
			node.Children = children
			p.skipSemicolon()
			return node, nil
		case kdlSemicolon:
			p.advance()
			return node, nil
		case kdlEOF, kdlRBrace:
			return node, nil
		default:
			return nil, fmt.Errorf("unexpected token %v %q at line %d, col %d", tok.Type, tok.Value, tok.Line, tok.Col)
		}
	}
}

func (p *kdlDocParser) peekIsEquals() bool {
	if p.pos+1 >= len(p.tokens) {
		return false
	}
	return p.tokens[p.pos+1].Type == kdlEquals
}

func (p *kdlDocParser) expect(t kdlTokenType) (kdlToken, error) {
	tok := p.current()
	if tok.Type != t {
		return tok, fmt.Errorf("expected %v, got %v %q at line %d, col %d", t, tok.Type, tok.Value, tok.Line, tok.Col)
	}
	p.advance()
	return tok, nil
}

func (p *kdlDocParser) skipSemicolon() {
	if p.current().Type == kdlSemicolon {
		p.advance()
	}
}

// buildDefinition lowers the generic "workflow { ... }" node tree into a
// WorkflowDefinition.
func buildDefinition(root *kdlNodeTree) (*WorkflowDefinition, error) {
	def := &WorkflowDefinition{}
	if len(root.Args) > 0 {
		def.Name = root.Args[0]
	}

	for _, child := range root.Children {
		switch child.Name {
		case "version":
			v, err := argOrPropInt(child, "version")
			if err != nil {
				return nil, err
			}
			def.Version = v
		case "start":
			def.Start = firstArg(child)
		case "description":
			def.Description = firstArg(child)
		case "goal":
			def.Goal = firstArg(child)
		case "models":
			models, err := buildModels(child)
			if err != nil {
				return nil, err
			}
			def.Models = models
		case "stage":
			stage, err := buildStage(child)
			if err != nil {
				return nil, err
			}
			def.Stages = append(def.Stages, *stage)
		case "transition":
			t := TransitionDef{From: child.Props["from"], To: child.Props["to"], When: child.Props["when"]}
			if p, ok := child.Props["priority"]; ok {
				n, err := strconv.Atoi(p)
				if err != nil {
					return nil, fmt.Errorf("transition priority must be an integer at line %d: %w", child.Line, err)
				}
				t.Priority = n
			}
			def.Transitions = append(def.Transitions, t)
		default:
			return nil, fmt.Errorf("unknown top-level workflow element %q at line %d", child.Name, child.Line)
		}
	}
	return def, nil
}

func buildModels(node *kdlNodeTree) (*ModelsDef, error) {
	m := &ModelsDef{}
	for _, child := range node.Children {
		switch child.Name {
		case "default":
			m.Default = firstArg(child)
		case "profile":
			m.Profiles = append(m.Profiles, ModelProfile{
				Name:            firstArg(child),
				Model:           child.Props["model"],
				Provider:        child.Props["provider"],
				ReasoningEffort: child.Props["reasoning_effort"],
			})
		default:
			return nil, fmt.Errorf("unknown models element %q at line %d", child.Name, child.Line)
		}
	}
	return m, nil
}

func buildStage(node *kdlNodeTree) (*StageDef, error) {
	stage := &StageDef{ID: firstArg(node), Attrs: make(map[string]string)}
	if kind, ok := node.Props["kind"]; ok {
		stage.Kind = StageKind(kind)
	}
	for k, v := range node.Props {
		if k == "kind" {
			continue
		}
		stage.Attrs[k] = v
	}

	for _, child := range node.Children {
		switch child.Name {
		case "prompt":
			stage.Prompt = firstArg(child)
		case "prompt_file":
			stage.PromptFile = firstArg(child)
		case "label":
			stage.Label = firstArg(child)
		case "option":
			stage.Options = append(stage.Options, OptionDef{
				Key:   firstArg(child),
				Label: child.Props["label"],
				To:    child.Props["to"],
			})
		case "route":
			route := RouteDef{When: child.Props["when"], To: child.Props["to"]}
			if p, ok := child.Props["priority"]; ok {
				n, err := strconv.Atoi(p)
				if err != nil {
					return nil, fmt.Errorf("route priority must be an integer at line %d: %w", child.Line, err)
				}
				route.Priority = n
			}
			stage.Routes = append(stage.Routes, route)
		case "retry":
			retry := &RetryDef{Backoff: child.Props["backoff"], Delay: child.Props["delay"], MaxDelay: child.Props["max_delay"]}
			if n, ok := child.Props["max_attempts"]; ok {
				v, err := strconv.Atoi(n)
				if err != nil {
					return nil, fmt.Errorf("retry max_attempts must be an integer at line %d: %w", child.Line, err)
				}
				retry.MaxAttempts = v
			}
			stage.Retry = retry
		default:
			// Any other child node is treated as a free-form attribute carrying
			// its first arg as the value, so stage-kind-specific extensions
			// (e.g. "workspace_name") don't require parser changes.
			stage.Attrs[child.Name] = firstArg(child)
		}
	}
	return stage, nil
}

func firstArg(node *kdlNodeTree) string {
	if len(node.Args) == 0 {
		return ""
	}
	return node.Args[0]
}

func argOrPropInt(node *kdlNodeTree, propName string) (int, error) {
	raw := firstArg(node)
	if raw == "" {
		raw = node.Props[propName]
	}
	if raw == "" {
		return 0, fmt.Errorf("%q requires a value at line %d", node.Name, node.Line)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q must be an integer at line %d: %w", node.Name, node.Line, err)
	}
	return n, nil
}
