// ABOUTME: Handler contract, registry, and shape-to-type resolution for pipeline stage execution.
// ABOUTME: All nine built-in handlers implement NodeHandler and are registered via DefaultHandlerRegistry.
package pipeline

import "context"

// NodeHandler is the interface every stage handler implements. The engine
// dispatches to the appropriate handler based on the node's explicit type or
// shape. Execute may suspend on I/O; resource acquisition (files, processes,
// network) is scoped per call. Handlers must never persist checkpoints or
// emit pipeline events directly — that is the engine's job, and is what keeps
// checkpointing deterministic.
type NodeHandler interface {
	// Type returns the handler type string (e.g. "start", "codergen", "wait.human").
	Type() string

	// Execute runs the handler for node, given the shared pipeline Context,
	// the full Graph (for handlers that need sibling/edge information, such
	// as wait.human building its options from out-edge labels), and the
	// run's log directory root. ctx controls cancellation and timeout.
	Execute(ctx context.Context, node *Node, pctx *Context, graph *Graph, logsRoot string) (*Outcome, error)
}

// HandlerRegistry maps handler type strings to handler instances.
type HandlerRegistry struct {
	handlers map[string]NodeHandler
}

// NewHandlerRegistry creates a new empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]NodeHandler)}
}

// Register adds a handler to the registry, keyed by its Type() string.
// Registering for an already-registered type replaces the previous handler.
func (r *HandlerRegistry) Register(handler NodeHandler) {
	r.handlers[handler.Type()] = handler
}

// Get returns the handler registered for the given type string, or nil if not found.
func (r *HandlerRegistry) Get(typeName string) NodeHandler {
	return r.handlers[typeName]
}

// Resolve finds the handler for a node: explicit type attribute first, then
// shape-based resolution, then default to codergen.
func (r *HandlerRegistry) Resolve(node *Node) NodeHandler {
	if node.Attrs != nil {
		if typeName, ok := node.Attrs["type"]; ok && typeName != "" {
			if h, exists := r.handlers[typeName]; exists {
				return h
			}
		}
	}

	if node.Attrs != nil {
		if shape, ok := node.Attrs["shape"]; ok {
			handlerType := ShapeToHandlerType(shape)
			if h, exists := r.handlers[handlerType]; exists {
				return h
			}
		}
	}

	if h, exists := r.handlers["codergen"]; exists {
		return h
	}
	return nil
}

// shapeToType maps Graphviz-style shape names (as used by the legacy graph
// surface) to handler type strings; lowering a declarative WorkflowDefinition
// sets an explicit type attribute instead. Workspace lifecycle handlers have no shape mapping —
// they are only selected via an explicit type attribute.
var shapeToType = map[string]string{
	"Mdiamond":      "start",
	"Msquare":       "exit",
	"box":           "codergen",
	"diamond":       "conditional",
	"parallelogram": "tool",
	"hexagon":       "wait.human",
}

// ShapeToHandlerType returns the handler type string for a given shape.
// Unknown shapes default to "codergen" (the LLM handler).
func ShapeToHandlerType(shape string) string {
	if t, ok := shapeToType[shape]; ok {
		return t
	}
	return "codergen"
}

// NewDefaultHandlerRegistry builds a registry with all nine built-in handlers
// registered: start, exit, codergen, conditional, tool, wait.human, and the
// three workspace lifecycle handlers. backend and interviewer are injected
// into the handlers that need them (codergen, wait.human); runner is injected
// into the workspace handlers.
func NewDefaultHandlerRegistry(backend LLMBackend, interviewer Interviewer, runner WorkspaceRunner, registry *WorkspaceRegistry) *HandlerRegistry {
	reg := NewHandlerRegistry()
	reg.Register(&StartHandler{})
	reg.Register(&ExitHandler{})
	reg.Register(&CodergenHandler{Backend: backend})
	reg.Register(&ConditionalHandler{})
	reg.Register(&ToolHandler{})
	reg.Register(&WaitForHumanHandler{Interviewer: interviewer})
	reg.Register(&WorkspaceCreateHandler{Runner: runner, Registry: registry})
	reg.Register(&WorkspaceMergeHandler{Runner: runner, Registry: registry})
	reg.Register(&WorkspaceCleanupHandler{Runner: runner, Registry: registry})
	return reg
}
