// ABOUTME: WorkflowDefinition is the declarative surface the KDL parser produces; the legacy parser builds a pipeline.Graph directly.
// ABOUTME: Lowering it into a pipeline.Graph is loader.go's job; this file only defines the shape.
package workflow

// WorkflowDefinition is the declarative v2 workflow document: a named graph
// of stages and transitions, described independently of the lowered
// pipeline.Graph representation.
type WorkflowDefinition struct {
	Version     int
	Name        string
	Description string
	Goal        string
	Start       string
	Models      *ModelsDef
	Stages      []StageDef
	Transitions []TransitionDef
}

// ModelsDef names the default model and any named model profiles a workflow
// declares for its llm stages to reference.
type ModelsDef struct {
	Default  string
	Profiles []ModelProfile
}

// ModelProfile is one named model configuration.
type ModelProfile struct {
	Name            string
	Model           string
	Provider        string
	ReasoningEffort string
}

// StageKind enumerates the recognized stage kinds on the declarative surface.
type StageKind string

const (
	StageKindLLM               StageKind = "llm"
	StageKindTool              StageKind = "tool"
	StageKindHuman             StageKind = "human"
	StageKindDecision          StageKind = "decision"
	StageKindExit              StageKind = "exit"
	StageKindWorkspaceCreate   StageKind = "workspace.create"
	StageKindWorkspaceMerge    StageKind = "workspace.merge"
	StageKindWorkspaceCleanup  StageKind = "workspace.cleanup"
)

// StageDef is one declared stage. Attrs carries every recognized
// pipeline.Node attribute not promoted to a named field (llm_model,
// tool_command, workspace_name, timeout, goal_gate, auto_status, re_review,
// max_retries, retry_target, fallback_retry_target...), so the loader can
// copy it onto the lowered node unchanged.
type StageDef struct {
	ID         string
	Kind       StageKind
	Prompt     string
	PromptFile string
	Label      string
	Attrs      map[string]string
	Options    []OptionDef // human stages
	Routes     []RouteDef  // decision stages
	Retry      *RetryDef
}

// OptionDef is one human-stage choice, lowered to a labeled edge to To.
type OptionDef struct {
	Key   string
	Label string
	To    string
}

// RouteDef is one decision-stage route, lowered to a guarded edge to To.
// When == "" or "true" is the catch-all/unconditional route.
type RouteDef struct {
	When     string
	To       string
	Priority int
}

// RetryDef configures max_attempts, delay, max_delay and backoff for the stage
// it's attached to, lowered onto the stage's node attrs by the loader
// (max_retries = MaxAttempts-1, retry_delay, retry_max_delay, retry_backoff).
type RetryDef struct {
	MaxAttempts int
	Backoff     string
	Delay       string
	MaxDelay    string
}

// TransitionDef is a top-level transition between two stages, lowered to one
// or more edges (one per DNF disjunct of When).
type TransitionDef struct {
	From     string
	To       string
	When     string
	Priority int
}

// StageByID returns the stage with the given ID, or nil.
func (d *WorkflowDefinition) StageByID(id string) *StageDef {
	for i := range d.Stages {
		if d.Stages[i].ID == id {
			return &d.Stages[i]
		}
	}
	return nil
}
