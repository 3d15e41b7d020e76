// ABOUTME: Evaluator for compiled edge-guard clauses: "key op value (&& key op value)*".
// ABOUTME: Compiled clauses are produced by exprcompile.go from the surface outcome/output/exists DSL.
package pipeline

import "strings"

// EvaluateCondition evaluates a compiled clause string against an outcome and
// context. Grammar: clause := atom (" && " atom)*; atom := key ("="|"!=") value.
// An empty or whitespace-only clause always evaluates to true.
func EvaluateCondition(clause string, outcome *Outcome, ctx *Context) bool {
	trimmed := strings.TrimSpace(clause)
	if trimmed == "" {
		return true
	}

	for _, atom := range strings.Split(trimmed, "&&") {
		if !evaluateAtom(strings.TrimSpace(atom), outcome, ctx) {
			return false
		}
	}
	return true
}

// evaluateAtom evaluates a single "key op literal" atom.
func evaluateAtom(atom string, outcome *Outcome, ctx *Context) bool {
	if idx := strings.Index(atom, "!="); idx >= 0 {
		key := strings.TrimSpace(atom[:idx])
		literal := strings.TrimSpace(atom[idx+2:])
		return resolveKey(key, outcome, ctx) != literal
	}
	if idx := strings.Index(atom, "="); idx >= 0 {
		key := strings.TrimSpace(atom[:idx])
		literal := strings.TrimSpace(atom[idx+1:])
		return resolveKey(key, outcome, ctx) == literal
	}
	// Malformed atom (no operator): never matches.
	return false
}

// resolveKey resolves a clause key to its current string value.
//
//	"outcome"          -> outcome.Status
//	"preferred_label"  -> outcome.PreferredLabel
//	"context.X"        -> ctx.GetString("context.X"), falling back to ctx.GetString("X")
//	bare key           -> ctx.GetString(key)
func resolveKey(key string, outcome *Outcome, ctx *Context) string {
	switch key {
	case "outcome":
		if outcome == nil {
			return ""
		}
		return string(outcome.Status)
	case "preferred_label":
		if outcome == nil {
			return ""
		}
		return outcome.PreferredLabel
	default:
		if strings.HasPrefix(key, "context.") {
			if val := ctx.GetString(key, ""); val != "" {
				return val
			}
			return ctx.GetString(key[len("context."):], "")
		}
		return ctx.GetString(key, "")
	}
}

// ValidateConditionSyntax reports whether a compiled clause string parses.
// Used by the condition_syntax lint rule as a defense-in-depth check on
// clauses that did not originate from the expression compiler (e.g. hand
// written in the legacy graph surface).
func ValidateConditionSyntax(clause string) bool {
	trimmed := strings.TrimSpace(clause)
	if trimmed == "" {
		return true
	}
	for _, atom := range strings.Split(trimmed, "&&") {
		a := strings.TrimSpace(atom)
		if a == "" {
			return false
		}
		if idx := strings.Index(a, "!="); idx >= 0 {
			if strings.TrimSpace(a[:idx]) == "" {
				return false
			}
			continue
		}
		if idx := strings.Index(a, "="); idx >= 0 {
			if strings.TrimSpace(a[:idx]) == "" {
				return false
			}
			continue
		}
		return false
	}
	return true
}
