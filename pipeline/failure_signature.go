// ABOUTME: Normalizes failure text into stable signatures for detecting repeat deterministic failures.
// ABOUTME: Replaces UUIDs, timestamps, quoted file paths, hex strings, and numbers with placeholders.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sync"
)

// Regex patterns for normalizing variable content in failure text.
// Order matters: more specific patterns (UUIDs, timestamps) must be applied
// before more general ones (hex strings, numbers) to avoid partial matches.
var (
	uuidPattern             = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	timestampPattern        = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?`)
	doubleQuotedPathPattern = regexp.MustCompile(`"[^"]*\/[^"]*"`)
	singleQuotedPathPattern = regexp.MustCompile(`'[^']*\/[^']*'`)
	hexPrefixedPattern      = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	hexStandalonePattern    = regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`)
	numberPattern           = regexp.MustCompile(`\b\d+\b`)
)

// normalizeFailureText replaces variable content (UUIDs, hex strings,
// timestamps, file paths, numbers) in msg with stable placeholders, so two
// failures that differ only in runtime-specific values produce the same
// normalized text.
func normalizeFailureText(msg string) string {
	if msg == "" {
		return ""
	}

	result := uuidPattern.ReplaceAllString(msg, "<UUID>")
	result = timestampPattern.ReplaceAllString(result, "<TIMESTAMP>")
	result = doubleQuotedPathPattern.ReplaceAllString(result, "<PATH>")
	result = singleQuotedPathPattern.ReplaceAllString(result, "<PATH>")
	result = hexPrefixedPattern.ReplaceAllString(result, "<HEX>")
	result = hexStandalonePattern.ReplaceAllStringFunc(result, func(match string) string {
		for _, c := range match {
			if (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
				return "<HEX>"
			}
		}
		return match
	})
	result = numberPattern.ReplaceAllString(result, "<N>")

	return result
}

// shortHash returns a short, stable hex digest of normalized text, suitable
// for embedding in a ToolStageFailure.Digest or checkpoint without carrying
// the full (potentially large) normalized text around.
func shortHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}

// FailureSignature returns a deterministic signature for the given failure
// text. Messages that differ only in variable content (UUIDs, timestamps,
// line numbers, etc.) produce identical signatures.
func FailureSignature(msg string) string {
	return normalizeFailureText(msg)
}

// FailureTracker tracks failure signatures across retries of a single stage
// to detect deterministic (repeating) failures. A failure is considered
// deterministic once the same normalized signature has been seen 2 or more
// times. FailureTracker is safe for concurrent use.
type FailureTracker struct {
	mu         sync.Mutex
	signatures map[string]int
}

// NewFailureTracker creates a FailureTracker ready to record failures.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{signatures: make(map[string]int)}
}

// Record normalizes msg, increments the count for its signature, and returns
// the signature string.
func (t *FailureTracker) Record(msg string) string {
	sig := FailureSignature(msg)
	t.mu.Lock()
	t.signatures[sig]++
	t.mu.Unlock()
	return sig
}

// Count returns how many times the given signature has been recorded.
func (t *FailureTracker) Count(signature string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signatures[signature]
}

// IsDeterministic reports whether signature has been recorded 2 or more
// times, indicating the failure is likely deterministic rather than
// transient.
func (t *FailureTracker) IsDeterministic(signature string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signatures[signature] >= 2
}
