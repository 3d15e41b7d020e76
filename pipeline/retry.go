// ABOUTME: Retry policy configuration and exponential backoff delay calculation for stage execution.
// ABOUTME: Provides preset policies (none, standard, aggressive, linear, patient) and attribute resolution helpers.
package pipeline

import (
	"math"
	"math/rand"
	"strconv"
	"time"
)

// RetryPolicy controls how many times a stage execution is retried on failure.
type RetryPolicy struct {
	MaxAttempts int // minimum 1 (1 = no retries)
	Backoff     BackoffConfig
	ShouldRetry func(*Outcome) bool
}

// BackoffConfig controls delay timing between retry attempts.
type BackoffConfig struct {
	InitialDelay time.Duration // default 200ms
	Factor       float64       // default 2.0
	MaxDelay     time.Duration // default 60s
	Jitter       bool          // default true
}

// DelayForAttempt calculates the delay for a given attempt number (0-indexed).
// The formula is InitialDelay * Factor^attempt, capped at MaxDelay. If Jitter
// is enabled, the delay is randomized in [0, calculated_delay].
func (b BackoffConfig) DelayForAttempt(attempt int) time.Duration {
	baseNanos := float64(b.InitialDelay.Nanoseconds()) * math.Pow(b.Factor, float64(attempt))
	maxNanos := float64(b.MaxDelay.Nanoseconds())
	delayNanos := math.Min(baseNanos, maxNanos)

	if b.Jitter {
		delayNanos = rand.Float64() * delayNanos
	}

	return time.Duration(int64(delayNanos))
}

// RetryPolicyNone returns a policy with no retries (single attempt).
func RetryPolicyNone() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 1,
		Backoff: BackoffConfig{
			InitialDelay: 200 * time.Millisecond,
			Factor:       2.0,
			MaxDelay:     60 * time.Second,
			Jitter:       false,
		},
		ShouldRetry: DefaultShouldRetry,
	}
}

// RetryPolicyStandard returns a standard retry policy with 5 attempts and exponential backoff.
func RetryPolicyStandard() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 200 * time.Millisecond,
			Factor:       2.0,
			MaxDelay:     60 * time.Second,
			Jitter:       true,
		},
		ShouldRetry: DefaultShouldRetry,
	}
}

// RetryPolicyAggressive returns a policy with 5 attempts and a higher initial delay.
func RetryPolicyAggressive() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Factor:       2.0,
			MaxDelay:     60 * time.Second,
			Jitter:       true,
		},
		ShouldRetry: DefaultShouldRetry,
	}
}

// RetryPolicyLinear returns a policy with 3 attempts and constant delay (factor=1.0).
func RetryPolicyLinear() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Factor:       1.0,
			MaxDelay:     60 * time.Second,
			Jitter:       false,
		},
		ShouldRetry: DefaultShouldRetry,
	}
}

// RetryPolicyPatient returns a policy with 3 attempts, high initial delay, and steep backoff.
func RetryPolicyPatient() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 2000 * time.Millisecond,
			Factor:       3.0,
			MaxDelay:     60 * time.Second,
			Jitter:       true,
		},
		ShouldRetry: DefaultShouldRetry,
	}
}

// DefaultShouldRetry retries a bare `retry` outcome, and retries `fail` or
// `partial_success` only when failure_class names a protocol/transient
// category (missing_status_marker, tool_result_skipped, empty_response) —
// any other failure is a terminal outcome, not eligible for automatic
// engine-driven retry. A nil outcome (handler panicked and safeExecute
// synthesized a failure) is always retried.
func DefaultShouldRetry(outcome *Outcome) bool {
	if outcome == nil {
		return true
	}
	switch outcome.Status {
	case StatusRetry:
		return true
	case StatusFail, StatusPartialSuccess:
		return isTransientFailureClass(outcome.FailureClass)
	default:
		return false
	}
}

func isTransientFailureClass(class FailureClass) bool {
	switch class {
	case FailureClassMissingStatusMarker, FailureClassToolResultSkipped, FailureClassEmptyResponse:
		return true
	default:
		return false
	}
}

// buildRetryPolicy constructs a RetryPolicy by checking node attributes, then
// graph attributes, then falling back to the provided default policy.
func buildRetryPolicy(node *Node, graph *Graph, defaultPolicy RetryPolicy) RetryPolicy {
	if node.Attrs != nil {
		if maxRetriesStr, ok := node.Attrs["max_retries"]; ok && maxRetriesStr != "" {
			if maxRetries, err := strconv.Atoi(maxRetriesStr); err == nil {
				policy := defaultPolicy
				policy.MaxAttempts = maxRetries + 1
				return policy
			}
		}
	}

	if graph.Attrs != nil {
		if maxRetryStr, ok := graph.Attrs["default_max_retry"]; ok && maxRetryStr != "" {
			if maxRetry, err := strconv.Atoi(maxRetryStr); err == nil {
				policy := defaultPolicy
				policy.MaxAttempts = maxRetry + 1
				return policy
			}
		}
	}

	return defaultPolicy
}

// resolveNodeTimeout determines the execution timeout for a node by checking,
// in order: the node's "timeout" attribute, the graph's "default_node_timeout"
// attribute, and finally configDefault. Returns 0 (no timeout) if nothing is
// set.
func resolveNodeTimeout(node *Node, graph *Graph, configDefault time.Duration) time.Duration {
	if node.Attrs != nil {
		if timeoutStr, ok := node.Attrs["timeout"]; ok && timeoutStr != "" {
			if d, err := time.ParseDuration(timeoutStr); err == nil {
				return d
			}
		}
	}

	if graph.Attrs != nil {
		if timeoutStr, ok := graph.Attrs["default_node_timeout"]; ok && timeoutStr != "" {
			if d, err := time.ParseDuration(timeoutStr); err == nil {
				return d
			}
		}
	}

	return configDefault
}

// getRetryTarget resolves the retry-target node ID from node and graph
// attributes. Checks in order: node.retry_target, node.fallback_retry_target,
// graph.retry_target, graph.fallback_retry_target.
func getRetryTarget(node *Node, graph *Graph) string {
	if node.Attrs != nil {
		if target := node.Attrs["retry_target"]; target != "" {
			return target
		}
		if target := node.Attrs["fallback_retry_target"]; target != "" {
			return target
		}
	}
	if graph.Attrs != nil {
		if target := graph.Attrs["retry_target"]; target != "" {
			return target
		}
		if target := graph.Attrs["fallback_retry_target"]; target != "" {
			return target
		}
	}
	return ""
}
