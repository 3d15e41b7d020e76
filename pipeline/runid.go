// ABOUTME: Run-ID generation for tagging a pipeline execution across logs, checkpoints, and run state.
package pipeline

import "github.com/google/uuid"

// GenerateRunID returns a fresh random run identifier.
func GenerateRunID() string {
	return uuid.NewString()
}
