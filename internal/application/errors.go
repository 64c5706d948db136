// Package application contains use-case orchestration services: the creation
// pipeline and the two-stage cleanup scheduler.
package application

import (
	"errors"
	"fmt"
)

// ErrCleanupInProgress is returned by RunNow when a cleanup cycle is already
// in flight. The scheduler is single-instance by design, so the guard is a
// process-local flag rather than a distributed lock.
var ErrCleanupInProgress = errors.New("cleanup cycle already in progress")

// PipelineError wraps the failing step name and scenario id so operators can
// reason about partial state without replaying the scenario. Resources
// registered before the failure remain in the ledger.
type PipelineError struct {
	Step       string
	ScenarioID string
	Err        error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline step %q failed for scenario %s: %v", e.Step, e.ScenarioID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// ValidationError reports bad scenario input. Never retried, surfaced
// immediately, and no external call is made after one is detected.
type ValidationError struct {
	ScenarioID string
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid scenario %s: %v", e.ScenarioID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
