package dependency

import (
	"context"
	"fmt"
	"time"
)

// State is the lifecycle state of an ephemeral dependency.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateFailed   State = "failed"
	StateStopped  State = "stopped"
)

// Handle references a running dependency. It is owned by the Service that
// produced it; callers hold a reference and must not mutate it.
type Handle struct {
	ID      string
	Address string

	// ProbeEndpoint is the protocol-level endpoint readiness probes check,
	// e.g. a connection URL. It may differ from Address.
	ProbeEndpoint string

	PID       int
	StartedAt time.Time
	State     State

	// Borrowed marks a dependency that is externally managed; stopping it
	// is not this process's responsibility.
	Borrowed bool
}

// Service manages the lifecycle of one dependency instance per run.
type Service interface {
	// Start launches the dependency in the background and returns
	// immediately with a handle in StateStarting (or StateReady for
	// borrowed dependencies). Launch failures are *StartError.
	Start(ctx context.Context) (*Handle, error)

	// MarkReady transitions the handle to StateReady after a successful
	// readiness wait. It fails if the dependency already exited.
	MarkReady(handle *Handle) error

	// Stop terminates the dependency and releases its resources. It is
	// idempotent: calling it again, or on a never-started service, is a
	// no-op. Failures are *StopError.
	Stop(handle *Handle) error
}

// StartError reports that the dependency process could not launch. It is
// fatal for the run; there is nothing to retry.
type StartError struct {
	Reason string
	Err    error
}

func (e *StartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("start dependency: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("start dependency: %s", e.Reason)
}

func (e *StartError) Unwrap() error { return e.Err }

// StopError reports a cleanup failure. Callers log it; it never replaces
// the primary outcome of a run.
type StopError struct {
	Reason string
	Err    error
}

func (e *StopError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stop dependency: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("stop dependency: %s", e.Reason)
}

func (e *StopError) Unwrap() error { return e.Err }
