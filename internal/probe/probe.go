package probe

import (
	"context"
	"errors"
	"time"
)

// ErrMisconfigured marks probe failures that retrying cannot fix, such as a
// malformed endpoint. Wait loops should give up immediately when a Result
// carries it.
var ErrMisconfigured = errors.New("probe misconfigured")

// Result captures the outcome of a single readiness check. Failures are
// carried in Err rather than returned; a probe never panics and never
// reports errors out of band.
type Result struct {
	Success bool
	Latency time.Duration
	Err     error
}

// Probe performs one synchronous round trip against a dependency's
// protocol-level health check. A successful check proves the dependency
// answered a real query, not merely that something accepted a connection.
type Probe interface {
	// Kind identifies the probe implementation, e.g. "postgres".
	Kind() string

	// Check runs a single readiness check against the endpoint.
	Check(ctx context.Context, endpoint string) Result
}

func failure(start time.Time, err error) Result {
	return Result{
		Success: false,
		Latency: time.Since(start),
		Err:     err,
	}
}

func success(start time.Time) Result {
	return Result{
		Success: true,
		Latency: time.Since(start),
	}
}
