package waitloop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/forerun-dev/forerun/internal/logging"
	"github.com/forerun-dev/forerun/internal/probe"
)

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMaxInterval = 5 * time.Second
	DefaultTimeout     = 60 * time.Second
)

// Policy bounds a readiness wait. A timeout is always enforced: a zero
// Timeout is replaced with DefaultTimeout so no wait can block forever.
type Policy struct {
	// Interval is the delay before the second attempt; it doubles after
	// every failed attempt up to MaxInterval.
	Interval time.Duration

	// MaxInterval caps the backoff. Zero means DefaultMaxInterval.
	MaxInterval time.Duration

	// Timeout bounds the whole wait. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxAttempts bounds the number of checks. Zero means no attempt
	// limit; the timeout still applies.
	MaxAttempts int
}

func (p Policy) withDefaults() Policy {
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

// Status is the terminal state of a wait.
type Status string

const (
	// Ready means a probe attempt succeeded.
	Ready Status = "ready"
	// TimedOut means the policy was exhausted before any attempt succeeded.
	TimedOut Status = "timed_out"
	// Aborted means the wait ended early: the context was cancelled or the
	// probe reported a misconfiguration that retrying cannot fix.
	Aborted Status = "aborted"
)

// Verdict reports how a wait ended. TimedOut is a value rather than an
// error so callers decide what exhausting the policy means for the run.
type Verdict struct {
	Status   Status
	Attempts int
	Elapsed  time.Duration
	LastErr  error
}

// Wait repeatedly checks the endpoint until the probe succeeds, the policy
// is exhausted, or the context is cancelled. Backoff between attempts grows
// exponentially from policy.Interval up to policy.MaxInterval.
func Wait(ctx context.Context, p probe.Probe, endpoint string, policy Policy, logger *slog.Logger) Verdict {
	logger = logging.Ensure(logger).With("probe", p.Kind())
	policy = policy.withDefaults()

	start := time.Now()
	deadline := start.Add(policy.Timeout)
	interval := policy.Interval

	verdict := Verdict{Status: TimedOut}
	for attempt := 1; ; attempt++ {
		result := p.Check(ctx, endpoint)
		verdict.Attempts = attempt
		verdict.Elapsed = time.Since(start)

		if result.Success {
			logger.Info("dependency ready", "attempts", attempt, "elapsed", verdict.Elapsed)
			verdict.Status = Ready
			verdict.LastErr = nil
			return verdict
		}

		verdict.LastErr = result.Err
		if errors.Is(result.Err, probe.ErrMisconfigured) {
			logger.Error("probe misconfigured, giving up", "error", result.Err)
			verdict.Status = Aborted
			return verdict
		}
		if ctx.Err() != nil {
			verdict.Status = Aborted
			verdict.LastErr = ctx.Err()
			return verdict
		}

		logger.Debug("dependency not ready",
			"attempt", attempt,
			"latency", result.Latency,
			"error", result.Err,
		)

		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			logger.Warn("readiness attempts exhausted", "attempts", attempt)
			return verdict
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			logger.Warn("readiness wait timed out", "attempts", attempt, "timeout", policy.Timeout)
			return verdict
		}

		sleep := interval
		if sleep > remaining {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			verdict.Status = Aborted
			verdict.LastErr = ctx.Err()
			verdict.Elapsed = time.Since(start)
			return verdict
		}

		interval *= 2
		if interval > policy.MaxInterval {
			interval = policy.MaxInterval
		}
	}
}
