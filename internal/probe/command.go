package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultCommandCheckTimeout = 5 * time.Second

// CommandProbe checks readiness by running a shell command; exit status zero
// means ready. It covers dependencies whose protocol the built-in probes do
// not speak, at the cost of depending on an external client binary.
type CommandProbe struct {
	// Timeout bounds a single check. Zero means the default.
	Timeout time.Duration
}

func (p *CommandProbe) Kind() string {
	return "command"
}

// Check runs the endpoint as a shell command line.
func (p *CommandProbe) Check(ctx context.Context, endpoint string) Result {
	start := time.Now()

	command := strings.TrimSpace(endpoint)
	if command == "" {
		return failure(start, fmt.Errorf("%w: check command is empty", ErrMisconfigured))
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultCommandCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return failure(start, fmt.Errorf("check command: %w: %s", err, detail))
		}
		return failure(start, fmt.Errorf("check command: %w", err))
	}

	return success(start)
}
