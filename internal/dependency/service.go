package dependency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/forerun-dev/forerun/internal/logging"
)

const defaultStopGracePeriod = 10 * time.Second

// CommandService runs a dependency as a background OS process bound to a
// local-only address. One service instance manages at most one process.
type CommandService struct {
	Logger *slog.Logger

	// Command is the dependency process argv. Required.
	Command []string

	// Address is the host:port the dependency will bind. When set, Start
	// verifies the port is free before launching.
	Address string

	// ProbeEndpoint is carried onto the handle for readiness probes.
	ProbeEndpoint string

	// LogSink receives the process's combined stdout and stderr. Nil
	// discards the output.
	LogSink io.Writer

	// Dir is the working directory for the process.
	Dir string

	// Env is appended to the process environment.
	Env map[string]string

	// Resolver validates the bind address. Nil means LoopbackResolver.
	Resolver AddressResolver

	// GracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	// Zero means a default.
	GracePeriod time.Duration

	mu      sync.Mutex
	cmd     *exec.Cmd
	handle  *Handle
	done    chan struct{}
	waitErr error
	stopped bool
}

// Start launches the dependency process and returns immediately; readiness
// is the wait loop's concern. The process gets its own process group so
// Stop can signal it together with any children.
func (s *CommandService) Start(ctx context.Context) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil, &StartError{Reason: "dependency already started"}
	}
	if len(s.Command) == 0 {
		return nil, &StartError{Reason: "dependency command is empty"}
	}

	logger := logging.Ensure(s.Logger).With("component", "dependency")

	binary, err := exec.LookPath(s.Command[0])
	if err != nil {
		return nil, &StartError{Reason: fmt.Sprintf("binary %q not found", s.Command[0]), Err: err}
	}

	address := s.Address
	if address != "" {
		resolver := s.Resolver
		if resolver == nil {
			resolver = LoopbackResolver{}
		}
		address, err = resolver.Resolve(address)
		if err != nil {
			return nil, &StartError{Reason: "resolve address", Err: err}
		}
		if err := ensurePortFree(address); err != nil {
			return nil, &StartError{Reason: fmt.Sprintf("address %s unavailable", address), Err: err}
		}
	}

	cmd := exec.Command(binary, s.Command[1:]...)
	cmd.Dir = s.Dir
	cmd.Stdout = s.LogSink
	cmd.Stderr = s.LogSink
	cmd.Env = mergedEnv(s.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, &StartError{Reason: "launch process", Err: err}
	}

	handle := &Handle{
		ID:            uuid.New().String(),
		Address:       address,
		ProbeEndpoint: s.ProbeEndpoint,
		PID:           cmd.Process.Pid,
		StartedAt:     time.Now().UTC(),
		State:         StateStarting,
	}

	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		if s.handle != nil && s.handle.State == StateStarting {
			s.handle.State = StateFailed
		}
		s.mu.Unlock()
		close(done)
	}()

	s.cmd = cmd
	s.handle = handle
	s.done = done

	logger.Info("dependency started", "pid", handle.PID, "address", address)
	return handle, nil
}

// MarkReady transitions the handle to StateReady. It fails when the process
// already exited, which catches a dependency that crashed between the last
// successful probe and the build.
func (s *CommandService) MarkReady(handle *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil || handle == nil || s.handle.ID != handle.ID {
		return errors.New("mark ready: unknown handle")
	}

	select {
	case <-s.done:
		return fmt.Errorf("mark ready: dependency exited: %w", s.waitErr)
	default:
	}

	s.handle.State = StateReady
	return nil
}

// Stop terminates the process group: SIGTERM first, SIGKILL after the grace
// period. Calling Stop again, or on a service that never started, is a
// no-op.
func (s *CommandService) Stop(handle *Handle) error {
	s.mu.Lock()
	if s.stopped || s.cmd == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cmd := s.cmd
	done := s.done
	if s.handle != nil {
		s.handle.State = StateStopped
	}
	s.mu.Unlock()

	logger := logging.Ensure(s.Logger).With("component", "dependency")

	select {
	case <-done:
		// Already exited; nothing to signal.
		logger.Debug("dependency already exited", "pid", cmd.Process.Pid)
		return nil
	default:
	}

	pgid := cmd.Process.Pid
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return &StopError{Reason: fmt.Sprintf("signal process group %d", pgid), Err: err}
	}

	grace := s.GracePeriod
	if grace <= 0 {
		grace = defaultStopGracePeriod
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn("dependency ignored SIGTERM, killing", "pid", pgid, "grace", grace)
		if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return &StopError{Reason: fmt.Sprintf("kill process group %d", pgid), Err: err}
		}
		<-done
	}

	logger.Info("dependency stopped", "pid", pgid)
	return nil
}

func ensurePortFree(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return listener.Close()
}

func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	for key, value := range extra {
		env = append(env, key+"="+value)
	}
	return env
}
