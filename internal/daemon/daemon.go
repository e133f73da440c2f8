package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forerun-dev/forerun/internal/logging"
	"github.com/forerun-dev/forerun/internal/orchestrator"
)

// LaunchFunc executes one orchestration run from a manifest path. The
// daemon injects it so this package stays independent of how runs are
// wired together.
type LaunchFunc func(ctx context.Context, manifestPath string, logger *slog.Logger) (orchestrator.Outcome, error)

// Daemon serves orchestration runs over a unix control socket. Each run
// executes in its own goroutine with a per-run cancel; stopping a run
// cancels its context, and cleanup still happens inside the run itself.
type Daemon struct {
	socketPath string
	logger     *slog.Logger
	launch     LaunchFunc

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	id       string
	manifest string
	cancel   context.CancelFunc
	done     chan struct{}

	mu         sync.Mutex
	status     string
	err        string
	startedAt  time.Time
	finishedAt time.Time
}

func New(socketPath string, launch LaunchFunc, logger *slog.Logger) *Daemon {
	socketPath = strings.TrimSpace(socketPath)
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &Daemon{
		socketPath: socketPath,
		logger:     logging.Ensure(logger).With("component", "daemon"),
		launch:     launch,
		runs:       make(map[string]*run),
	}
}

// Start listens on the control socket until ctx is cancelled, then stops
// all active runs and waits for them to finish their cleanup.
func (d *Daemon) Start(ctx context.Context) error {
	if d.launch == nil {
		return errors.New("daemon has no launch function")
	}

	if err := os.MkdirAll(filepath.Dir(d.socketPath), 0o755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(d.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.socketPath, err)
	}

	d.logger.Info("daemon listening", "socket", d.socketPath)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				d.shutdown()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go d.handleConn(ctx, conn)
	}
}

func (d *Daemon) shutdown() {
	d.mu.Lock()
	active := make([]*run, 0, len(d.runs))
	for _, r := range d.runs {
		active = append(active, r)
	}
	d.mu.Unlock()

	for _, r := range active {
		r.cancel()
	}
	for _, r := range active {
		<-r.done
	}
	d.logger.Info("daemon stopped", "runs", len(active))
}

func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var request IPCRequest
	if err := json.NewDecoder(conn).Decode(&request); err != nil {
		d.logger.Warn("malformed request", "error", err)
		_ = json.NewEncoder(conn).Encode(IPCResponse{OK: false, Error: "malformed request"})
		return
	}

	response := d.dispatch(ctx, request)
	if err := json.NewEncoder(conn).Encode(response); err != nil {
		d.logger.Warn("write response failed", "error", err)
	}
}

func (d *Daemon) dispatch(ctx context.Context, request IPCRequest) IPCResponse {
	switch request.Command {
	case CommandStart:
		return d.startRun(ctx, request.Payload)
	case CommandStop:
		return d.stopRun(request.ID)
	case CommandInspect:
		return d.inspectRun(request.ID)
	case CommandList:
		return d.listRuns()
	default:
		return IPCResponse{OK: false, Error: fmt.Sprintf("unknown command %q", request.Command)}
	}
}

func (d *Daemon) startRun(ctx context.Context, payload json.RawMessage) IPCResponse {
	var req StartRunRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return IPCResponse{OK: false, Error: fmt.Sprintf("decode start request: %v", err)}
	}
	manifestPath := strings.TrimSpace(req.ManifestPath)
	if manifestPath == "" {
		return IPCResponse{OK: false, Error: "manifest path is required"}
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:        uuid.New().String(),
		manifest:  manifestPath,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    "running",
		startedAt: time.Now().UTC(),
	}

	d.mu.Lock()
	d.runs[r.id] = r
	d.mu.Unlock()

	logger := d.logger.With("run", r.id)
	logger.Info("run started", "manifest", manifestPath)

	go func() {
		defer close(r.done)
		defer cancel()

		outcome, err := d.launch(runCtx, manifestPath, logger)

		r.mu.Lock()
		defer r.mu.Unlock()
		r.finishedAt = time.Now().UTC()
		if err != nil {
			r.status = "error"
			r.err = err.Error()
			logger.Error("run failed to launch", "error", err)
			return
		}
		r.status = string(outcome.Status)
		if outcome.Err != nil {
			r.err = outcome.Err.Error()
		}
		logger.Info("run finished", "status", outcome.Status)
	}()

	return IPCResponse{OK: true, Data: map[string]string{"id": r.id}}
}

func (d *Daemon) stopRun(id string) IPCResponse {
	d.mu.Lock()
	r, ok := d.runs[id]
	d.mu.Unlock()
	if !ok {
		return IPCResponse{OK: false, Error: fmt.Sprintf("unknown run %q", id)}
	}

	r.cancel()
	<-r.done
	return IPCResponse{OK: true}
}

func (d *Daemon) inspectRun(id string) IPCResponse {
	d.mu.Lock()
	r, ok := d.runs[id]
	d.mu.Unlock()
	if !ok {
		return IPCResponse{OK: false, Error: fmt.Sprintf("unknown run %q", id)}
	}
	return IPCResponse{OK: true, Data: r.snapshot()}
}

func (d *Daemon) listRuns() IPCResponse {
	d.mu.Lock()
	statuses := make([]RunStatus, 0, len(d.runs))
	for _, r := range d.runs {
		statuses = append(statuses, r.snapshot())
	}
	d.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].StartedAt.Before(statuses[j].StartedAt)
	})
	return IPCResponse{OK: true, Data: statuses}
}

func (r *run) snapshot() RunStatus {
	running := true
	select {
	case <-r.done:
		running = false
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return RunStatus{
		ID:         r.id,
		Manifest:   r.manifest,
		Running:    running,
		Status:     r.status,
		Error:      r.err,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
	}
}
