package daemon

import (
	"encoding/json"
	"time"
)

// Command names an IPC operation.
type Command string

const (
	CommandStart   Command = "start"
	CommandStop    Command = "stop"
	CommandList    Command = "list"
	CommandInspect Command = "inspect"
)

// IPCRequest is one newline-delimited JSON request on the control socket.
type IPCRequest struct {
	Command Command         `json:"command"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IPCResponse is the reply to an IPCRequest.
type IPCResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// StartRunRequest asks the daemon to begin an orchestration run.
type StartRunRequest struct {
	ManifestPath string `json:"manifest_path"`
}

// RunStatus summarizes one run managed by the daemon.
type RunStatus struct {
	ID         string    `json:"id"`
	Manifest   string    `json:"manifest"`
	Running    bool      `json:"running"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}
