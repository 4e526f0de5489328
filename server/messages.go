package server

import (
	"encoding/json"
	"time"

	"github.com/chazu/wang/store"
	"github.com/chazu/wang/vm"
)

// ---------------------------------------------------------------------------
// Request and response messages of the execution service
// ---------------------------------------------------------------------------

type CreateSessionRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type DestroySessionRequest struct {
	SessionID string `json:"sessionId"`
}

type DestroySessionResponse struct{}

type ListSessionsRequest struct{}

type SessionInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Phase      vm.Phase  `json:"phase"`
	Created    time.Time `json:"created"`
	LastUsed   time.Time `json:"lastUsed"`
	Operations int64     `json:"operations"`
}

type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// StartRequest runs a program document (JSON or YAML) in a session. A
// missing session id creates a new session.
type StartRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Program   string `json:"program"`
	Path      string `json:"path,omitempty"`
	// PauseAfter requests a pause once this many more operations have run.
	PauseAfter int64 `json:"pauseAfter,omitempty"`
	// Wait blocks the call until the run pauses, completes or fails.
	Wait bool `json:"wait,omitempty"`
}

// ControlRequest addresses a session for Pause, Resume, Abort, Wait and
// State.
type ControlRequest struct {
	SessionID  string `json:"sessionId"`
	PauseAfter int64  `json:"pauseAfter,omitempty"`
	Wait       bool   `json:"wait,omitempty"`
}

// StateResponse describes a session's interpreter.
type StateResponse struct {
	SessionID  string       `json:"sessionId"`
	Phase      vm.Phase     `json:"phase"`
	Node       *vm.NodeInfo `json:"node,omitempty"`
	CallStack  []string     `json:"callStack,omitempty"`
	Result     any          `json:"result,omitempty"`
	Display    string       `json:"display,omitempty"`
	Error      string       `json:"error,omitempty"`
	ErrorKind  string       `json:"errorKind,omitempty"`
	Operations int64        `json:"operations"`
}

type SnapshotRequest struct {
	SessionID string `json:"sessionId"`
	// SnapshotID replaces a stored snapshot; empty stores a new one.
	SnapshotID string `json:"snapshotId,omitempty"`
	Label      string `json:"label,omitempty"`
}

type SnapshotResponse struct {
	Snapshot store.Record `json:"snapshot"`
}

// RestoreRequest loads a stored snapshot into a new session. The id may be
// a unique prefix.
type RestoreRequest struct {
	SnapshotID string `json:"snapshotId"`
	Name       string `json:"name,omitempty"`
}

type ListSnapshotsRequest struct{}

type ListSnapshotsResponse struct {
	Snapshots []store.Record `json:"snapshots"`
}

type DeleteSnapshotRequest struct {
	SnapshotID string `json:"snapshotId"`
}

type DeleteSnapshotResponse struct{}

// exportResult converts a script value into plain JSON data. Values JSON
// cannot carry, such as NaN, are reported by display string only.
func exportResult(v vm.Value) any {
	x := vm.Export(v)
	if _, err := json.Marshal(x); err != nil {
		return nil
	}
	return x
}
