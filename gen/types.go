// Package gen implements the GenServer process model: mailbox semantics,
// call/cast/info dispatch, monitors, links, lifecycle events and timers.
// Each process runs on its own goroutine and handles one message at a time.
package gen

import (
	"errors"
	"fmt"

	"github.com/nodecrew/beamkit"
)

// Status is the outcome a behavior callback returns. A nil Status means
// "continue running"; StatusStop means "terminate normally"; any other
// non-nil value is treated as an abnormal crash carrying that reason,
// mirroring the teacher-adjacent gen.ServerStatus idiom.
type Status error

var (
	// StatusOK continues running with the returned state.
	StatusOK Status
	// StatusStop terminates the process with reason "normal".
	StatusStop Status = errors.New("normal")
	// StatusIgnore from HandleCall keeps the old state and sends no reply
	// (the caller's Call then times out, matching the teacher's
	// ServerStatusIgnore). HandleCast and HandleInfo treat it like
	// StatusOK and keep the returned state.
	StatusIgnore Status = errors.New("ignore")
)

// StatusStopWithReason terminates the process with a custom reason string,
// surfaced to monitors/links/terminate as Reason{Kind: "error"}.
func StatusStopWithReason(reason string) Status {
	return fmt.Errorf("%s", reason)
}

// From identifies the caller of a synchronous Call, passed to HandleCall so
// a behavior may choose to reply later (not modeled here: replies are
// always synchronous from HandleCall's return value, per spec).
type From struct {
	Handle beamkit.Handle
	CallID string
}

// Behavior is the vtable every GenServer must implement.
type Behavior interface {
	// Init is invoked once at start. Returning an error aborts the start;
	// the caller of Start never receives a handle and sees
	// InitializationError.
	Init(args ...interface{}) (state interface{}, err error)

	// HandleCall serves a synchronous request. The returned reply is sent
	// to the caller unless status is StatusIgnore (no reply at all, the
	// caller times out) or a crash (the caller gets a ServerNotRunning
	// error at once, before the process runs its termination).
	HandleCall(state interface{}, from From, msg interface{}) (reply interface{}, newState interface{}, status Status)

	// HandleCast serves a fire-and-forget request.
	HandleCast(state interface{}, msg interface{}) (newState interface{}, status Status)
}

// InfoHandler is an optional Behavior extension for info messages (timer
// fires, exit signals delivered under trapExit, anything sent with SendInfo
// outside the call/cast envelope).
type InfoHandler interface {
	HandleInfo(state interface{}, msg interface{}) (newState interface{}, status Status)
}

// Terminator is an optional Behavior extension invoked once while the
// process is in the `terminating` state, before monitors/links are
// notified.
type Terminator interface {
	Terminate(state interface{}, reason error)
}

// StateRestorer is an optional Behavior extension consulted after
// persisted state is loaded (and possibly migrated) but before it becomes
// the process's initial state.
type StateRestorer interface {
	OnStateRestore(restored interface{}) interface{}
}

// PrePersister is an optional Behavior extension consulted before a
// manual Checkpoint and before the shutdown checkpoint. Returning ok=false
// skips the save (Checkpoint returns an error; the shutdown checkpoint is
// skipped silently). Periodic snapshots save the current state without
// consulting it.
type PrePersister interface {
	BeforePersist(state interface{}) (toPersist interface{}, ok bool)
}

// Reason values classify why a process terminated / why a monitor fired.
type Reason struct {
	Kind    string // "normal", "shutdown", "error", "noproc", "noconnection", "kill"
	Message string
}

func (r Reason) Error() string {
	if r.Message == "" {
		return r.Kind
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

// Abnormal reports whether r is anything other than normal/shutdown exit,
// the distinction spec §4.2 uses for `transient` restart policy.
func (r Reason) Abnormal() bool {
	return r.Kind != "normal" && r.Kind != "shutdown"
}

var (
	ReasonNormal       = Reason{Kind: "normal"}
	ReasonShutdown     = Reason{Kind: "shutdown"}
	ReasonNoproc       = Reason{Kind: "noproc"}
	ReasonNoconnection = Reason{Kind: "noconnection"}
	ReasonKill         = Reason{Kind: "kill"}
)

func ReasonError(message string) Reason {
	return Reason{Kind: "error", Message: message}
}

// reasonFromStatus converts a callback Status into a termination Reason.
func reasonFromStatus(s Status) Reason {
	switch s {
	case StatusStop:
		return ReasonNormal
	default:
		return ReasonError(s.Error())
	}
}

// ExitSignal is delivered as an info message to a process with
// trapExit=true when a linked peer terminates abnormally, or when node
// disconnection synthesizes a noconnection exit for a remote peer.
type ExitSignal struct {
	From   beamkit.Handle
	Reason Reason
}

// DownInfo is delivered via the lifecycle ProcessDown event, and also
// enqueued as an info message to the watcher when the watcher is itself a
// live local process, so a GenServer can react to it from HandleInfo
// without needing a separate lifecycle subscription.
type DownInfo struct {
	MonitorID    string
	MonitoredRef beamkit.Handle
	Reason       Reason
}
