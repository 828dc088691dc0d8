package supervisor

import (
	"time"

	"github.com/nodecrew/beamkit/gen"
)

// RestartPolicy controls whether a child is restarted after it terminates,
// per spec.md §4.2 "Restart policy per child".
type RestartPolicy int

const (
	// Permanent children are always restarted.
	Permanent RestartPolicy = iota
	// Transient children are restarted only on an abnormal exit reason.
	Transient
	// Temporary children are never restarted.
	Temporary
)

// Factory constructs a fresh Behavior instance for (re)starting a child.
// Supervisors never reuse a terminated Behavior value — OTP semantics
// require a brand-new process each restart.
type Factory func(args ...interface{}) gen.Behavior

// ChildSpec describes one statically-declared child (one_for_one,
// one_for_all, rest_for_one) or the homogeneous template for
// simple_one_for_one.
type ChildSpec struct {
	// ID identifies the child for StartChild/TerminateChild/RestartChild.
	// Required for static children; ignored for the simple_one_for_one
	// template (each dynamic instance gets a generated id).
	ID string

	Factory Factory
	Args    []interface{}

	Restart RestartPolicy

	// Significant marks this child as relevant to AutoShutdown policies
	// any_significant/all_significant.
	Significant bool

	// ShutdownTimeout overrides the supervisor default for this child.
	ShutdownTimeout time.Duration

	// GenOptions are passed through to gen.Runtime.Start for this child
	// (name registration, persistence, trapExit, mailbox size).
	GenOptions []gen.Option
}
