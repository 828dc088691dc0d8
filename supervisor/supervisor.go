// Package supervisor implements the one_for_one / one_for_all /
// rest_for_one / simple_one_for_one restart strategies on top of gen.
// A Supervisor is itself a gen.Behavior running on the same Runtime as its
// children, so child bookkeeping is serialized through the ordinary
// mailbox loop instead of a bespoke lock — the same idiom
// rutaka-n-ergonode/supervisor.go uses by making Supervisor a
// ProcessBehavior.
package supervisor

import (
	"context"
	"time"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/gen"
)

const bootstrapTimeout = 10 * time.Second

// Supervisor is the public handle to a running supervision tree node.
type Supervisor struct {
	rt     *gen.Runtime
	Handle beamkit.Handle
}

// Start validates opts and spawns the supervisor and its static children
// (if any), returning once startup has fully succeeded or failed.
func Start(rt *gen.Runtime, opts Options) (*Supervisor, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}

	r := newRunner(rt, opts)
	genOpts := []gen.Option{gen.WithTrapExit(true)}
	if opts.Name != "" {
		genOpts = append(genOpts, gen.WithName(opts.Name))
	}

	h, err := rt.Start(r, genOpts...)
	if err != nil {
		return nil, err
	}
	r.self = h

	if _, err := rt.Call(context.Background(), h, msgBootstrap{}, bootstrapTimeout); err != nil {
		return nil, err
	}

	return &Supervisor{rt: rt, Handle: h}, nil
}

func validate(opts Options) error {
	if opts.Strategy == SimpleOneForOne {
		if opts.ChildTemplate == nil {
			return beamkit.New(beamkit.KindInvalidSimpleOneForOne, "supervisor.Start", "simple_one_for_one requires a ChildTemplate")
		}
		if len(opts.Children) > 0 {
			return beamkit.New(beamkit.KindInvalidSimpleOneForOne, "supervisor.Start", "simple_one_for_one forbids static Children")
		}
	} else if opts.ChildTemplate != nil {
		return beamkit.New(beamkit.KindInvalidSimpleOneForOne, "supervisor.Start", "ChildTemplate is only valid with simple_one_for_one")
	}
	return nil
}

// StartChild adds a new child at runtime. Valid for all strategies; for
// SimpleOneForOne, id is ignored and spec's Factory/Args come from the
// supervisor's ChildTemplate (args passed here override the template's).
func (s *Supervisor) StartChild(spec ChildSpec) error {
	return callAsError(s.rt.Call(context.Background(), s.Handle, msgStartChild{spec: spec}, bootstrapTimeout))
}

// TerminateChild stops and removes a statically or dynamically added
// child by id.
func (s *Supervisor) TerminateChild(id string) error {
	return callAsError(s.rt.Call(context.Background(), s.Handle, msgTerminateChild{id: id}, bootstrapTimeout))
}

// RestartChild force-restarts a child outside the normal crash path.
func (s *Supervisor) RestartChild(id string) error {
	return callAsError(s.rt.Call(context.Background(), s.Handle, msgRestartChild{id: id}, bootstrapTimeout))
}

// callAsError unwraps a gen.Call reply that the runner's own HandleCall
// returns as an error value with gen.StatusOK rather than as a failed
// Call itself (e.g. DuplicateChild, ChildNotFound) — rt.Call only fails
// the call on a timeout or a crashed/missing server, never on a reply
// the behavior chose to send back as data.
func callAsError(reply interface{}, err error) error {
	if err != nil {
		return err
	}
	if e, ok := reply.(error); ok {
		return e
	}
	return nil
}

// Children returns a snapshot of every currently-tracked child.
func (s *Supervisor) Children() ([]ChildInfo, error) {
	reply, err := s.rt.Call(context.Background(), s.Handle, msgListChildren{}, bootstrapTimeout)
	if err != nil {
		return nil, err
	}
	return reply.([]ChildInfo), nil
}

// Stop terminates the supervisor; its Terminate callback then stops every
// child it started, in reverse start order.
func (s *Supervisor) Stop() error {
	return s.rt.Stop(s.Handle, gen.ReasonShutdown)
}

// ChildInfo is a read-only snapshot of one child's current state.
type ChildInfo struct {
	ID      string
	Handle  beamkit.Handle
	Alive   bool
	Restart RestartPolicy
}
