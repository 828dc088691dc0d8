package supervisor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/gen"
)

type msgBootstrap struct{}
type msgStartChild struct{ spec ChildSpec }
type msgTerminateChild struct{ id string }
type msgRestartChild struct{ id string }
type msgListChildren struct{}

type childState struct {
	spec      ChildSpec
	handle    beamkit.Handle
	monitorID string
	alive     bool
	started   time.Time
}

// runner is the gen.Behavior backing a Supervisor. All its fields are
// touched only from within the process's own dispatch loop, so — unlike
// registry.Registry or gen.Runtime — it needs no internal locking: the
// gen mailbox already serializes every access.
type runner struct {
	rt     *gen.Runtime
	opts   Options
	self   beamkit.Handle
	logger beamkit.Logger

	limiter *IntensityLimiter

	order     []string // child ids in start order
	children  map[string]*childState
	byMonitor map[string]string // monitorID -> childID
	dynSeq    int
}

func newRunner(rt *gen.Runtime, opts Options) *runner {
	return &runner{
		rt:        rt,
		opts:      opts,
		logger:    beamkit.NewNopLogger(),
		limiter:   newIntensityLimiter(opts.Intensity),
		children:  make(map[string]*childState),
		byMonitor: make(map[string]string),
	}
}

func (r *runner) Init(args ...interface{}) (interface{}, error) {
	return nil, nil
}

func (r *runner) HandleCall(state interface{}, from gen.From, msg interface{}) (interface{}, interface{}, gen.Status) {
	switch m := msg.(type) {
	case msgBootstrap:
		if err := r.bootstrap(); err != nil {
			return err, state, gen.StatusStopWithReason(err.Error())
		}
		return nil, state, gen.StatusOK

	case msgStartChild:
		err := r.startDeclaredChild(m.spec)
		return err, state, gen.StatusOK

	case msgTerminateChild:
		err := r.terminateChildByID(m.id, gen.ReasonShutdown)
		return err, state, gen.StatusOK

	case msgRestartChild:
		err := r.restartChildByID(m.id)
		return err, state, gen.StatusOK

	case msgListChildren:
		return r.snapshot(), state, gen.StatusOK
	}
	return nil, state, gen.StatusIgnore
}

func (r *runner) HandleCast(state interface{}, msg interface{}) (interface{}, gen.Status) {
	return state, gen.StatusOK
}

func (r *runner) HandleInfo(state interface{}, msg interface{}) (interface{}, gen.Status) {
	down, ok := msg.(gen.DownInfo)
	if !ok {
		return state, gen.StatusOK
	}
	if status := r.onChildDown(down); status != gen.StatusOK {
		return state, status
	}
	return state, gen.StatusOK
}

// Terminate stops every still-alive child in reverse start order before
// the supervisor process itself finishes terminating, per spec.md §4.2
// "Shutdown".
func (r *runner) Terminate(state interface{}, reason error) {
	r.terminateAll(r.order, gen.ReasonShutdown)
}

func (r *runner) bootstrap() error {
	if r.opts.Strategy == SimpleOneForOne {
		return nil // no static children to start
	}
	for i, spec := range r.opts.Children {
		if err := r.startDeclaredChild(spec); err != nil {
			// Roll back already-started siblings in reverse order.
			started := make([]string, 0, i)
			for _, id := range r.order {
				started = append(started, id)
			}
			r.terminateAll(started, gen.ReasonShutdown)
			return err
		}
	}
	return nil
}

func (r *runner) startDeclaredChild(spec ChildSpec) error {
	id := spec.ID
	if r.opts.Strategy == SimpleOneForOne {
		r.dynSeq++
		id = fmt.Sprintf("%s-%d", dynamicIDPrefix, r.dynSeq)
		if spec.Factory == nil {
			spec.Factory = r.opts.ChildTemplate.Factory
		}
		if spec.Args == nil {
			spec.Args = r.opts.ChildTemplate.Args
		}
		if spec.Restart == 0 && r.opts.ChildTemplate.Restart != 0 {
			spec.Restart = r.opts.ChildTemplate.Restart
		}
	} else if _, exists := r.children[id]; exists {
		return beamkit.New(beamkit.KindDuplicateChild, "supervisor.StartChild", "child id already started").WithServer(id)
	}

	h, err := r.rt.Start(spec.Factory(spec.Args...), spec.GenOptions...)
	if err != nil {
		return err
	}

	monitorID, err := r.rt.MonitorProcess(r.self, h)
	if err != nil {
		_ = r.rt.Stop(h, gen.ReasonKill)
		return err
	}

	cs := &childState{spec: spec, handle: h, monitorID: monitorID, alive: true, started: time.Now()}
	r.children[id] = cs
	r.byMonitor[monitorID] = id
	r.order = append(r.order, id)
	return nil
}

const dynamicIDPrefix = "child"

func (r *runner) terminateChildByID(id string, reason gen.Reason) error {
	cs, ok := r.children[id]
	if !ok {
		return beamkit.New(beamkit.KindChildNotFound, "supervisor.TerminateChild", "child not found").WithServer(id)
	}
	r.stopAndReap(cs, reason)
	r.removeFromOrder(id)
	delete(r.children, id)
	return nil
}

func (r *runner) restartChildByID(id string) error {
	cs, ok := r.children[id]
	if !ok {
		return beamkit.New(beamkit.KindChildNotFound, "supervisor.RestartChild", "child not found").WithServer(id)
	}
	if cs.alive {
		r.stopAndReap(cs, gen.ReasonShutdown)
	}
	return r.relaunch(id)
}

// stopAndReap demonitors (so the supervisor doesn't receive a redundant
// DownInfo for a termination it itself requested), stops, then blocks
// until the child fully exits or its shutdown timeout elapses.
func (r *runner) stopAndReap(cs *childState, reason gen.Reason) {
	if !r.signalStop(cs, reason) {
		return
	}
	r.waitStopped(cs)
}

// signalStop performs the bookkeeping and stop signal for cs, all of
// which touches runner-owned state and so must run on the dispatch
// loop. It reports whether a wait is actually needed.
func (r *runner) signalStop(cs *childState, reason gen.Reason) bool {
	if !cs.alive {
		return false
	}
	r.rt.Demonitor(r.self, cs.monitorID)
	delete(r.byMonitor, cs.monitorID)
	cs.alive = false
	_ = r.rt.Stop(cs.handle, reason)
	return true
}

// waitStopped blocks until cs's process fully exits or its shutdown
// timeout elapses. It touches only gen.Runtime's own per-handle
// bookkeeping, never runner state, so terminateAll can run it
// concurrently across children once every signalStop call has already
// been issued in the required order.
func (r *runner) waitStopped(cs *childState) {
	timeout := r.opts.ShutdownTimeout
	if cs.spec.ShutdownTimeout > 0 {
		timeout = cs.spec.ShutdownTimeout
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = r.rt.Wait(ctx, cs.handle)
}

// terminateAll stops every id in reverse declared order — per spec.md
// §4.2, later children may depend on earlier ones, so the stop signal
// itself must go out in that order — but then waits for all of them to
// actually exit concurrently, since once every signal has been sent the
// remaining work is purely waiting on independent per-process teardown.
func (r *runner) terminateAll(ids []string, reason gen.Reason) {
	var toWait []*childState
	for i := len(ids) - 1; i >= 0; i-- {
		cs, ok := r.children[ids[i]]
		if !ok {
			continue
		}
		if r.signalStop(cs, reason) {
			toWait = append(toWait, cs)
		}
	}
	if len(toWait) == 0 {
		return
	}

	var g errgroup.Group
	for _, cs := range toWait {
		cs := cs
		g.Go(func() error {
			r.waitStopped(cs)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *runner) removeFromOrder(id string) {
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *runner) relaunch(id string) error {
	cs := r.children[id]
	h, err := r.rt.Start(cs.spec.Factory(cs.spec.Args...), cs.spec.GenOptions...)
	if err != nil {
		return err
	}
	monitorID, err := r.rt.MonitorProcess(r.self, h)
	if err != nil {
		_ = r.rt.Stop(h, gen.ReasonKill)
		return err
	}
	cs.handle = h
	cs.monitorID = monitorID
	cs.alive = true
	cs.started = time.Now()
	r.byMonitor[monitorID] = id
	return nil
}

func (r *runner) shouldRestart(spec ChildSpec, reason gen.Reason) bool {
	switch spec.Restart {
	case Temporary:
		return false
	case Transient:
		return reason.Abnormal()
	default: // Permanent
		return true
	}
}

// onChildDown applies the supervisor's strategy to a crashed/exited child.
// Returns a non-OK Status when an auto-shutdown condition is met or the
// restart-intensity budget has been exhausted; in either case the
// supervisor itself terminates.
func (r *runner) onChildDown(down gen.DownInfo) gen.Status {
	id, ok := r.byMonitor[down.MonitorID]
	if !ok {
		return gen.StatusOK // not one of ours (already reaped)
	}
	cs := r.children[id]
	delete(r.byMonitor, down.MonitorID)
	cs.alive = false

	if r.checkAutoShutdown(id) {
		return gen.StatusStopWithReason("auto_shutdown")
	}

	if !r.shouldRestart(cs.spec, down.Reason) {
		return gen.StatusOK
	}

	affected := r.affectedSiblings(id)

	if !r.limiter.Allow(time.Now()) {
		return gen.StatusStopWithReason(beamkit.New(beamkit.KindMaxRestartsExceeded, "supervisor", "restart intensity exceeded").WithServer(r.self.ID).Error())
	}

	// Terminate the other affected siblings (already-dead failed child is
	// skipped: it's not "alive" so stopAndReap is a no-op for it).
	for _, sibID := range affected {
		if sibID == id {
			continue
		}
		if sib, ok := r.children[sibID]; ok && sib.alive {
			r.stopAndReap(sib, gen.ReasonShutdown)
		}
	}

	for _, sibID := range affected {
		sib, ok := r.children[sibID]
		if !ok {
			continue
		}
		if sib.spec.Restart == Temporary {
			continue
		}
		if err := r.relaunch(sibID); err != nil {
			r.logger.Warnw("supervisor: restart failed", "child", sibID, "error", err)
		}
	}

	return gen.StatusOK
}

// affectedSiblings returns, in start order, the ids that must be
// terminated+restarted alongside failedID under the configured strategy.
func (r *runner) affectedSiblings(failedID string) []string {
	switch r.opts.Strategy {
	case OneForAll:
		out := make([]string, len(r.order))
		copy(out, r.order)
		// include the failed child even though it's no longer in r.order's
		// "alive" set — it still needs relaunch.
		return appendIfMissing(out, failedID)
	case RestForOne:
		var out []string
		found := false
		for _, id := range r.order {
			if id == failedID {
				found = true
			}
			if found {
				out = append(out, id)
			}
		}
		return appendIfMissing(out, failedID)
	default: // OneForOne, SimpleOneForOne
		return []string{failedID}
	}
}

func appendIfMissing(ids []string, id string) []string {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

func (r *runner) checkAutoShutdown(justDiedID string) bool {
	switch r.opts.AutoShutdown {
	case AutoShutdownAnySignificant:
		if cs, ok := r.children[justDiedID]; ok && cs.spec.Significant {
			return true
		}
	case AutoShutdownAllSignificant:
		anySignificant := false
		for _, cs := range r.children {
			if cs.spec.Significant {
				anySignificant = true
				if cs.alive {
					return false
				}
			}
		}
		return anySignificant
	}
	return false
}

func (r *runner) snapshot() []ChildInfo {
	out := make([]ChildInfo, 0, len(r.order))
	for _, id := range r.order {
		cs := r.children[id]
		out = append(out, ChildInfo{ID: id, Handle: cs.handle, Alive: cs.alive, Restart: cs.spec.Restart})
	}
	return out
}

