package dsupervisor

import (
	"context"
	"time"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/cluster"
	"github.com/nodecrew/beamkit/gen"
	"github.com/nodecrew/beamkit/remote"
)

// ShutdownSignal is cast to a remote child on TerminateChild, on supervisor
// shutdown, and to a sibling stopped by a one_for_all/rest_for_one restart.
// The wire protocol has no dedicated "stop remote process" message kind
// (spec.md §6's message-kind list is request/reply pairs for call, cast,
// spawn, monitor and link only), so graceful remote termination is a
// convention layered on the existing Cast primitive: a child behavior
// that wants to be remotely stoppable checks for ShutdownSignal in
// HandleCast and returns gen.StatusStop. Behaviors that don't keep
// running — the supervisor stops monitoring and tracking them either
// way, they are simply not told to exit.
type ShutdownSignal struct{ Reason string }

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
		err := r.placeChild(m.spec)
		return err, state, gen.StatusOK

	case msgTerminateChild:
		err := r.terminateChildByID(m.id)
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
	switch m := msg.(type) {
	case gen.DownInfo:
		if status := r.onChildDown(m); status != gen.StatusOK {
			return state, status
		}
	case msgNodeDown:
		r.onNodeDown(m.node)
	}
	return state, gen.StatusOK
}

func (r *runner) Terminate(state interface{}, reason error) {
	if r.unsubscribeNodeEvents != nil {
		r.unsubscribeNodeEvents()
	}
	for _, id := range r.order {
		if cr, ok := r.children[id]; ok && cr.alive {
			r.terminateRemote(cr)
		}
	}
}

func (r *runner) bootstrap() error {
	for _, spec := range r.opts.Children {
		if err := r.placeChild(spec); err != nil {
			return err
		}
	}
	return nil
}

// placeChild selects a node, issues a RemoteSpawn, and monitors the
// result, per spec.md §4.8 steps 1-3.
func (r *runner) placeChild(spec ChildSpec) error {
	if _, exists := r.children[spec.ID]; exists {
		return beamkit.New(beamkit.KindDuplicateChild, "dsupervisor.StartChild", "child id already started").WithServer(spec.ID)
	}

	sel := r.opts.DefaultSelector
	if spec.Selector != nil {
		sel = *spec.Selector
	}

	node, err := r.selector.pick(sel, r.node, nil)
	if err != nil {
		return err
	}

	cr, err := r.spawnOn(spec, node)
	if err != nil {
		return err
	}

	r.children[spec.ID] = cr
	r.order = append(r.order, spec.ID)
	r.selector.recordPlacement(node)
	return nil
}

// spawnOn issues the RemoteSpawn + registration + monitor sequence for
// spec on node, without touching runner state — callers install the
// resulting *childRecord themselves so this can also serve migration.
func (r *runner) spawnOn(spec ChildSpec, node cluster.NodeID) (*childRecord, error) {
	spawnCtx, spawnCancel := context.WithTimeout(context.Background(), r.opts.SpawnTimeout)
	defer spawnCancel()

	result, err := r.manager.Spawn(spawnCtx, node, spec.Behavior, spec.Args, remote.SpawnOptions{
		Name:         spec.Name,
		RegisterKind: spec.RegisterKind,
		Timeout:      r.opts.SpawnTimeout,
	})
	if err != nil {
		kind, ok := beamkit.KindOf(err)
		if !ok {
			kind = beamkit.KindDistributedBehaviorNotFnd
		}
		return nil, beamkit.Wrap(kind, "dsupervisor.StartChild", err).WithServer(spec.ID).WithNode(node.String())
	}

	if spec.RegisterKind == "global" && spec.Name != "" && r.opts.Registry != nil {
		if err := r.opts.Registry.Register(spec.Name, result.Handle); err != nil {
			r.logger.Warnw("dsupervisor: global registration failed", "child", spec.ID, "error", err)
		}
	}

	monitorCtx, monitorCancel := context.WithTimeout(context.Background(), r.opts.SpawnTimeout)
	defer monitorCancel()
	monitorID, err := r.manager.Monitor(monitorCtx, node, r.self, result.Handle)
	if err != nil {
		return nil, beamkit.Wrap(beamkit.KindRemoteMonitorTimeout, "dsupervisor.StartChild", err).WithServer(spec.ID).WithNode(node.String())
	}

	return &childRecord{
		spec: spec, handle: result.Handle, nodeID: node,
		monitorID: monitorID, alive: true, startedAt: time.Now(),
	}, nil
}

func (r *runner) terminateChildByID(id string) error {
	cr, ok := r.children[id]
	if !ok {
		return beamkit.New(beamkit.KindChildNotFound, "dsupervisor.TerminateChild", "child not found").WithServer(id)
	}
	r.terminateRemote(cr)
	r.removeFromOrder(id)
	delete(r.children, id)
	return nil
}

func (r *runner) terminateRemote(cr *childRecord) {
	if !cr.alive {
		return
	}
	r.manager.Demonitor(cr.nodeID, cr.monitorID)
	delete(r.byMonitor, cr.monitorID)
	cr.alive = false
	r.selector.recordRemoval(cr.nodeID)
	_ = r.manager.Cast(cr.nodeID, cr.handle.ID, ShutdownSignal{Reason: "supervisor_terminate"})
}

func (r *runner) removeFromOrder(id string) {
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *runner) snapshot() []ChildInfo {
	out := make([]ChildInfo, 0, len(r.order))
	for _, id := range r.order {
		cr := r.children[id]
		out = append(out, ChildInfo{
			ID: id, Handle: cr.handle, NodeID: cr.nodeID.String(),
			Alive: cr.alive, RestartCount: cr.restartCount, StartedAt: cr.startedAt,
		})
	}
	return out
}
