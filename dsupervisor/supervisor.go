package dsupervisor

import (
	"context"
	"time"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/cluster"
	"github.com/nodecrew/beamkit/gen"
	"github.com/nodecrew/beamkit/globalreg"
	"github.com/nodecrew/beamkit/remote"
	"github.com/nodecrew/beamkit/supervisor"
)

const defaultSpawnTimeout = 10 * time.Second

// ChildSpec describes one child placed somewhere in the cluster, per
// spec.md §4.8. Behavior names a factory the target node's catalog must
// have registered (remote.Catalog.Register) — args and behaviors cross
// the wire, not closures.
type ChildSpec struct {
	ID           string
	Behavior     string
	Args         []interface{}
	Name         string
	RegisterKind string // "", "local", "global"
	Restart      supervisor.RestartPolicy
	Significant  bool

	// Selector overrides Options.DefaultSelector for this child only.
	Selector *NodeSelector
}

// Options configures a DistributedSupervisor, mirroring spec.md §4.8/§6.
type Options struct {
	Name            string
	Strategy        supervisor.Strategy
	Intensity       supervisor.IntensityConfig
	Children        []ChildSpec
	DefaultSelector NodeSelector
	SpawnTimeout    time.Duration

	// Registry, when non-nil, is consulted for any child whose
	// RegisterKind is "global".
	Registry *globalreg.Registry

	// OnMigration, when non-nil, is invoked synchronously from the
	// supervisor's own mailbox loop after a child is successfully
	// re-placed following a node-down, per spec.md §4.8's
	// "emitting child_migrated { fromNode, toNode }".
	OnMigration func(MigrationEvent)
}

// ChildInfo is a read-only snapshot of one placed child, per spec.md
// §4.8 step 3: "{ childId, ref, nodeId, restartCount, startedAt }".
type ChildInfo struct {
	ID           string
	Handle       beamkit.Handle
	NodeID       string
	Alive        bool
	RestartCount int
	StartedAt    time.Time
}

type childRecord struct {
	spec         ChildSpec
	handle       beamkit.Handle
	nodeID       cluster.NodeID
	monitorID    string
	restartCount int
	startedAt    time.Time
	alive        bool
	claimed      bool // not set by any code path; migration runs wholly on the mailbox loop
}

// msgBootstrap/msgNodeDown/msgListChildren are funneled through the
// supervisor's own mailbox (HandleCall/HandleInfo) so every mutation of
// runner state happens on the single-threaded dispatch loop, the same
// invariant supervisor.runner relies on.
type msgBootstrap struct{}
type msgNodeDown struct{ node cluster.NodeID }
type msgListChildren struct{}
type msgStartChild struct{ spec ChildSpec }
type msgTerminateChild struct{ id string }

// runner is the gen.Behavior backing a DistributedSupervisor.
type runner struct {
	rt      *gen.Runtime
	node    *cluster.Node
	manager *remote.Manager
	opts    Options
	self    beamkit.Handle
	logger  beamkit.Logger

	limiter  *supervisor.IntensityLimiter
	selector *selectorState

	order     []string
	children  map[string]*childRecord
	byMonitor map[string]string

	unsubscribeNodeEvents func()
}

// DistributedSupervisor is the public handle to a running distributed
// supervision tree node.
type DistributedSupervisor struct {
	rt     *gen.Runtime
	Handle beamkit.Handle
}

// Start spawns the distributed supervisor process and places its static
// children, returning once placement has fully succeeded or failed.
func Start(rt *gen.Runtime, node *cluster.Node, manager *remote.Manager, opts Options) (*DistributedSupervisor, error) {
	if opts.SpawnTimeout <= 0 {
		opts.SpawnTimeout = defaultSpawnTimeout
	}

	r := &runner{
		rt:        rt,
		node:      node,
		manager:   manager,
		opts:      opts,
		logger:    beamkit.NewNopLogger(),
		limiter:   supervisor.NewIntensityLimiter(opts.Intensity),
		selector:  newSelectorState(node.LocalNodeID()),
		children:  make(map[string]*childRecord),
		byMonitor: make(map[string]string),
	}

	genOpts := []gen.Option{}
	if opts.Name != "" {
		genOpts = append(genOpts, gen.WithName(opts.Name))
	}
	h, err := rt.Start(r, genOpts...)
	if err != nil {
		return nil, err
	}
	r.self = h

	unsub := node.Subscribe(func(ev cluster.Event) {
		if ev.Kind == cluster.EventNodeDown {
			_ = rt.SendInfo(h, msgNodeDown{node: ev.Node})
		}
	})
	r.unsubscribeNodeEvents = unsub

	if _, err := rt.Call(context.Background(), h, msgBootstrap{}, opts.SpawnTimeout); err != nil {
		return nil, err
	}

	return &DistributedSupervisor{rt: rt, Handle: h}, nil
}

// StartChild places a new child at runtime.
func (s *DistributedSupervisor) StartChild(spec ChildSpec) error {
	return callAsError(s.rt.Call(context.Background(), s.Handle, msgStartChild{spec: spec}, defaultSpawnTimeout))
}

// TerminateChild stops and removes a child by id.
func (s *DistributedSupervisor) TerminateChild(id string) error {
	return callAsError(s.rt.Call(context.Background(), s.Handle, msgTerminateChild{id: id}, defaultSpawnTimeout))
}

// callAsError unwraps a gen.Call reply that the runner's own HandleCall
// returns as an error value with gen.StatusOK rather than as a failed
// Call itself (e.g. NoAvailableNode, ChildNotFound) — rt.Call only fails
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
func (s *DistributedSupervisor) Children() ([]ChildInfo, error) {
	reply, err := s.rt.Call(context.Background(), s.Handle, msgListChildren{}, defaultSpawnTimeout)
	if err != nil {
		return nil, err
	}
	return reply.([]ChildInfo), nil
}

// Stop terminates the distributed supervisor process. Every still-tracked
// child is demonitored and sent a best-effort ShutdownSignal cast; unlike
// the in-process Supervisor.Stop, there is no forced-kill guarantee — the
// wire protocol has no remote-stop primitive, so a child's actual exit
// depends on its own behavior cooperating with ShutdownSignal.
func (s *DistributedSupervisor) Stop() error {
	return s.rt.Stop(s.Handle, gen.ReasonShutdown)
}
