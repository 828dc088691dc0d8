package gen

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/persistence"
)

// Runtime owns every local process started through it. One Runtime is
// ordinarily enough per node; remote.NewManager pairs it with a
// cluster.Node to serve remote-visible actors.
type Runtime struct {
	nodeID string
	logger beamkit.Logger
	bus    *eventBus

	mu        sync.RWMutex
	processes map[string]*process
	names     map[string]string // registered name -> process ID
}

// New creates a Runtime. nodeID tags Handles this Runtime produces so a
// cluster layer can tell local from remote handles apart (see
// beamkit.Handle.Local).
func New(nodeID string, logger beamkit.Logger) *Runtime {
	if logger == nil {
		logger = beamkit.NewNopLogger()
	}
	return &Runtime{
		nodeID:    nodeID,
		logger:    logger,
		bus:       newEventBus(logger),
		processes: make(map[string]*process),
		names:     make(map[string]string),
	}
}

// Subscribe registers handler to receive every lifecycle Event emitted
// after this call, across all processes owned by this Runtime.
func (rt *Runtime) Subscribe(handler func(Event)) *Subscription {
	return rt.bus.subscribe(handler)
}

func (rt *Runtime) lookup(h beamkit.Handle) (*process, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	p, ok := rt.processes[h.ID]
	return p, ok
}

// Resolve finds a handle by its registered name.
func (rt *Runtime) Resolve(name string) (beamkit.Handle, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	id, ok := rt.names[name]
	if !ok {
		return beamkit.Handle{}, false
	}
	p := rt.processes[id]
	return p.handle, true
}

// Start spawns behavior as a new process and blocks until Init has
// returned (success or failure), per spec §4.1 "Start is synchronous up
// to initialization".
func (rt *Runtime) Start(behavior Behavior, opts ...Option) (beamkit.Handle, error) {
	o := buildOptions(opts...)

	if o.Name != "" {
		rt.mu.RLock()
		_, taken := rt.names[o.Name]
		rt.mu.RUnlock()
		if taken {
			return beamkit.Handle{}, beamkit.New(beamkit.KindAlreadyRegistered, "gen.Start", "name already registered").WithServer(o.Name)
		}
	}

	id := uuid.NewString()
	handle := beamkit.Handle{ID: id, NodeID: rt.nodeID}

	ctx, cancel := context.WithCancel(context.Background())

	p := &process{
		handle:      handle,
		name:        o.Name,
		rt:          rt,
		behavior:    behavior,
		mailbox:     make(chan envelope, o.MailboxSize),
		st:          statusStarting,
		trapExit:    o.TrapExit,
		monitorsOut: make(map[string]*monitorRecord),
		monitorsIn:  make(map[string]*monitorRecord),
		links:       make(map[string]*linkRecord),
		timers:      make(map[string]*timerRecord),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	if o.Persistence != nil {
		mgr, err := persistence.New(*o.Persistence)
		if err != nil {
			cancel()
			return beamkit.Handle{}, err
		}
		p.persist = mgr
	}

	rt.mu.Lock()
	rt.processes[id] = p
	if o.Name != "" {
		rt.names[o.Name] = id
	}
	rt.mu.Unlock()

	started := make(chan error, 1)
	go p.loop(started, o.Args)

	if err := <-started; err != nil {
		rt.mu.Lock()
		delete(rt.processes, id)
		if o.Name != "" {
			delete(rt.names, o.Name)
		}
		rt.mu.Unlock()
		return beamkit.Handle{}, err
	}

	return handle, nil
}

// Call sends msg to handle's process and blocks for its reply, failing
// with KindCallTimeout if timeout elapses first. A zero timeout uses
// DefaultCallTimeoutMs.
func (rt *Runtime) Call(ctx context.Context, handle beamkit.Handle, msg interface{}, timeout time.Duration) (interface{}, error) {
	p, ok := rt.lookup(handle)
	if !ok || !p.isAlive() {
		return nil, beamkit.New(beamkit.KindServerNotRunning, "gen.Call", "process not running").WithServer(handle.ID)
	}
	if timeout <= 0 {
		timeout = time.Duration(DefaultCallTimeoutMs) * time.Millisecond
	}

	replyCh := make(chan callResult, 1)
	env := envelope{kind: envCall, from: handle, callID: uuid.NewString(), msg: msg, replyCh: replyCh}

	if !p.enqueue(env) {
		return nil, beamkit.New(beamkit.KindServerNotRunning, "gen.Call", "process not accepting messages").WithServer(handle.ID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-replyCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.reply, nil
	case <-timer.C:
		return nil, beamkit.New(beamkit.KindCallTimeout, "gen.Call", "call timed out").
			WithServer(handle.ID).WithTimeout(timeout.Milliseconds())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cast delivers msg asynchronously and never blocks on the callback. It
// only fails if the process is already known to be gone.
func (rt *Runtime) Cast(handle beamkit.Handle, msg interface{}) error {
	p, ok := rt.lookup(handle)
	if !ok || !p.isAlive() {
		return beamkit.New(beamkit.KindServerNotRunning, "gen.Cast", "process not running").WithServer(handle.ID)
	}
	env := envelope{kind: envCast, msg: msg}
	if !p.enqueue(env) {
		return beamkit.New(beamkit.KindServerNotRunning, "gen.Cast", "process not accepting messages").WithServer(handle.ID)
	}
	return nil
}

// SendInfo delivers msg as an out-of-band info message, bypassing
// HandleCall/HandleCast, the same channel timers and monitors use.
func (rt *Runtime) SendInfo(handle beamkit.Handle, msg interface{}) error {
	p, ok := rt.lookup(handle)
	if !ok || !p.isAlive() {
		return beamkit.New(beamkit.KindServerNotRunning, "gen.SendInfo", "process not running").WithServer(handle.ID)
	}
	p.enqueue(envelope{kind: envInfo, msg: msg})
	return nil
}

// SendAfter schedules msg for delivery to handle as an info message after
// d elapses. The returned Timer can cancel it before it fires.
func (rt *Runtime) SendAfter(handle beamkit.Handle, d time.Duration, msg interface{}) (Timer, error) {
	p, ok := rt.lookup(handle)
	if !ok || !p.isAlive() {
		return Timer{}, beamkit.New(beamkit.KindServerNotRunning, "gen.SendAfter", "process not running").WithServer(handle.ID)
	}
	return p.sendAfter(d, msg), nil
}

// Stop requests termination with reason. It enqueues ahead of pending
// mailbox content is not guaranteed; Stop takes effect once the process
// reaches the front of its own mailbox, preserving FIFO ordering with
// any message sent-before-Stop by the same caller.
func (rt *Runtime) Stop(handle beamkit.Handle, reason Reason) error {
	p, ok := rt.lookup(handle)
	if !ok {
		return beamkit.New(beamkit.KindServerNotRunning, "gen.Stop", "process not running").WithServer(handle.ID)
	}
	if !p.isAlive() {
		return nil
	}
	p.enqueue(envelope{kind: envShutdown, shutdownReason: reason})
	return nil
}

// Wait blocks until handle's process has fully terminated, or ctx is
// cancelled first.
func (rt *Runtime) Wait(ctx context.Context, handle beamkit.Handle) error {
	p, ok := rt.lookup(handle)
	if !ok {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MonitorProcess installs a one-way monitor; see Runtime.monitor.
func (rt *Runtime) MonitorProcess(watcher, target beamkit.Handle) (string, error) {
	return rt.monitor(watcher, target)
}

// Demonitor removes a monitor by id.
func (rt *Runtime) Demonitor(watcher beamkit.Handle, id string) {
	rt.demonitor(watcher, id)
}

// Link installs a symmetric link between a and b.
func (rt *Runtime) Link(a, b beamkit.Handle) error {
	return rt.link(a, b)
}

// Unlink removes the link between a and b.
func (rt *Runtime) Unlink(a, b beamkit.Handle) {
	rt.unlink(a, b)
}

// DeliverDown synthesizes a DownInfo for watcher as if a monitored
// process had just terminated with reason. Used by the remote package to
// surface a peer-hosted monitor target's death (or a noconnection
// failure on node-down) to a local watcher without a local monitorRecord
// existing for it.
func (rt *Runtime) DeliverDown(watcher beamkit.Handle, down DownInfo) {
	rt.deliverDown(watcher, down)
}

// DeliverExit synthesizes an exit signal from peer to local as if a
// linked process had just terminated with reason, respecting local's
// trapExit the same way a local link would. Used by the remote package
// for remote link propagation and node-down noconnection signals.
func (rt *Runtime) DeliverExit(local, from beamkit.Handle, reason Reason) {
	rt.propagateExit(local, from, reason, "")
}

// Checkpoint forces an immediate persisted save of handle's current state,
// failing if the process has no persistence configured.
func (rt *Runtime) Checkpoint(handle beamkit.Handle) error {
	p, ok := rt.lookup(handle)
	if !ok {
		return beamkit.New(beamkit.KindServerNotRunning, "gen.Checkpoint", "process not running").WithServer(handle.ID)
	}
	if p.persist == nil {
		return beamkit.New(beamkit.KindStorageError, "gen.Checkpoint", "persistence not configured").WithServer(handle.ID)
	}
	state := p.CurrentState()
	if bp, ok := p.behavior.(PrePersister); ok {
		toPersist, ok := bp.BeforePersist(state)
		if !ok {
			return beamkit.New(beamkit.KindStorageError, "gen.Checkpoint", "BeforePersist declined").WithServer(handle.ID)
		}
		state = toPersist
	}
	if err := p.persist.Checkpoint(state, p.handle.ID, p.name); err != nil {
		return err
	}
	rt.bus.publish(Event{Kind: EventStatePersisted, Handle: handle})
	return nil
}

// GetLastCheckpointMeta returns the metadata of handle's most recent
// persisted snapshot, if any.
func (rt *Runtime) GetLastCheckpointMeta(handle beamkit.Handle) (persistence.Metadata, bool, error) {
	p, ok := rt.lookup(handle)
	if !ok {
		return persistence.Metadata{}, false, beamkit.New(beamkit.KindServerNotRunning, "gen.GetLastCheckpointMeta", "process not running").WithServer(handle.ID)
	}
	if p.persist == nil {
		return persistence.Metadata{}, false, nil
	}
	return p.persist.LastCheckpointMeta()
}

// ClearPersistedState deletes handle's persisted snapshot without
// affecting the live in-memory state.
func (rt *Runtime) ClearPersistedState(handle beamkit.Handle) error {
	p, ok := rt.lookup(handle)
	if !ok {
		return beamkit.New(beamkit.KindServerNotRunning, "gen.ClearPersistedState", "process not running").WithServer(handle.ID)
	}
	if p.persist == nil {
		return nil
	}
	return p.persist.Clear()
}

// Snapshot returns a point-in-time Stats for every live process, used by
// the observer package.
func (rt *Runtime) Snapshot() []Stats {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]Stats, 0, len(rt.processes))
	for _, p := range rt.processes {
		if p.isAlive() {
			p.mu.Lock()
			out = append(out, p.statsLocked())
			p.mu.Unlock()
		}
	}
	return out
}

// reap removes a fully-stopped process's bookkeeping entries. Called
// internally once terminate completes.
func (rt *Runtime) reap(id string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	p, ok := rt.processes[id]
	if !ok {
		return
	}
	delete(rt.processes, id)
	if p.name != "" {
		delete(rt.names, p.name)
	}
}
