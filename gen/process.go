package gen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/persistence"
)

type status int32

const (
	statusStarting status = iota
	statusRunning
	statusTerminating
	statusStopped
)

// process is the runtime-owned record backing one Handle. Nothing outside
// this package ever holds a *process directly; all access goes through
// Runtime methods keyed by Handle, so operations on a dead handle fail
// cleanly instead of racing on a freed struct — spec §9 "Actor identity".
type process struct {
	handle beamkit.Handle
	name   string

	rt       *Runtime
	behavior Behavior

	mailbox chan envelope

	mu       sync.Mutex // guards everything below; held only across bookkeeping, never across a callback
	st       status
	state    interface{}
	trapExit bool

	monitorsOut map[string]*monitorRecord // this process is the watcher
	monitorsIn  map[string]*monitorRecord // this process is the target
	links       map[string]*linkRecord

	timers map[string]*timerRecord

	persist *persistence.Manager

	startedAt       time.Time
	messageCount    uint64
	lastMessageUnix int64

	ctx    context.Context
	cancel context.CancelFunc

	done chan struct{} // closed once the process reaches statusStopped
}

func (p *process) setStatus(s status) {
	p.mu.Lock()
	p.st = s
	p.mu.Unlock()
}

func (p *process) getStatus() status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.st
}

func (p *process) isAlive() bool {
	s := p.getStatus()
	return s == statusStarting || s == statusRunning
}

// CurrentState / ServerID / ServerName satisfy persistence.SnapshotSource.
func (p *process) CurrentState() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
func (p *process) ServerID() string   { return p.handle.ID }
func (p *process) ServerName() string { return p.name }

// enqueue pushes env onto the mailbox. It never blocks indefinitely on a
// dead process: if the mailbox channel's buffer is full and the process is
// already gone, callers should have already checked isAlive, but as a
// last resort a closed/terminating process simply drops the message.
func (p *process) enqueue(env envelope) bool {
	if p.getStatus() >= statusTerminating {
		return false
	}
	select {
	case p.mailbox <- env:
		return true
	default:
		// Mailbox full: block briefly rather than silently drop, matching
		// FIFO semantics (cast "never blocks" is a spec requirement only
		// for the caller-facing contract; here we still must not reorder).
		select {
		case p.mailbox <- env:
			return true
		case <-p.ctx.Done():
			return false
		}
	}
}

// loop is the single goroutine that owns this process's state. Messages
// are handled strictly one at a time in mailbox order — the FIFO ordering
// invariant (spec §8 #1) follows directly from there being exactly one
// reader of one channel, processed synchronously.
func (p *process) loop(started chan<- error, initArgs []interface{}) {
	state, err := p.behavior.Init(initArgs...)
	if err != nil {
		started <- beamkit.New(beamkit.KindInitializationErr, "gen.Start", err.Error()).WithServer(p.handle.ID)
		close(p.done)
		return
	}

	if p.persist != nil {
		p.restoreState(&state)
	}

	p.mu.Lock()
	p.state = state
	p.st = statusRunning
	p.mu.Unlock()
	p.startedAt = time.Now()

	started <- nil

	p.rt.bus.publish(Event{Kind: EventStarted, Handle: p.handle, Stats: p.statsLocked()})

	if p.persist != nil {
		p.persist.RunBackground(p.ctx, p)
	}

	var terminateReason Reason

runLoop:
	for {
		select {
		case env := <-p.mailbox:
			if env.kind == envShutdown {
				terminateReason = env.shutdownReason
				break runLoop
			}
			if r, stop := p.handleEnvelope(env); stop {
				terminateReason = r
				break runLoop
			}
		case <-p.ctx.Done():
			terminateReason = ReasonKill
			break runLoop
		}
	}

	p.terminate(terminateReason)
}

func (p *process) statsLocked() Stats {
	return Stats{
		ID:              p.handle.ID,
		Name:            p.name,
		MessageCount:    p.messageCount,
		LastMessageUnix: p.lastMessageUnix,
		StartUnix:       p.startedAt.Unix(),
	}
}

// handleEnvelope dispatches one envelope to the behavior. Returns
// (reason, true) if the callback's Status requires termination.
func (p *process) handleEnvelope(env envelope) (Reason, bool) {
	p.messageCount++
	p.lastMessageUnix = time.Now().Unix()

	switch env.kind {
	case envCall:
		return p.handleCall(env)
	case envCast:
		return p.handleCast(env)
	case envInfo:
		return p.handleInfo(env)
	}
	return Reason{}, false
}

func (p *process) handleCall(env envelope) (Reason, bool) {
	from := From{Handle: env.from, CallID: env.callID}
	reply, newState, status := p.safeHandleCall(from, env.msg)
	switch status {
	case StatusOK:
		p.mu.Lock()
		p.state = newState
		p.mu.Unlock()
		env.replyCh <- callResult{reply: reply}
		return Reason{}, false
	case StatusIgnore:
		// No reply at all; caller's Call will time out.
		return Reason{}, false
	case StatusStop:
		env.replyCh <- callResult{reply: reply}
		return ReasonNormal, true
	default:
		env.replyCh <- callResult{err: beamkit.New(beamkit.KindServerNotRunning, "gen.Call", "process crashed").WithServer(p.handle.ID)}
		return reasonFromStatus(status), true
	}
}

func (p *process) safeHandleCall(from From, msg interface{}) (reply interface{}, newState interface{}, status Status) {
	defer func() {
		if r := recover(); r != nil {
			status = StatusStopWithReason(fmt.Sprintf("panic: %v", r))
			newState = p.CurrentState()
		}
	}()
	return p.behavior.HandleCall(p.CurrentState(), from, msg)
}

func (p *process) handleCast(env envelope) (Reason, bool) {
	newState, status := p.safeHandleCast(env.msg)
	switch status {
	case StatusOK, StatusIgnore:
		p.mu.Lock()
		p.state = newState
		p.mu.Unlock()
		return Reason{}, false
	case StatusStop:
		return ReasonNormal, true
	default:
		return reasonFromStatus(status), true
	}
}

func (p *process) safeHandleCast(msg interface{}) (newState interface{}, status Status) {
	defer func() {
		if r := recover(); r != nil {
			status = StatusStopWithReason(fmt.Sprintf("panic: %v", r))
			newState = p.CurrentState()
		}
	}()
	return p.behavior.HandleCast(p.CurrentState(), msg)
}

func (p *process) handleInfo(env envelope) (Reason, bool) {
	ih, ok := p.behavior.(InfoHandler)
	if !ok {
		return Reason{}, false
	}
	newState, status := p.safeHandleInfo(ih, env.msg)
	switch status {
	case StatusOK, StatusIgnore:
		p.mu.Lock()
		p.state = newState
		p.mu.Unlock()
		return Reason{}, false
	case StatusStop:
		return ReasonNormal, true
	default:
		return reasonFromStatus(status), true
	}
}

func (p *process) safeHandleInfo(ih InfoHandler, msg interface{}) (newState interface{}, status Status) {
	defer func() {
		if r := recover(); r != nil {
			status = StatusStopWithReason(fmt.Sprintf("panic: %v", r))
			newState = p.CurrentState()
		}
	}()
	return ih.HandleInfo(p.CurrentState(), msg)
}

// terminate runs the shutdown sequence: mailbox already effectively
// frozen (caller stops enqueueing once status >= terminating), Terminate
// callback, persistence flush/close, monitor/link notification, then
// statusStopped.
func (p *process) terminate(reason Reason) {
	p.setStatus(statusTerminating)
	p.cancelAllTimers()

	if t, ok := p.behavior.(Terminator); ok {
		p.safeTerminate(t, reason)
	}

	if p.persist != nil {
		if p.persist != nil {
			p.flushOnShutdown(reason)
		}
		p.persist.TerminateCleanup()
		if err := p.persist.Close(); err != nil {
			p.rt.bus.publish(Event{Kind: EventPersistenceError, Handle: p.handle, Err: err})
		}
	}

	p.cancel()
	p.rt.notifyDeath(p, reason)

	p.setStatus(statusStopped)
	close(p.done)
	p.rt.bus.publish(Event{Kind: EventStopped, Handle: p.handle, StopReason: reason})
	p.rt.reap(p.handle.ID)
}

func (p *process) safeTerminate(t Terminator, reason Reason) {
	defer func() { recover() }()
	t.Terminate(p.CurrentState(), reason)
}

func (p *process) restoreState(state *interface{}) {
	res := p.persist.Load()
	if !res.Success {
		return
	}
	restored := res.State
	if sr, ok := p.behavior.(StateRestorer); ok {
		restored = sr.OnStateRestore(restored)
	}
	*state = restored
	p.rt.bus.publish(Event{Kind: EventStateRestored, Handle: p.handle, Meta: res.Metadata})
}

func (p *process) flushOnShutdown(reason Reason) {
	if reason != ReasonNormal && reason != ReasonShutdown {
		return
	}
	if !p.persist.PersistOnShutdown() {
		return
	}
	state := p.CurrentState()
	if bp, ok := p.behavior.(PrePersister); ok {
		toPersist, ok := bp.BeforePersist(state)
		if !ok {
			return
		}
		state = toPersist
	}
	if err := p.persist.Checkpoint(state, p.handle.ID, p.name); err != nil {
		p.rt.bus.publish(Event{Kind: EventPersistenceError, Handle: p.handle, Err: err})
		return
	}
	p.rt.bus.publish(Event{Kind: EventStatePersisted, Handle: p.handle})
}
