package gen

import (
	"github.com/google/uuid"
	"github.com/nodecrew/beamkit"
)

// monitor installs a one-way watch: watcher is notified (never the other
// way around) when target terminates, per spec §9 "Monitors are
// one-directional". Returns the monitor id used to Demonitor later.
func (rt *Runtime) monitor(watcher, target beamkit.Handle) (string, error) {
	tp, ok := rt.lookup(target)
	if !ok {
		// Target already gone: synthesize an immediate DownInfo rather than
		// erroring, matching spec §9 "monitoring a dead process delivers a
		// down notification immediately".
		id := uuid.NewString()
		rt.deliverDown(watcher, DownInfo{MonitorID: id, MonitoredRef: target, Reason: ReasonNoproc})
		return id, nil
	}

	id := uuid.NewString()
	rec := &monitorRecord{id: id, watcher: watcher, target: target}

	wp, ok := rt.lookup(watcher)
	if ok {
		wp.mu.Lock()
		wp.monitorsOut[id] = rec
		wp.mu.Unlock()
	}

	tp.mu.Lock()
	tp.monitorsIn[id] = rec
	tp.mu.Unlock()

	return id, nil
}

// demonitor removes a monitor installed by monitor. Idempotent.
func (rt *Runtime) demonitor(watcher beamkit.Handle, id string) {
	if wp, ok := rt.lookup(watcher); ok {
		wp.mu.Lock()
		rec, exists := wp.monitorsOut[id]
		delete(wp.monitorsOut, id)
		wp.mu.Unlock()
		if exists {
			if tp, ok := rt.lookup(rec.target); ok {
				tp.mu.Lock()
				delete(tp.monitorsIn, id)
				tp.mu.Unlock()
			}
		}
	}
}

// notifyDeath is called once from process.terminate. It fans out
// DownInfo to every watcher that holds a monitor on p, and runs exit-signal
// propagation for every link partner, per spec §9's teardown ordering
// (monitors first, then links).
func (rt *Runtime) notifyDeath(p *process, reason Reason) {
	p.mu.Lock()
	monitorsIn := make([]*monitorRecord, 0, len(p.monitorsIn))
	for _, r := range p.monitorsIn {
		monitorsIn = append(monitorsIn, r)
	}
	links := make([]*linkRecord, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	p.mu.Unlock()

	for _, rec := range monitorsIn {
		rt.deliverDown(rec.watcher, DownInfo{MonitorID: rec.id, MonitoredRef: p.handle, Reason: reason})
		if wp, ok := rt.lookup(rec.watcher); ok {
			wp.mu.Lock()
			delete(wp.monitorsOut, rec.id)
			wp.mu.Unlock()
		}
	}

	for _, l := range links {
		other := l.other(p.handle)
		rt.propagateExit(other, p.handle, reason, l.id)
	}
}

// deliverDown publishes a process_down lifecycle event and, if watcher is a
// live local process, also enqueues it as an info message — satisfying both
// the literal "emitted to the watcher's lifecycle subscription" wording and
// ordinary GenServer HandleInfo ergonomics.
func (rt *Runtime) deliverDown(watcher beamkit.Handle, down DownInfo) {
	rt.bus.publish(Event{Kind: EventProcessDown, Handle: down.MonitoredRef, Down: down, DownWatcher: watcher})

	if wp, ok := rt.lookup(watcher); ok && wp.isAlive() {
		wp.enqueue(envelope{kind: envInfo, msg: down})
	}
}

// propagateExit implements link semantics: if the surviving peer traps
// exits, it receives an ExitSignal info message; otherwise, for an abnormal
// reason, it is itself terminated (the "crash propagates through the link
// graph" rule). A normal exit never propagates termination, trapping or not.
func (rt *Runtime) propagateExit(peer, from beamkit.Handle, reason Reason, linkID string) {
	pp, ok := rt.lookup(peer)
	if !ok {
		return
	}

	pp.mu.Lock()
	delete(pp.links, linkID)
	trap := pp.trapExit
	pp.mu.Unlock()

	if !reason.Abnormal() {
		return
	}

	if trap {
		pp.enqueue(envelope{kind: envInfo, msg: ExitSignal{From: from, Reason: reason}})
		return
	}

	rt.Stop(peer, reason)
}
