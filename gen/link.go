package gen

import (
	"github.com/google/uuid"
	"github.com/nodecrew/beamkit"
)

// link installs a symmetric link between a and b: either side's abnormal
// exit propagates to the other, per spec §9 "Links are bidirectional".
// Linking to an already-dead process immediately propagates an exit signal
// back to the caller, mirroring Erlang's "link to dead pid" behavior.
func (rt *Runtime) link(a, b beamkit.Handle) error {
	ap, aok := rt.lookup(a)
	bp, bok := rt.lookup(b)

	if !bok {
		if aok {
			rt.propagateExit(a, b, ReasonNoproc, "")
		}
		return nil
	}
	if !aok {
		return beamkit.New(beamkit.KindServerNotRunning, "gen.Link", "linking process not found").WithServer(a.ID)
	}

	id := uuid.NewString()
	rec := &linkRecord{id: id, a: a, b: b}

	ap.mu.Lock()
	ap.links[id] = rec
	ap.mu.Unlock()

	bp.mu.Lock()
	bp.links[id] = rec
	bp.mu.Unlock()

	return nil
}

// unlink removes every link record between a and b. Idempotent.
func (rt *Runtime) unlink(a, b beamkit.Handle) {
	ap, ok := rt.lookup(a)
	if !ok {
		return
	}
	ap.mu.Lock()
	var toRemove []string
	for id, rec := range ap.links {
		if rec.other(a) == b {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		delete(ap.links, id)
	}
	ap.mu.Unlock()

	if bp, ok := rt.lookup(b); ok {
		bp.mu.Lock()
		for _, id := range toRemove {
			delete(bp.links, id)
		}
		bp.mu.Unlock()
	}
}
