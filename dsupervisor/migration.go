package dsupervisor

import (
	"time"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/cluster"
	"github.com/nodecrew/beamkit/gen"
	"github.com/nodecrew/beamkit/supervisor"
)

// MigrationEvent is published via DistributedSupervisor.OnMigration
// whenever a child is re-placed after its hosting node went down, per
// spec.md §4.8 "emitting child_migrated { fromNode, toNode }".
type MigrationEvent struct {
	ChildID  string
	FromNode string
	ToNode   string
}

// onChildDown applies the supervisor's restart policy to a child whose
// remote monitor fired, per spec.md §4.8 "On process_down for a child
// the standard restart policy applies, respecting the intensity
// limiter."
func (r *runner) onChildDown(down gen.DownInfo) gen.Status {
	id, ok := r.byMonitor[down.MonitorID]
	if !ok {
		for cid, cr := range r.children {
			if cr.monitorID == down.MonitorID {
				id, ok = cid, true
				break
			}
		}
	}
	if !ok {
		return gen.StatusOK
	}
	cr := r.children[id]
	delete(r.byMonitor, down.MonitorID)
	cr.alive = false
	r.selector.recordRemoval(cr.nodeID)

	if !shouldRestart(cr.spec.Restart, down.Reason) {
		return gen.StatusOK
	}

	if !r.limiter.Allow(time.Now()) {
		return gen.StatusStopWithReason(beamkit.New(beamkit.KindMaxRestartsExceeded, "dsupervisor", "restart intensity exceeded").WithServer(r.self.ID).Error())
	}

	// Same strategy semantics as the in-process supervisor (spec.md §4.8
	// "Same restart strategies as the local supervisor"): one_for_all and
	// rest_for_one take down and relaunch siblings alongside the failed
	// child. Each is relaunched on the node it was running on; the
	// selector is not consulted again here.
	affected := r.affectedSiblings(id)
	for _, sibID := range affected {
		if sibID == id {
			continue
		}
		if sib, ok := r.children[sibID]; ok && sib.alive {
			r.terminateRemote(sib)
		}
	}

	for _, sibID := range affected {
		sib, ok := r.children[sibID]
		if !ok || sib.spec.Restart == supervisor.Temporary {
			continue
		}
		newCr, err := r.spawnOn(sib.spec, sib.nodeID)
		if err != nil {
			r.logger.Warnw("dsupervisor: restart failed", "child", sibID, "node", sib.nodeID.String(), "error", err)
			continue
		}
		newCr.restartCount = sib.restartCount + 1
		r.children[sibID] = newCr
		r.byMonitor[newCr.monitorID] = sibID
		r.selector.recordPlacement(newCr.nodeID)
	}
	return gen.StatusOK
}

// affectedSiblings mirrors supervisor.runner's affectedSiblings, applied
// to this supervisor's own child order.
func (r *runner) affectedSiblings(failedID string) []string {
	switch r.opts.Strategy {
	case supervisor.OneForAll:
		out := append([]string(nil), r.order...)
		return appendIfMissing(out, failedID)
	case supervisor.RestForOne:
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
	default: // OneForOne
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

// onNodeDown re-places every child hosted on the departed node via the
// configured selector (excluding that node), per spec.md §4.8 "On
// nodeDown all children hosted on that node are eligible for
// rescheduling; they are re-placed via the selector ... emitting
// child_migrated. Claims are tracked so that two supervisors do not race
// to restart the same child id."
func (r *runner) onNodeDown(dead cluster.NodeID) {
	for _, id := range append([]string(nil), r.order...) {
		cr, ok := r.children[id]
		if !ok || !cr.alive || cr.nodeID.String() != dead.String() {
			continue
		}
		r.migrateChild(id, cr, dead)
	}
}

// migrateChild is the single-child migration path. The "claim" spec.md
// references — preventing two supervisors racing to restart the same
// child id — is satisfied here by construction: each child is owned by
// exactly one DistributedSupervisor process (the one that placed it),
// and all mutation of that process's children map happens on its own
// single-threaded mailbox, so no two migrations for the same id can ever
// run concurrently within this runtime. Cross-supervisor races (two
// independent DistributedSupervisor instances both tracking the same
// child id) are out of scope: spec.md does not define a shared claim
// store, and synthesizing one would require inventing a new wire
// message kind beyond §6's list.
func (r *runner) migrateChild(id string, cr *childRecord, dead cluster.NodeID) {
	cr.alive = false
	delete(r.byMonitor, cr.monitorID)

	sel := r.opts.DefaultSelector
	if cr.spec.Selector != nil {
		sel = *cr.spec.Selector
	}

	newNode, err := r.selector.pick(sel, r.node, map[string]bool{dead.String(): true})
	if err != nil {
		r.logger.Warnw("dsupervisor: migration failed, no candidate node", "child", id, "error", err)
		delete(r.children, id)
		r.removeFromOrder(id)
		return
	}

	newCr, err := r.spawnOn(cr.spec, newNode)
	if err != nil {
		r.logger.Warnw("dsupervisor: migration spawn failed", "child", id, "node", newNode.String(), "error", err)
		delete(r.children, id)
		r.removeFromOrder(id)
		return
	}
	newCr.restartCount = cr.restartCount + 1
	r.children[id] = newCr
	r.byMonitor[newCr.monitorID] = id
	r.selector.recordPlacement(newNode)

	if r.opts.OnMigration != nil {
		r.opts.OnMigration(MigrationEvent{ChildID: id, FromNode: dead.String(), ToNode: newNode.String()})
	}
}

func shouldRestart(policy supervisor.RestartPolicy, reason gen.Reason) bool {
	switch policy {
	case supervisor.Temporary:
		return false
	case supervisor.Transient:
		return reason.Abnormal()
	default: // Permanent
		return true
	}
}
