// Package globalreg implements the cluster-wide name registry: a local
// mirror per node, updated by gossip-broadcast register_request messages
// and a deterministic conflict resolver, per spec.md §4.7. No teacher
// equivalent — rutaka-n-ergonode's registrar is node-local only.
package globalreg

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/cluster"
	"github.com/nodecrew/beamkit/internal/wire"
)

// Entry is one name's current owner in the mirror.
type Entry struct {
	Name         string
	Ref          beamkit.Handle
	RegisteredAt time.Time
	NodePriority uint32
}

// ConflictEvent is published locally whenever this node's mirror update
// causes a previously-locally-owned entry to lose to a remote one, per
// spec.md §4.7 "the losing owner is notified via a conflictResolved
// event and must update its local mirror."
type ConflictEvent struct {
	Name   string
	Lost   Entry
	Winner Entry
}

// Registry is the process-wide singleton mirror for one node.
type Registry struct {
	node        *cluster.Node
	localNodeID string
	priority    uint32
	logger      beamkit.Logger

	mu     sync.RWMutex
	mirror map[string]Entry

	sf singleflight.Group

	subMu sync.Mutex
	subs  map[uint64]func(ConflictEvent)
	nextS uint64
}

// New constructs a Registry and wires its handlers onto node. Call before
// node.Start.
func New(node *cluster.Node, logger beamkit.Logger) *Registry {
	if logger == nil {
		logger = beamkit.NewNopLogger()
	}
	localID := node.LocalNodeID().String()
	r := &Registry{
		node:        node,
		localNodeID: localID,
		priority:    nodePriority(localID),
		logger:      logger,
		mirror:      make(map[string]Entry),
		subs:        make(map[uint64]func(ConflictEvent)),
	}

	node.Handle(cluster.KindGlobalRegister, r.handleGlobalRegister)
	node.Handle(cluster.KindGlobalUnregister, r.handleGlobalUnregister)
	node.Handle(cluster.KindGlobalConflict, r.handleGlobalConflict)
	node.Handle(cluster.KindGlobalSyncRequest, r.handleSyncRequest)
	node.Handle(cluster.KindGlobalSyncReply, r.handleSyncReply)

	node.Subscribe(func(ev cluster.Event) {
		if ev.Kind == cluster.EventNodeDown {
			r.removeOwnedBy(ev.Node.String())
		}
		if ev.Kind == cluster.EventNodeUp {
			go r.syncWith(ev.Node)
		}
	})

	return r
}

// OnConflict subscribes to ConflictEvent notifications.
func (r *Registry) OnConflict(handler func(ConflictEvent)) func() {
	r.subMu.Lock()
	r.nextS++
	id := r.nextS
	r.subs[id] = handler
	r.subMu.Unlock()
	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) publishConflict(ev ConflictEvent) {
	r.subMu.Lock()
	handlers := make([]func(ConflictEvent), 0, len(r.subs))
	for _, h := range r.subs {
		handlers = append(handlers, h)
	}
	r.subMu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Register broadcasts a register_request for name→ref, per spec.md §4.7.
// singleflight collapses concurrent Register calls for the same name
// into one outbound broadcast round.
func (r *Registry) Register(name string, ref beamkit.Handle) error {
	_, err, _ := r.sf.Do(name, func() (interface{}, error) {
		entry := Entry{Name: name, Ref: ref, RegisteredAt: time.Now(), NodePriority: r.priority}
		applied, _ := r.applyEntry(entry)
		if !applied {
			return nil, beamkit.New(beamkit.KindGlobalNameConflict, "globalreg.Register", "name already owned by a higher-priority entry").WithKey(name)
		}
		r.broadcastRegister(entry)
		return nil, nil
	})
	return err
}

// Unregister removes name from this node's mirror and tells peers to do
// the same.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.mirror, name)
	r.mu.Unlock()
	for _, peer := range r.node.GetConnectedNodes() {
		_ = r.node.Send(peer, cluster.KindGlobalUnregister, "", cluster.GlobalUnregisterBody{Name: name})
	}
}

// Lookup, Whereis, GetNames, IsRegistered consult only the local mirror —
// no network call, per spec.md §4.7.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.mirror[name]
	return e, ok
}

func (r *Registry) Whereis(name string) (beamkit.Handle, bool) {
	e, ok := r.Lookup(name)
	if !ok {
		return beamkit.Handle{}, false
	}
	return e.Ref, true
}

func (r *Registry) GetNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.mirror))
	for name := range r.mirror {
		out = append(out, name)
	}
	return out
}

func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// applyEntry is the deterministic resolver both local Register and
// incoming register_request frames funnel through, per spec.md §4.7
// step 2.
func (r *Registry) applyEntry(candidate Entry) (applied bool, replaced *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.mirror[candidate.Name]
	if !ok {
		r.mirror[candidate.Name] = candidate
		return true, nil
	}
	if existing.Ref == candidate.Ref {
		return true, nil
	}
	if wins(candidate, existing) {
		r.mirror[candidate.Name] = candidate
		old := existing
		return true, &old
	}
	return false, nil
}

func (r *Registry) broadcastRegister(entry Entry) {
	body := cluster.GlobalRegisterBody{
		Name: entry.Name, Ref: entry.Ref.ID, RefNode: entry.Ref.NodeID,
		RegisteredAt: entry.RegisteredAt, NodePriority: entry.NodePriority,
	}
	for _, peer := range r.node.GetConnectedNodes() {
		_ = r.node.Send(peer, cluster.KindGlobalRegister, "", body)
	}
}

func (r *Registry) handleGlobalRegister(from cluster.NodeID, env wire.Envelope) {
	var body cluster.GlobalRegisterBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	candidate := Entry{
		Name: body.Name, Ref: beamkit.Handle{ID: body.Ref, NodeID: body.RefNode},
		RegisteredAt: body.RegisteredAt, NodePriority: body.NodePriority,
	}
	applied, replaced := r.applyEntry(candidate)
	if applied && replaced != nil && replaced.Ref.NodeID == r.localNodeID {
		r.publishConflict(ConflictEvent{Name: candidate.Name, Lost: *replaced, Winner: candidate})
		_ = r.node.Send(from, cluster.KindGlobalConflict, "", cluster.GlobalConflictBody{
			Name: candidate.Name, WinnerRef: candidate.Ref.ID, WinnerNode: candidate.Ref.NodeID,
			RegisteredAt: candidate.RegisteredAt, NodePriority: candidate.NodePriority,
		})
	}
}

func (r *Registry) handleGlobalUnregister(from cluster.NodeID, env wire.Envelope) {
	var body cluster.GlobalUnregisterBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	r.mu.Lock()
	delete(r.mirror, body.Name)
	r.mu.Unlock()
}

func (r *Registry) handleGlobalConflict(from cluster.NodeID, env wire.Envelope) {
	var body cluster.GlobalConflictBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	winner := Entry{
		Name: body.Name, Ref: beamkit.Handle{ID: body.WinnerRef, NodeID: body.WinnerNode},
		RegisteredAt: body.RegisteredAt, NodePriority: body.NodePriority,
	}
	applied, replaced := r.applyEntry(winner)
	if applied && replaced != nil {
		r.publishConflict(ConflictEvent{Name: winner.Name, Lost: *replaced, Winner: winner})
	}
}

// handleSyncRequest/handleSyncReply implement a full-mirror exchange on
// nodeUp so a newly (re)connected node converges quickly instead of
// waiting for the next incidental register broadcast.
func (r *Registry) handleSyncRequest(from cluster.NodeID, env wire.Envelope) {
	r.mu.RLock()
	entries := make([]cluster.GlobalEntryWire, 0, len(r.mirror))
	for _, e := range r.mirror {
		entries = append(entries, cluster.GlobalEntryWire{
			Name: e.Name, Ref: e.Ref.ID, RefNode: e.Ref.NodeID,
			RegisteredAt: e.RegisteredAt, NodePriority: e.NodePriority,
		})
	}
	r.mu.RUnlock()
	_ = r.node.Send(from, cluster.KindGlobalSyncReply, env.CorrID, cluster.GlobalSyncReplyBody{Entries: entries})
}

func (r *Registry) handleSyncReply(from cluster.NodeID, env wire.Envelope) {
	var body cluster.GlobalSyncReplyBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	for _, e := range body.Entries {
		candidate := Entry{Name: e.Name, Ref: beamkit.Handle{ID: e.Ref, NodeID: e.RefNode}, RegisteredAt: e.RegisteredAt, NodePriority: e.NodePriority}
		applied, replaced := r.applyEntry(candidate)
		if applied && replaced != nil && replaced.Ref.NodeID == r.localNodeID {
			r.publishConflict(ConflictEvent{Name: candidate.Name, Lost: *replaced, Winner: candidate})
		}
	}
}

func (r *Registry) syncWith(peer cluster.NodeID) {
	_ = r.node.Send(peer, cluster.KindGlobalSyncRequest, "", cluster.GlobalSyncRequestBody{})
}

// removeOwnedBy removes every mirror entry owned by a departed node, per
// spec.md §4.7 "On node-down, all registrations owned by the departed
// node are removed from every mirror."
func (r *Registry) removeOwnedBy(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.mirror {
		if e.Ref.NodeID == nodeID {
			delete(r.mirror, name)
		}
	}
}
