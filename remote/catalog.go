package remote

import (
	"sync"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/cluster"
	"github.com/nodecrew/beamkit/gen"
)

// Factory constructs a Behavior from remote-spawn args, registered
// against a name every node in the cluster agrees on.
type Factory func(args ...interface{}) gen.Behavior

// Catalog is the "what behaviors exist on this node" table of spec.md
// §4.11 and §9, consulted by remote spawn. Each NewCatalog call returns an
// independent instance with no start/stop step; behaviors are added with
// Register. Local supervisor child specs carry their own Factory and do
// not use it.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

func (c *Catalog) Register(name string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = f
}

func (c *Catalog) Lookup(name string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[name]
	return f, ok
}

// Manager wires a local gen.Runtime and cluster.Node together to serve
// both sides of every remote operation in spec.md §4.6: issuing requests
// to peers, and answering requests peers issue to this node.
type Manager struct {
	node    *cluster.Node
	rt      *gen.Runtime
	catalog *Catalog
	logger  beamkit.Logger

	calls    *correlationTable
	spawns   *correlationTable
	monitors *correlationTable
	links    *correlationTable

	// remoteMonitors tracks monitors this node's processes hold on a
	// remote target, keyed by monitorID, so a node-down can synthesize
	// the noconnection DownInfo locally.
	mu             sync.Mutex
	remoteMonitors map[string]remoteMonitorState
	remoteLinks    map[string]remoteLinkState
}

type remoteMonitorState struct {
	watcher beamkit.Handle
	target  beamkit.Handle
}

type remoteLinkState struct {
	local  beamkit.Handle
	remote beamkit.Handle
}

// NewManager constructs a Manager and registers its handlers against
// node. Call before node.Start.
func NewManager(node *cluster.Node, rt *gen.Runtime, catalog *Catalog, logger beamkit.Logger) *Manager {
	if logger == nil {
		logger = beamkit.NewNopLogger()
	}
	m := &Manager{
		node:           node,
		rt:             rt,
		catalog:        catalog,
		logger:         logger,
		calls:          newCorrelationTable(),
		spawns:         newCorrelationTable(),
		monitors:       newCorrelationTable(),
		links:          newCorrelationTable(),
		remoteMonitors: make(map[string]remoteMonitorState),
		remoteLinks:    make(map[string]remoteLinkState),
	}
	m.registerHandlers()

	node.Subscribe(func(ev cluster.Event) {
		if ev.Kind != cluster.EventNodeDown {
			return
		}
		m.onNodeDown(ev.Node)
	})

	return m
}

func (m *Manager) onNodeDown(peer cluster.NodeID) {
	unreachable := beamkit.New(beamkit.KindNodeNotReachable, "remote", "peer node went down").WithNode(peer.String())
	m.calls.failAllForNode(peer.String(), unreachable)
	m.spawns.failAllForNode(peer.String(), unreachable)
	m.monitors.failAllForNode(peer.String(), unreachable)
	m.links.failAllForNode(peer.String(), unreachable)

	m.mu.Lock()
	var deadMonitors []remoteMonitorState
	for id, st := range m.remoteMonitors {
		if st.target.NodeID == peer.String() {
			deadMonitors = append(deadMonitors, st)
			delete(m.remoteMonitors, id)
		}
	}
	var deadLinks []remoteLinkState
	for id, st := range m.remoteLinks {
		if st.remote.NodeID == peer.String() {
			deadLinks = append(deadLinks, st)
			delete(m.remoteLinks, id)
		}
	}
	m.mu.Unlock()

	for _, st := range deadMonitors {
		m.deliverLocalDown(st.watcher, st.target, gen.ReasonNoconnection)
	}
	for _, st := range deadLinks {
		m.deliverLocalExit(st.local, st.remote, gen.ReasonNoconnection)
	}
}

// registerHandlers wires every cluster.HandlerFunc this Manager answers,
// per spec.md §6's message-kind list.
func (m *Manager) registerHandlers() {
	m.node.Handle(cluster.KindCallRequest, m.handleCallRequest)
	m.node.Handle(cluster.KindCallReply, m.handleCallReply)
	m.node.Handle(cluster.KindCallError, m.handleCallError)
	m.node.Handle(cluster.KindCast, m.handleCast)
	m.node.Handle(cluster.KindSpawnRequest, m.handleSpawnRequest)
	m.node.Handle(cluster.KindSpawnReply, m.handleSpawnReply)
	m.node.Handle(cluster.KindMonitorRequest, m.handleMonitorRequest)
	m.node.Handle(cluster.KindMonitorAck, m.handleMonitorAck)
	m.node.Handle(cluster.KindDemonitor, m.handleDemonitor)
	m.node.Handle(cluster.KindProcessDown, m.handleProcessDown)
	m.node.Handle(cluster.KindLinkRequest, m.handleLinkRequest)
	m.node.Handle(cluster.KindLinkAck, m.handleLinkAck)
	m.node.Handle(cluster.KindUnlink, m.handleUnlink)
	m.node.Handle(cluster.KindExitSignal, m.handleExitSignal)
}

func (m *Manager) deliverLocalDown(watcher, target beamkit.Handle, reason gen.Reason) {
	m.rt.DeliverDown(watcher, gen.DownInfo{MonitoredRef: target, Reason: reason})
}

func (m *Manager) deliverLocalExit(local, remote beamkit.Handle, reason gen.Reason) {
	m.rt.DeliverExit(local, remote, reason)
}
