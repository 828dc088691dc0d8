// Package cluster implements the distribution transport: node identity,
// framed and optionally HMAC-authenticated TCP connections, heartbeat
// failure detection, gossip-driven mesh formation and reconnect, per
// spec.md §4.5. Grounded on rutaka-n-ergonode/registrar.go's peer-map/
// connect/reconnect plumbing, generalized to the spec's wire protocol.
package cluster

import (
	"context"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/internal/wire"
)

const (
	DefaultPort                   = 4369
	DefaultHost                   = "0.0.0.0"
	DefaultHeartbeatIntervalMs    = 5000
	DefaultHeartbeatMissThreshold = 3
	DefaultReconnectBaseDelayMs   = 1000
	DefaultReconnectMaxDelayMs    = 30000
	DefaultDialTimeout            = 10 * time.Second
)

// Options configures Node.Start, per spec.md §6 "Cluster start".
type Options struct {
	NodeID                 NodeID
	Seeds                  []NodeID
	ClusterSecret          []byte
	HeartbeatIntervalMs    int
	HeartbeatMissThreshold int
	ReconnectBaseDelayMs   int
	ReconnectMaxDelayMs    int
	// DialTimeout is a SPEC_FULL supplement (not named in spec.md §6): a
	// TCP dial without one can hang the connection-manager goroutine
	// indefinitely, which would violate spec.md §5's "every start path
	// has a matching teardown path" guarantee.
	DialTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.NodeID.Port == 0 {
		o.NodeID.Port = DefaultPort
	}
	if o.NodeID.Host == "" {
		o.NodeID.Host = DefaultHost
	}
	if o.HeartbeatIntervalMs == 0 {
		o.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}
	if o.HeartbeatMissThreshold == 0 {
		o.HeartbeatMissThreshold = DefaultHeartbeatMissThreshold
	}
	if o.ReconnectBaseDelayMs == 0 {
		o.ReconnectBaseDelayMs = DefaultReconnectBaseDelayMs
	}
	if o.ReconnectMaxDelayMs == 0 {
		o.ReconnectMaxDelayMs = DefaultReconnectMaxDelayMs
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = DefaultDialTimeout
	}
}

// HandlerFunc processes one decoded envelope arriving from peer.
type HandlerFunc func(peer NodeID, env wire.Envelope)

// Node is a single cluster member: it listens, dials seeds, gossips,
// heartbeats and forwards every non-built-in frame kind to a registered
// HandlerFunc so remote/globalreg/dsupervisor can layer their own
// protocols over the same transport without cluster depending on them.
type Node struct {
	opts   Options
	logger beamkit.Logger

	ctx    context.Context
	cancel context.CancelFunc

	listener net.Listener

	mu    sync.RWMutex
	peers map[string]*connection // key: NodeID.String()

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	seen *lru.Cache[string, struct{}]

	eventsMu sync.RWMutex
	events   map[uint64]func(Event)
	nextSub  uint64
}

// New constructs a Node without starting it.
func New(opts Options, logger beamkit.Logger) (*Node, error) {
	if opts.NodeID.Name == "" {
		return nil, beamkit.New(beamkit.KindInvalidClusterConf, "cluster.New", "NodeID.Name is required")
	}
	opts.applyDefaults()
	if logger == nil {
		logger = beamkit.NewNopLogger()
	}
	return &Node{
		opts:     opts,
		logger:   logger,
		peers:    make(map[string]*connection),
		handlers: make(map[string]HandlerFunc),
		seen:     newSeenCache(),
		events:   make(map[uint64]func(Event)),
	}, nil
}

// Handle registers fn to receive every envelope of the given kind. Must
// be called before Start; not safe to call concurrently with dispatch.
func (n *Node) Handle(kind string, fn HandlerFunc) {
	n.handlersMu.Lock()
	defer n.handlersMu.Unlock()
	n.handlers[kind] = fn
}

// Subscribe registers handler to receive Node events (nodeUp/nodeDown/
// statusChange) in the order transitions occur.
func (n *Node) Subscribe(handler func(Event)) func() {
	n.eventsMu.Lock()
	n.nextSub++
	id := n.nextSub
	n.events[id] = handler
	n.eventsMu.Unlock()
	return func() {
		n.eventsMu.Lock()
		delete(n.events, id)
		n.eventsMu.Unlock()
	}
}

func (n *Node) publish(ev Event) {
	n.eventsMu.RLock()
	handlers := make([]func(Event), 0, len(n.events))
	for _, h := range n.events {
		handlers = append(handlers, h)
	}
	n.eventsMu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Start opens the listener and begins dialing configured seeds. It
// ensures a clean teardown path is reachable even if a seed dial fails
// during start, per spec.md §9 "Global state" note on retry-safety: any
// partial state from a failed Start is torn down before returning the
// error, so calling Start again is safe.
func (n *Node) Start() error {
	n.ctx, n.cancel = context.WithCancel(context.Background())

	if err := n.listen(); err != nil {
		n.cancel()
		return err
	}

	go n.heartbeatLoop()

	for _, seed := range n.opts.Seeds {
		if seed.String() == n.opts.NodeID.String() {
			continue
		}
		go n.connectTo(seed)
	}

	return nil
}

// Stop closes the listener and every peer connection, cancelling all
// background goroutines (heartbeat loop, reconnect loops).
func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	peers := make([]*connection, 0, len(n.peers))
	for _, c := range n.peers {
		peers = append(peers, c)
	}
	n.peers = make(map[string]*connection)
	n.mu.Unlock()

	for _, c := range peers {
		c.close()
	}
	return nil
}

// GetConnectedNodes returns every peer currently in StatusConnected, used
// by dsupervisor's node selectors.
func (n *Node) GetConnectedNodes() []NodeID {
	out := make([]NodeID, 0)
	for _, c := range n.connectedPeers() {
		out = append(out, c.peerID)
	}
	return out
}

func (n *Node) connectedPeers() []*connection {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*connection, 0, len(n.peers))
	for _, c := range n.peers {
		if c.getStatus() == StatusConnected {
			out = append(out, c)
		}
	}
	return out
}

func (n *Node) registerConnection(peerID NodeID, conn net.Conn) *connection {
	n.mu.Lock()
	c, exists := n.peers[peerID.String()]
	if !exists {
		c = newConnection(n, peerID)
		n.peers[peerID.String()] = c
	}
	n.mu.Unlock()
	c.setConn(conn)
	return c
}

func (n *Node) registerPendingConnection(peerID NodeID) *connection {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, exists := n.peers[peerID.String()]
	if !exists {
		c = newConnection(n, peerID)
		n.peers[peerID.String()] = c
	}
	return c
}

// afterConnected fires nodeUp/statusChange and exchanges peer lists, per
// spec.md §4.5 "Gossip".
func (n *Node) afterConnected(c *connection) {
	n.publish(Event{Kind: EventStatusChange, Node: c.peerID, Status: StatusConnected})
	n.publish(Event{Kind: EventNodeUp, Node: c.peerID, Status: StatusConnected})

	body := PeerListBody{Peers: n.currentPeerList()}
	if err := c.send(KindPeerList, "", n.opts.NodeID.String(), c.peerID.String(), body); err != nil {
		n.logger.Debugw("cluster: peer list exchange failed", "peer", c.peerID.String(), "err", err)
	}
}

// onConnLost handles a read failure on c: marks it disconnected, fires
// nodeDown unless the departure was already graceful, and starts
// reconnecting unless the node is stopping.
func (n *Node) onConnLost(c *connection, cause error) {
	n.onPeerUnreachable(c, "connection_lost")
}

func (n *Node) onPeerUnreachable(c *connection, reason string) {
	wasConnected := c.getStatus() == StatusConnected
	c.close()

	if !wasConnected {
		return
	}

	n.publish(Event{Kind: EventStatusChange, Node: c.peerID, Status: StatusDisconnected, Reason: reason})
	n.publish(Event{Kind: EventNodeDown, Node: c.peerID, Reason: reason})

	select {
	case <-n.ctx.Done():
		return
	default:
	}

	c.mu.Lock()
	graceful := c.graceful
	c.mu.Unlock()
	if !graceful {
		go c.reconnectLoop()
	}
}

// dispatch routes a decoded envelope to built-in handling (hello/
// heartbeat/peer_list/node_down) or to a registered HandlerFunc for
// remote/globalreg traffic.
func (n *Node) dispatch(c *connection, env wire.Envelope) {
	switch env.Kind {
	case KindHeartbeat:
		n.onHeartbeat(c)
		return
	case KindPeerList:
		var body PeerListBody
		if err := env.DecodeBody(&body); err == nil {
			n.onPeerList(body)
		}
		return
	case KindNodeDown:
		var body NodeDownBody
		if err := env.DecodeBody(&body); err == nil {
			c.mu.Lock()
			c.graceful = true
			c.mu.Unlock()
			n.onPeerUnreachable(c, body.Reason)
		}
		return
	}

	n.handlersMu.RLock()
	fn, ok := n.handlers[env.Kind]
	n.handlersMu.RUnlock()
	if !ok {
		n.logger.Debugw("cluster: no handler for envelope kind", "kind", env.Kind)
		return
	}
	fn(c.peerID, env)
}

// Send frames and delivers an envelope to to, used by remote/globalreg to
// ride this Node's transport.
func (n *Node) Send(to NodeID, kind, corrID string, body interface{}) error {
	n.mu.RLock()
	c, ok := n.peers[to.String()]
	n.mu.RUnlock()
	if !ok || c.getStatus() != StatusConnected {
		return beamkit.New(beamkit.KindNodeNotReachable, "cluster.Send", "peer not connected").WithNode(to.String())
	}
	return c.send(kind, corrID, n.opts.NodeID.String(), to.String(), body)
}

// LocalNodeID returns this Node's own identity.
func (n *Node) LocalNodeID() NodeID { return n.opts.NodeID }
