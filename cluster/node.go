package cluster

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nodecrew/beamkit"
)

// NodeID identifies a cluster member, grammar `name@host:port` per
// spec.md §4.5. Two NodeIDs with the same String() are the same logical
// peer.
type NodeID struct {
	Name string
	Host string
	Port int
}

// ParseNodeID parses the fixed `name@host:port` grammar.
func ParseNodeID(s string) (NodeID, error) {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return NodeID{}, beamkit.New(beamkit.KindInvalidNodeID, "cluster.ParseNodeID", "missing '@'").WithNode(s)
	}
	name := s[:at]
	hostport := s[at+1:]
	colon := strings.LastIndexByte(hostport, ':')
	if name == "" || colon < 0 {
		return NodeID{}, beamkit.New(beamkit.KindInvalidNodeID, "cluster.ParseNodeID", "malformed host:port").WithNode(s)
	}
	host := hostport[:colon]
	port, err := strconv.Atoi(hostport[colon+1:])
	if err != nil || port <= 0 || host == "" {
		return NodeID{}, beamkit.New(beamkit.KindInvalidNodeID, "cluster.ParseNodeID", "malformed host:port").WithNode(s)
	}
	return NodeID{Name: name, Host: host, Port: port}, nil
}

func (n NodeID) String() string {
	return fmt.Sprintf("%s@%s:%d", n.Name, n.Host, n.Port)
}

func (n NodeID) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// Status is a peer connection's lifecycle state, per spec.md §4.5
// "connecting → connected → disconnected".
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// NodeInfo describes a peer as carried in nodeUp events and peer-list
// gossip.
type NodeInfo struct {
	ID     NodeID
	Status Status
}

// EventKind tags a Node-level event, per spec.md §4.5 "Node events".
type EventKind string

const (
	EventNodeUp         EventKind = "nodeUp"
	EventNodeDown       EventKind = "nodeDown"
	EventStatusChange   EventKind = "statusChange"
)

// Event is delivered to Node subscribers in the order the underlying
// status transitions actually occur.
type Event struct {
	Kind   EventKind
	Node   NodeID
	Status Status
	Reason string
}
