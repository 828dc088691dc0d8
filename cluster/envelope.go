package cluster

import "time"

// Message kinds, per spec.md §6 ("not exhaustive for extension").
const (
	KindHello              = "hello"
	KindHelloAck           = "hello_ack"
	KindHeartbeat          = "heartbeat"
	KindPeerList           = "peer_list"
	KindNodeDown           = "node_down"
	KindCallRequest        = "call_request"
	KindCallReply          = "call_reply"
	KindCallError          = "call_error"
	KindCast               = "cast"
	KindSpawnRequest       = "spawn_request"
	KindSpawnReply         = "spawn_reply"
	KindMonitorRequest     = "monitor_request"
	KindMonitorAck         = "monitor_ack"
	KindDemonitor          = "demonitor"
	KindProcessDown        = "process_down"
	KindLinkRequest        = "link_request"
	KindLinkAck            = "link_ack"
	KindUnlink             = "unlink"
	KindExitSignal         = "exit_signal"
	KindGlobalRegister     = "global_register"
	KindGlobalRegisterAck  = "global_register_ack"
	KindGlobalUnregister   = "global_unregister"
	KindGlobalConflict     = "global_conflict"
	KindGlobalSyncRequest  = "global_sync_request"
	KindGlobalSyncReply    = "global_sync_reply"
)

// HelloBody is exchanged immediately after a TCP connection is
// established, identifying the dialing/accepting node to its peer.
type HelloBody struct {
	Node NodeID
}

// HelloAckBody completes the handshake.
type HelloAckBody struct {
	Node NodeID
}

// HeartbeatBody carries nothing but a timestamp; its arrival alone resets
// the peer's miss counter.
type HeartbeatBody struct {
	SentAt time.Time
}

// PeerListBody is exchanged on connect so both sides can gossip toward a
// full mesh, per spec.md §4.5 "Gossip".
type PeerListBody struct {
	Peers []NodeID
}

// NodeDownBody announces a graceful departure, distinguishing it from a
// heartbeat-timeout-detected failure.
type NodeDownBody struct {
	Node   NodeID
	Reason string
}

// CallRequestBody/CallReplyBody/CallErrorBody carry remote gen.Call
// traffic, per spec.md §4.6.
type CallRequestBody struct {
	ServerID  string
	TimeoutMs int64
	Msg       []byte // msgpack-encoded user message
}

type CallReplyBody struct {
	Reply []byte
}

type CallErrorBody struct {
	Kind    string
	Message string
}

// CastBody carries a remote gen.Cast.
type CastBody struct {
	ServerID string
	Msg      []byte
}

// SpawnRequestBody/SpawnReplyBody carry remote spawn, per spec.md §4.6
// "Remote spawn".
type SpawnRequestBody struct {
	Behavior     string
	Args         []byte // msgpack-encoded []interface{}
	Name         string
	RegisterKind string // "", "local", "global"
	TimeoutMs    int64
}

type SpawnReplyBody struct {
	ServerID string
	NodeID   string
	Error    *CallErrorBody
}

// MonitorRequestBody/MonitorAckBody/DemonitorBody/ProcessDownBody carry
// remote monitor setup/teardown/firing, per spec.md §4.6 "Remote
// monitor".
type MonitorRequestBody struct {
	MonitorID string
	Watcher   string
	Target    string
}

type MonitorAckBody struct {
	MonitorID string
	OK        bool
	Error     string
}

type DemonitorBody struct {
	MonitorID string
}

type ProcessDownBody struct {
	MonitorID string
	Target    string
	Reason    string
	Message   string
}

// LinkRequestBody/LinkAckBody/UnlinkBody/ExitSignalBody carry remote
// link setup/teardown/signal, per spec.md §4.6 "Remote link".
type LinkRequestBody struct {
	LinkID string
	A      string
	B      string
}

type LinkAckBody struct {
	LinkID string
	OK     bool
}

type UnlinkBody struct {
	LinkID string
}

type ExitSignalBody struct {
	LinkID  string
	From    string
	Reason  string
	Message string
}

// GlobalRegisterBody/GlobalRegisterAckBody/GlobalUnregisterBody/
// GlobalConflictBody/GlobalSyncRequestBody/GlobalSyncReplyBody carry
// global-registry traffic, per spec.md §4.7.
type GlobalRegisterBody struct {
	Name         string
	Ref          string
	RefNode      string
	RegisteredAt time.Time
	NodePriority uint32
}

type GlobalRegisterAckBody struct {
	Name string
	OK   bool
}

type GlobalUnregisterBody struct {
	Name string
}

type GlobalConflictBody struct {
	Name         string
	WinnerRef    string
	WinnerNode   string
	RegisteredAt time.Time
	NodePriority uint32
}

type GlobalEntryWire struct {
	Name         string
	Ref          string
	RefNode      string
	RegisteredAt time.Time
	NodePriority uint32
}

type GlobalSyncRequestBody struct{}

type GlobalSyncReplyBody struct {
	Entries []GlobalEntryWire
}
