package remote

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/cluster"
	"github.com/nodecrew/beamkit/internal/wire"
)

// Call performs a remote gen.Call against serverID on peer, per spec.md
// §4.6 "Remote call". Reply ordering is per-call, not per-sender;
// concurrent calls to the same peer may reply out of order, which the
// correlation table already accommodates by keying on a fresh call id.
func (m *Manager) Call(ctx context.Context, peer cluster.NodeID, serverID string, msg interface{}, timeout time.Duration) (interface{}, error) {
	encoded, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, beamkit.Wrap(beamkit.KindMessageSerialization, "remote.Call", err)
	}

	callID := newCorrelationID()
	p := m.calls.register(callID, peer.String())
	defer m.calls.drop(callID)

	body := cluster.CallRequestBody{ServerID: serverID, TimeoutMs: timeout.Milliseconds(), Msg: encoded}
	if err := m.node.Send(peer, cluster.KindCallRequest, callID, body); err != nil {
		return nil, beamkit.Wrap(beamkit.KindNodeNotReachable, "remote.Call", err).WithNode(peer.String())
	}

	return await(ctx, p, timeout, beamkit.KindRemoteCallTimeout, "remote.Call")
}

func (m *Manager) handleCallRequest(from cluster.NodeID, env wire.Envelope) {
	var body cluster.CallRequestBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}

	handle, ok := m.rt.Resolve(body.ServerID)
	if !ok {
		handle = beamkit.Handle{ID: body.ServerID}
	}

	var userMsg interface{}
	if err := msgpack.Unmarshal(body.Msg, &userMsg); err != nil {
		_ = m.node.Send(from, cluster.KindCallError, env.CorrID, cluster.CallErrorBody{
			Kind: string(beamkit.KindMessageSerialization), Message: err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(body.TimeoutMs)*time.Millisecond)
	defer cancel()

	reply, err := m.rt.Call(ctx, handle, userMsg, time.Duration(body.TimeoutMs)*time.Millisecond)
	if err != nil {
		kind, _ := beamkit.KindOf(err)
		if kind == "" {
			kind = beamkit.KindRemoteServerNotRunning
		}
		_ = m.node.Send(from, cluster.KindCallError, env.CorrID, cluster.CallErrorBody{
			Kind: string(kind), Message: err.Error(),
		})
		return
	}

	encoded, err := msgpack.Marshal(reply)
	if err != nil {
		_ = m.node.Send(from, cluster.KindCallError, env.CorrID, cluster.CallErrorBody{
			Kind: string(beamkit.KindMessageSerialization), Message: err.Error(),
		})
		return
	}
	_ = m.node.Send(from, cluster.KindCallReply, env.CorrID, cluster.CallReplyBody{Reply: encoded})
}

func (m *Manager) handleCallReply(from cluster.NodeID, env wire.Envelope) {
	var body cluster.CallReplyBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	var reply interface{}
	if err := msgpack.Unmarshal(body.Reply, &reply); err != nil {
		m.calls.complete(env.CorrID, nil, beamkit.Wrap(beamkit.KindMessageSerialization, "remote.Call", err))
		return
	}
	m.calls.complete(env.CorrID, reply, nil)
}

func (m *Manager) handleCallError(from cluster.NodeID, env wire.Envelope) {
	var body cluster.CallErrorBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	m.calls.complete(env.CorrID, nil, beamkit.New(beamkit.Kind(body.Kind), "remote.Call", body.Message))
}
