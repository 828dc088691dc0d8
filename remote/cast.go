package remote

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/cluster"
	"github.com/nodecrew/beamkit/internal/wire"
)

// Cast delivers msg to serverID on peer best-effort, per spec.md §4.6
// "Remote cast": silently dropped if the peer is unreachable, never
// blocks on a reply.
func (m *Manager) Cast(peer cluster.NodeID, serverID string, msg interface{}) error {
	encoded, err := msgpack.Marshal(msg)
	if err != nil {
		return beamkit.Wrap(beamkit.KindMessageSerialization, "remote.Cast", err)
	}
	body := cluster.CastBody{ServerID: serverID, Msg: encoded}
	if err := m.node.Send(peer, cluster.KindCast, "", body); err != nil {
		m.logger.Debugw("remote: cast dropped, peer unreachable", "peer", peer.String(), "err", err)
		return nil
	}
	return nil
}

func (m *Manager) handleCast(from cluster.NodeID, env wire.Envelope) {
	var body cluster.CastBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	handle, ok := m.rt.Resolve(body.ServerID)
	if !ok {
		handle = beamkit.Handle{ID: body.ServerID}
	}
	var userMsg interface{}
	if err := msgpack.Unmarshal(body.Msg, &userMsg); err != nil {
		return
	}
	_ = m.rt.Cast(handle, userMsg)
}
