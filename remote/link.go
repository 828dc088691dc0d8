package remote

import (
	"context"
	"time"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/cluster"
	"github.com/nodecrew/beamkit/gen"
	"github.com/nodecrew/beamkit/internal/wire"
)

const linkSetupTimeout = 5 * time.Second

// Link installs a bidirectional remote link between local (on this node)
// and remote (on peer), per spec.md §4.6 "Remote link": "Setup handshake
// registers the link on both nodes."
func (m *Manager) Link(ctx context.Context, peer cluster.NodeID, local, remote beamkit.Handle) (string, error) {
	linkID := newCorrelationID()
	p := m.links.register(linkID, peer.String())
	defer m.links.drop(linkID)

	body := cluster.LinkRequestBody{LinkID: linkID, A: local.String(), B: remote.ID}
	if err := m.node.Send(peer, cluster.KindLinkRequest, linkID, body); err != nil {
		return "", beamkit.Wrap(beamkit.KindNodeNotReachable, "remote.Link", err).WithNode(peer.String())
	}

	if _, err := await(ctx, p, linkSetupTimeout, beamkit.KindRemoteLinkTimeout, "remote.Link"); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.remoteLinks[linkID] = remoteLinkState{local: local, remote: remote}
	m.mu.Unlock()
	return linkID, nil
}

// Unlink tears a remote link down on both sides.
func (m *Manager) Unlink(peer cluster.NodeID, linkID string) {
	m.mu.Lock()
	delete(m.remoteLinks, linkID)
	m.mu.Unlock()
	_ = m.node.Send(peer, cluster.KindUnlink, "", cluster.UnlinkBody{LinkID: linkID})
}

func (m *Manager) handleLinkRequest(from cluster.NodeID, env wire.Envelope) {
	var body cluster.LinkRequestBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}

	target, ok := m.rt.Resolve(body.B)
	if !ok {
		target = beamkit.Handle{ID: body.B}
	}
	remoteHandle := beamkit.Handle{ID: body.A, NodeID: from.String()}

	var sub *gen.Subscription
	sub = m.rt.Subscribe(func(ev gen.Event) {
		if ev.Kind != gen.EventProcessDown || ev.Down.MonitoredRef != target || ev.DownWatcher.ID != "" {
			return
		}
		if ev.Down.Reason.Abnormal() {
			_ = m.node.Send(from, cluster.KindExitSignal, "", cluster.ExitSignalBody{
				LinkID: body.LinkID, Reason: ev.Down.Reason.Kind, Message: ev.Down.Reason.Message,
			})
		}
		m.mu.Lock()
		delete(m.remoteLinks, body.LinkID)
		m.mu.Unlock()
		sub.Unsubscribe()
	})

	if _, err := m.rt.MonitorProcess(beamkit.Handle{}, target); err != nil {
		sub.Unsubscribe()
		_ = m.node.Send(from, cluster.KindLinkAck, env.CorrID, cluster.LinkAckBody{LinkID: body.LinkID, OK: false})
		return
	}

	m.mu.Lock()
	m.remoteLinks[body.LinkID] = remoteLinkState{local: target, remote: remoteHandle}
	m.mu.Unlock()

	_ = m.node.Send(from, cluster.KindLinkAck, env.CorrID, cluster.LinkAckBody{LinkID: body.LinkID, OK: true})
}

func (m *Manager) handleLinkAck(from cluster.NodeID, env wire.Envelope) {
	var body cluster.LinkAckBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	if !body.OK {
		m.links.complete(env.CorrID, nil, beamkit.New(beamkit.KindRemoteLinkTimeout, "remote.Link", "peer declined link"))
		return
	}
	m.links.complete(env.CorrID, nil, nil)
}

func (m *Manager) handleUnlink(from cluster.NodeID, env wire.Envelope) {
	var body cluster.UnlinkBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	m.mu.Lock()
	delete(m.remoteLinks, body.LinkID)
	m.mu.Unlock()
}

// handleExitSignal delivers an abnormal remote exit to the local half of
// a link, respecting trapExit exactly as a local link would, per spec.md
// §4.6 "If the peer has trapExit, it receives an info message ... ;
// otherwise it is force-terminated with the same reason."
func (m *Manager) handleExitSignal(from cluster.NodeID, env wire.Envelope) {
	var body cluster.ExitSignalBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	m.mu.Lock()
	st, ok := m.remoteLinks[body.LinkID]
	delete(m.remoteLinks, body.LinkID)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.deliverLocalExit(st.local, st.remote, gen.Reason{Kind: body.Reason, Message: body.Message})
}
