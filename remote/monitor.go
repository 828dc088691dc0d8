package remote

import (
	"context"
	"time"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/cluster"
	"github.com/nodecrew/beamkit/gen"
	"github.com/nodecrew/beamkit/internal/wire"
)

const monitorSetupTimeout = 5 * time.Second

// Monitor installs a remote monitor: watcher (local) watches target
// (hosted on peer), per spec.md §4.6 "Remote monitor" — "Setup is
// request/ack; once established, a process_down event originates on the
// node hosting the target and is forwarded to the watcher's node."
func (m *Manager) Monitor(ctx context.Context, peer cluster.NodeID, watcher, target beamkit.Handle) (string, error) {
	monitorID := newCorrelationID()
	p := m.monitors.register(monitorID, peer.String())
	defer m.monitors.drop(monitorID)

	body := cluster.MonitorRequestBody{MonitorID: monitorID, Watcher: watcher.String(), Target: target.ID}
	if err := m.node.Send(peer, cluster.KindMonitorRequest, monitorID, body); err != nil {
		return "", beamkit.Wrap(beamkit.KindNodeNotReachable, "remote.Monitor", err).WithNode(peer.String())
	}

	if _, err := await(ctx, p, monitorSetupTimeout, beamkit.KindRemoteMonitorTimeout, "remote.Monitor"); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.remoteMonitors[monitorID] = remoteMonitorState{watcher: watcher, target: target}
	m.mu.Unlock()

	return monitorID, nil
}

// Demonitor tears an established remote monitor down on both sides.
func (m *Manager) Demonitor(peer cluster.NodeID, monitorID string) {
	m.mu.Lock()
	delete(m.remoteMonitors, monitorID)
	m.mu.Unlock()
	_ = m.node.Send(peer, cluster.KindDemonitor, "", cluster.DemonitorBody{MonitorID: monitorID})
}

func (m *Manager) handleMonitorRequest(from cluster.NodeID, env wire.Envelope) {
	var body cluster.MonitorRequestBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}

	target, ok := m.rt.Resolve(body.Target)
	if !ok {
		target = beamkit.Handle{ID: body.Target}
	}

	// The watcher lives on the requesting node; model it locally as a
	// handle tagged with that node id purely for bookkeeping symmetry
	// with the local monitor tables — it is never looked up in rt.
	watcherHandle := beamkit.Handle{ID: body.Watcher, NodeID: from.String()}

	var sub *gen.Subscription
	sub = m.rt.Subscribe(func(ev gen.Event) {
		if ev.Kind != gen.EventProcessDown || ev.Down.MonitoredRef != target || ev.DownWatcher.ID != "" {
			return
		}
		m.forwardProcessDown(body.MonitorID, from, ev.Down.Reason)
		sub.Unsubscribe()
	})

	if _, err := m.rt.MonitorProcess(beamkit.Handle{}, target); err != nil {
		sub.Unsubscribe()
		_ = m.node.Send(from, cluster.KindMonitorAck, env.CorrID, cluster.MonitorAckBody{MonitorID: body.MonitorID, OK: false, Error: err.Error()})
		return
	}

	m.mu.Lock()
	m.remoteMonitors[body.MonitorID] = remoteMonitorState{watcher: watcherHandle, target: target}
	m.mu.Unlock()

	_ = m.node.Send(from, cluster.KindMonitorAck, env.CorrID, cluster.MonitorAckBody{MonitorID: body.MonitorID, OK: true})
}

// forwardProcessDown sends the process_down notification to the node
// that originally issued the remote monitor request.
func (m *Manager) forwardProcessDown(monitorID string, to cluster.NodeID, reason gen.Reason) {
	m.mu.Lock()
	delete(m.remoteMonitors, monitorID)
	m.mu.Unlock()
	_ = m.node.Send(to, cluster.KindProcessDown, "", cluster.ProcessDownBody{
		MonitorID: monitorID, Reason: reason.Kind, Message: reason.Message,
	})
}

func (m *Manager) handleMonitorAck(from cluster.NodeID, env wire.Envelope) {
	var body cluster.MonitorAckBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	if !body.OK {
		m.monitors.complete(env.CorrID, nil, beamkit.New(beamkit.KindRemoteMonitorTimeout, "remote.Monitor", body.Error))
		return
	}
	m.monitors.complete(env.CorrID, nil, nil)
}

func (m *Manager) handleDemonitor(from cluster.NodeID, env wire.Envelope) {
	var body cluster.DemonitorBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	m.mu.Lock()
	delete(m.remoteMonitors, body.MonitorID)
	m.mu.Unlock()
}

func (m *Manager) handleProcessDown(from cluster.NodeID, env wire.Envelope) {
	var body cluster.ProcessDownBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	m.mu.Lock()
	st, ok := m.remoteMonitors[body.MonitorID]
	delete(m.remoteMonitors, body.MonitorID)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.deliverLocalDown(st.watcher, st.target, gen.Reason{Kind: body.Reason, Message: body.Message})
}
