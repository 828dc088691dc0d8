package cluster

import "time"

// heartbeatLoop broadcasts a heartbeat to every connected peer every
// heartbeatIntervalMs, per spec.md §4.5 "Heartbeats and failure
// detection". Runs for the lifetime of the Node.
func (n *Node) heartbeatLoop() {
	interval := time.Duration(n.opts.HeartbeatIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.broadcastHeartbeat()
			n.checkMissedHeartbeats()
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Node) broadcastHeartbeat() {
	body := HeartbeatBody{SentAt: time.Now()}
	for _, c := range n.connectedPeers() {
		if err := c.send(KindHeartbeat, "", n.opts.NodeID.String(), c.peerID.String(), body); err != nil {
			n.logger.Debugw("cluster: heartbeat send failed", "peer", c.peerID.String(), "err", err)
		}
	}
}

// checkMissedHeartbeats marks any peer that has missed
// heartbeatMissThreshold consecutive heartbeats as disconnected with
// reason "heartbeat_timeout".
func (n *Node) checkMissedHeartbeats() {
	for _, c := range n.connectedPeers() {
		if c.recordMiss() >= n.opts.HeartbeatMissThreshold {
			n.logger.Warnw("cluster: peer missed heartbeat threshold", "peer", c.peerID.String())
			n.onPeerUnreachable(c, "heartbeat_timeout")
		}
	}
}

// onHeartbeat resets the miss counter for the connection that just
// delivered a heartbeat frame.
func (n *Node) onHeartbeat(c *connection) {
	c.resetMisses()
}
