package cluster

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/internal/wire"
)

// connection owns one TCP socket to a peer and its framing, circuit
// breaker and reconnect state. Grounded on rutaka-n-ergonode/registrar.go's
// `peer` type (owns a net.Conn, a write path, a retry-by-reconnect loop)
// generalized with a gobreaker.CircuitBreaker (webitel-im-delivery-service)
// around the write path and a cenkalti/backoff/v5 exponential schedule
// replacing the teacher's fixed-delay retry.
type connection struct {
	node *Node

	mu       sync.Mutex
	peerID   NodeID
	conn     net.Conn
	w        *bufio.Writer
	status   Status
	misses   int
	breaker  *gobreaker.CircuitBreaker
	graceful bool // true once a node_down was received/sent for this peer
}

func newConnection(n *Node, peerID NodeID) *connection {
	c := &connection{node: n, peerID: peerID, status: StatusConnecting}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cluster-peer-" + peerID.String(),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return c
}

func (c *connection) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.w = bufio.NewWriter(conn)
	c.status = StatusConnected
	c.misses = 0
	c.mu.Unlock()
}

func (c *connection) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *connection) getStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *connection) recordMiss() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.misses++
	return c.misses
}

func (c *connection) resetMisses() {
	c.mu.Lock()
	c.misses = 0
	c.mu.Unlock()
}

// send writes one framed envelope, guarded by the circuit breaker so a
// peer stuck mid-write fails fast for subsequent sends instead of queueing
// callers behind a dead socket.
func (c *connection) send(kind, corrID, from, to string, body interface{}) error {
	payload, err := wire.Encode(kind, corrID, from, to, body)
	if err != nil {
		return err
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn == nil {
			return nil, beamkit.New(beamkit.KindNodeNotReachable, "cluster.connection.send", "not connected").WithNode(c.peerID.String())
		}
		if err := writeFrame(c.w, payload, c.node.opts.ClusterSecret); err != nil {
			return nil, err
		}
		return nil, c.w.Flush()
	})
	if err != nil {
		return beamkit.Wrap(beamkit.KindNodeNotReachable, "cluster.connection.send", err).WithNode(c.peerID.String())
	}
	return nil
}

func (c *connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.status = StatusDisconnected
}

// readLoop consumes frames from conn until it fails, handing each decoded
// Envelope to node.dispatch. Returns once the connection drops.
func (c *connection) readLoop(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		payload, err := readFrame(r, c.node.opts.ClusterSecret)
		if err != nil {
			c.node.onConnLost(c, err)
			return
		}
		env, err := wire.Decode(payload)
		if err != nil {
			c.node.logger.Warnw("cluster: dropping undecodable frame", "peer", c.peerID.String(), "err", err)
			continue
		}
		c.node.dispatch(c, env)
	}
}

// reconnectLoop redials peerID with exponential backoff
// (reconnectBaseDelayMs..reconnectMaxDelayMs) until it succeeds or the
// peer is marked graceful/the node stops. Uses backoff.ExponentialBackOff
// purely as an interval generator (NextBackOff) rather than its Retry
// driver, since only the interval schedule — not a particular retry-loop
// shape — is what spec.md §4.5 mandates.
func (c *connection) reconnectLoop() {
	eb := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Duration(c.node.opts.ReconnectBaseDelayMs)*time.Millisecond),
		backoff.WithMaxInterval(time.Duration(c.node.opts.ReconnectMaxDelayMs)*time.Millisecond),
	)

	for {
		c.mu.Lock()
		graceful := c.graceful
		c.mu.Unlock()
		if graceful {
			return
		}

		if err := c.node.dial(c.peerID, c); err == nil {
			return
		}

		delay := eb.NextBackOff()
		if delay == backoff.Stop {
			return
		}
		select {
		case <-time.After(delay):
		case <-c.node.ctx.Done():
			return
		}
	}
}
