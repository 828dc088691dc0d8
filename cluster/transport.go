package cluster

import (
	"net"

	"github.com/pkg/errors"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/internal/wire"
)

// listen opens n's configured host:port and accepts incoming peer
// connections for the lifetime of the Node.
func (n *Node) listen() error {
	addr := n.opts.NodeID.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return beamkit.Wrap(beamkit.KindInvalidClusterConf, "cluster.listen", errors.Wrapf(err, "listen %s", addr))
	}
	n.listener = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return // listener closed on Stop
			}
			go n.acceptConn(conn)
		}
	}()
	return nil
}

// acceptConn performs the passive half of the hello handshake for an
// inbound connection, then hands it to a connection's read loop.
func (n *Node) acceptConn(conn net.Conn) {
	payload, err := readFrame(conn, n.opts.ClusterSecret)
	if err != nil {
		conn.Close()
		return
	}
	env, err := wire.Decode(payload)
	if err != nil || env.Kind != KindHello {
		conn.Close()
		return
	}
	var hello HelloBody
	if err := env.DecodeBody(&hello); err != nil {
		conn.Close()
		return
	}

	ack, err := wire.Encode(KindHelloAck, "", n.opts.NodeID.String(), hello.Node.String(), HelloAckBody{Node: n.opts.NodeID})
	if err != nil {
		conn.Close()
		return
	}
	if err := writeFrame(conn, ack, n.opts.ClusterSecret); err != nil {
		conn.Close()
		return
	}

	c := n.registerConnection(hello.Node, conn)
	n.afterConnected(c)
	c.readLoop(conn)
}

// dial performs the active half of the hello handshake against peerID,
// reusing c's bookkeeping if provided (a reconnect) or creating a fresh
// connection otherwise.
func (n *Node) dial(peerID NodeID, c *connection) error {
	conn, err := net.DialTimeout("tcp", peerID.Addr(), n.opts.DialTimeout)
	if err != nil {
		return beamkit.Wrap(beamkit.KindNodeNotReachable, "cluster.dial", err).WithNode(peerID.String())
	}

	payload, err := wire.Encode(KindHello, "", n.opts.NodeID.String(), peerID.String(), HelloBody{Node: n.opts.NodeID})
	if err != nil {
		conn.Close()
		return err
	}
	if err := writeFrame(conn, payload, n.opts.ClusterSecret); err != nil {
		conn.Close()
		return err
	}

	reply, err := readFrame(conn, n.opts.ClusterSecret)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "hello handshake")
	}
	env, err := wire.Decode(reply)
	if err != nil || env.Kind != KindHelloAck {
		conn.Close()
		return beamkit.New(beamkit.KindNodeNotReachable, "cluster.dial", "bad handshake reply").WithNode(peerID.String())
	}

	if c == nil {
		c = n.registerConnection(peerID, conn)
	} else {
		c.setConn(conn)
	}
	n.afterConnected(c)
	go c.readLoop(conn)
	return nil
}

// connectTo dials peerID for the first time (gossip-discovered peer),
// registering a fresh connection and kicking off its reconnect loop if
// the initial dial fails.
func (n *Node) connectTo(peerID NodeID) {
	if err := n.dial(peerID, nil); err != nil {
		n.logger.Debugw("cluster: initial dial failed, will retry", "peer", peerID.String(), "err", err)
		c := n.registerPendingConnection(peerID)
		go c.reconnectLoop()
	}
}
