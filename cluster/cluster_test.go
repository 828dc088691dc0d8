package cluster_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit/cluster"
)

func startNode(t *testing.T, port int, seeds ...cluster.NodeID) *cluster.Node {
	t.Helper()
	id := cluster.NodeID{Name: "n", Host: "127.0.0.1", Port: port}
	n, err := cluster.New(cluster.Options{NodeID: id, Seeds: seeds}, nil)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func TestTwoNodesHandshakeAndSeeEachOtherConnected(t *testing.T) {
	idB := cluster.NodeID{Name: "n", Host: "127.0.0.1", Port: 19481}
	nodeB := startNode(t, 19481)
	nodeA := startNode(t, 19482, idB)

	require.Eventually(t, func() bool {
		return len(nodeA.GetConnectedNodes()) == 1 && len(nodeB.GetConnectedNodes()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, nodeB.LocalNodeID().String(), nodeA.GetConnectedNodes()[0].String())
	assert.Equal(t, nodeA.LocalNodeID().String(), nodeB.GetConnectedNodes()[0].String())
}

func TestThreeNodesFormFullMeshViaGossip(t *testing.T) {
	idSeed := cluster.NodeID{Name: "n", Host: "127.0.0.1", Port: 19491}
	seed := startNode(t, 19491)
	nodeB := startNode(t, 19492, idSeed)
	nodeC := startNode(t, 19493, idSeed)

	// B and C only know the seed at dial time; the seed's peer_list
	// gossip should let B and C opportunistically discover each other
	// without either naming the other directly.
	require.Eventually(t, func() bool {
		return len(seed.GetConnectedNodes()) == 2 &&
			len(nodeB.GetConnectedNodes()) == 2 &&
			len(nodeC.GetConnectedNodes()) == 2
	}, 10*time.Second, 50*time.Millisecond)
}

func TestNodeDownFiresOnUnexpectedDisconnect(t *testing.T) {
	idB := cluster.NodeID{Name: "n", Host: "127.0.0.1", Port: 19501}
	nodeB := startNode(t, 19501)
	nodeA := startNode(t, 19502, idB)

	require.Eventually(t, func() bool {
		return len(nodeA.GetConnectedNodes()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	events := make(chan cluster.Event, 8)
	unsub := nodeA.Subscribe(func(ev cluster.Event) { events <- ev })
	defer unsub()

	require.NoError(t, nodeB.Stop())

	// statusChange is published ahead of nodeDown; wait for the nodeDown.
	deadline := time.After(5 * time.Second)
	for {
		var ev cluster.Event
		select {
		case ev = <-events:
		case <-deadline:
			t.Fatal("expected nodeDown event within timeout")
		}
		if ev.Kind != cluster.EventNodeDown {
			continue
		}
		assert.Equal(t, cluster.EventNodeDown, ev.Kind)
		assert.Equal(t, nodeB.LocalNodeID().String(), ev.Node.String())
		break
	}

	assert.Eventually(t, func() bool {
		return len(nodeA.GetConnectedNodes()) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestParseNodeIDRoundTrip(t *testing.T) {
	id, err := cluster.ParseNodeID("worker@10.0.0.5:4369")
	require.NoError(t, err)
	assert.Equal(t, "worker", id.Name)
	assert.Equal(t, "10.0.0.5", id.Host)
	assert.Equal(t, 4369, id.Port)
	assert.Equal(t, "worker@10.0.0.5:4369", id.String())
	assert.Equal(t, "10.0.0.5:4369", id.Addr())
}

func TestParseNodeIDRejectsMalformed(t *testing.T) {
	cases := []string{"", "noat", "name@", "name@host", "name@host:notaport"}
	for _, c := range cases {
		_, err := cluster.ParseNodeID(c)
		assert.Error(t, err, "expected error for %q", c)
	}
}
