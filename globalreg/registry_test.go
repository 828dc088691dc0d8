package globalreg_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/cluster"
	"github.com/nodecrew/beamkit/globalreg"
)

func twoRegistries(t *testing.T, portA, portB int) (*cluster.Node, *globalreg.Registry, *cluster.Node, *globalreg.Registry) {
	t.Helper()
	idA := cluster.NodeID{Name: "a", Host: "127.0.0.1", Port: portA}
	idB := cluster.NodeID{Name: "b", Host: "127.0.0.1", Port: portB}

	nodeA, err := cluster.New(cluster.Options{NodeID: idA, Seeds: []cluster.NodeID{idB}}, nil)
	require.NoError(t, err)
	nodeB, err := cluster.New(cluster.Options{NodeID: idB}, nil)
	require.NoError(t, err)

	regA := globalreg.New(nodeA, nil)
	regB := globalreg.New(nodeB, nil)

	require.NoError(t, nodeB.Start())
	require.NoError(t, nodeA.Start())

	require.Eventually(t, func() bool {
		return len(nodeA.GetConnectedNodes()) == 1 && len(nodeB.GetConnectedNodes()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	t.Cleanup(func() {
		_ = nodeA.Stop()
		_ = nodeB.Stop()
	})

	return nodeA, regA, nodeB, regB
}

func TestGlobalRegisterPropagatesToPeerMirror(t *testing.T) {
	nodeA, regA, _, regB := twoRegistries(t, 19551, 19552)

	ref := beamkit.Handle{ID: "worker-1", NodeID: nodeA.LocalNodeID().String()}
	require.NoError(t, regA.Register("pool.worker", ref))

	require.Eventually(t, func() bool {
		return regB.IsRegistered("pool.worker")
	}, 5*time.Second, 20*time.Millisecond)

	got, ok := regB.Whereis("pool.worker")
	require.True(t, ok)
	assert.Equal(t, ref, got)
}

func TestGlobalSyncOnNodeUpConvergesExistingEntries(t *testing.T) {
	idA := cluster.NodeID{Name: "a", Host: "127.0.0.1", Port: 19561}
	idB := cluster.NodeID{Name: "b", Host: "127.0.0.1", Port: 19562}

	nodeA, err := cluster.New(cluster.Options{NodeID: idA}, nil)
	require.NoError(t, err)
	nodeB, err := cluster.New(cluster.Options{NodeID: idB, Seeds: []cluster.NodeID{idA}}, nil)
	require.NoError(t, err)

	regA := globalreg.New(nodeA, nil)
	regB := globalreg.New(nodeB, nil)

	require.NoError(t, nodeA.Start())

	ref := beamkit.Handle{ID: "pre-existing", NodeID: nodeA.LocalNodeID().String()}
	require.NoError(t, regA.Register("pool.leader", ref))

	// B joins after the registration already exists on A; the nodeUp sync
	// round trip (not the incremental register broadcast) is what must
	// carry the entry to B's mirror.
	require.NoError(t, nodeB.Start())
	t.Cleanup(func() {
		_ = nodeA.Stop()
		_ = nodeB.Stop()
	})

	require.Eventually(t, func() bool {
		return regB.IsRegistered("pool.leader")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestGlobalRegisterConflictResolvesDeterministically(t *testing.T) {
	nodeA, regA, nodeB, regB := twoRegistries(t, 19571, 19572)

	refA := beamkit.Handle{ID: "claimant-a", NodeID: nodeA.LocalNodeID().String()}
	refB := beamkit.Handle{ID: "claimant-b", NodeID: nodeB.LocalNodeID().String()}

	// A registers first and its broadcast reaches B before B attempts its
	// own claim, so B's local Register call sees an already-won entry and
	// fails immediately rather than racing a cross-node broadcast.
	require.NoError(t, regA.Register("singleton.leader", refA))
	require.Eventually(t, func() bool { return regB.IsRegistered("singleton.leader") }, 5*time.Second, 20*time.Millisecond)

	err := regB.Register("singleton.leader", refB)
	require.Error(t, err)
	kind, ok := beamkit.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, beamkit.KindGlobalNameConflict, kind)

	got, ok := regA.Whereis("singleton.leader")
	require.True(t, ok)
	assert.Equal(t, refA, got)
}

func TestGlobalRegistryRemovesEntriesOwnedByDownedNode(t *testing.T) {
	nodeA, regA, nodeB, regB := twoRegistries(t, 19581, 19582)

	ref := beamkit.Handle{ID: "ephemeral", NodeID: nodeB.LocalNodeID().String()}
	require.NoError(t, regB.Register("ephemeral.name", ref))

	require.Eventually(t, func() bool {
		return regA.IsRegistered("ephemeral.name")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, nodeB.Stop())

	require.Eventually(t, func() bool {
		return !regA.IsRegistered("ephemeral.name")
	}, 5*time.Second, 20*time.Millisecond)
}
