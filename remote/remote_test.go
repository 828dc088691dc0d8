package remote_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/cluster"
	"github.com/nodecrew/beamkit/gen"
	"github.com/nodecrew/beamkit/remote"
)

type echoServer struct {
	casts chan interface{}
}

func (s *echoServer) Init(args ...interface{}) (interface{}, error) { return nil, nil }
func (s *echoServer) HandleCall(state interface{}, from gen.From, msg interface{}) (interface{}, interface{}, gen.Status) {
	return msg, state, gen.StatusOK
}
func (s *echoServer) HandleCast(state interface{}, msg interface{}) (interface{}, gen.Status) {
	if s.casts != nil {
		s.casts <- msg
	}
	return state, gen.StatusOK
}

func newEchoFactory(casts chan interface{}) remote.Factory {
	return func(args ...interface{}) gen.Behavior { return &echoServer{casts: casts} }
}

type pair struct {
	nodeA, nodeB *cluster.Node
	rtA, rtB     *gen.Runtime
	mgrA, mgrB   *remote.Manager
}

func newPair(t *testing.T, portA, portB int, casts chan interface{}) pair {
	t.Helper()
	idA := cluster.NodeID{Name: "a", Host: "127.0.0.1", Port: portA}
	idB := cluster.NodeID{Name: "b", Host: "127.0.0.1", Port: portB}

	nodeA, err := cluster.New(cluster.Options{NodeID: idA, Seeds: []cluster.NodeID{idB}}, nil)
	require.NoError(t, err)
	nodeB, err := cluster.New(cluster.Options{NodeID: idB}, nil)
	require.NoError(t, err)

	rtA := gen.New(idA.String(), nil)
	rtB := gen.New(idB.String(), nil)

	catalogA := remote.NewCatalog()
	catalogB := remote.NewCatalog()
	catalogB.Register("echo", newEchoFactory(casts))

	mgrA := remote.NewManager(nodeA, rtA, catalogA, nil)
	mgrB := remote.NewManager(nodeB, rtB, catalogB, nil)

	require.NoError(t, nodeB.Start())
	require.NoError(t, nodeA.Start())

	require.Eventually(t, func() bool {
		return len(nodeA.GetConnectedNodes()) == 1 && len(nodeB.GetConnectedNodes()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	t.Cleanup(func() {
		_ = nodeA.Stop()
		_ = nodeB.Stop()
	})

	return pair{nodeA: nodeA, nodeB: nodeB, rtA: rtA, rtB: rtB, mgrA: mgrA, mgrB: mgrB}
}

func TestRemoteSpawnCallCastRoundTrip(t *testing.T) {
	casts := make(chan interface{}, 1)
	p := newPair(t, 19511, 19512, casts)

	result, err := p.mgrA.Spawn(context.Background(), p.nodeB.LocalNodeID(), "echo", nil, remote.SpawnOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Handle.ID)
	assert.Equal(t, p.nodeB.LocalNodeID().String(), result.Handle.NodeID)

	reply, err := p.mgrA.Call(context.Background(), p.nodeB.LocalNodeID(), result.Handle.ID, "ping", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", reply)

	require.NoError(t, p.mgrA.Cast(p.nodeB.LocalNodeID(), result.Handle.ID, "fire-and-forget"))
	select {
	case msg := <-casts:
		assert.Equal(t, "fire-and-forget", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("expected cast delivery within timeout")
	}
}

func TestRemoteSpawnUnknownBehaviorFails(t *testing.T) {
	p := newPair(t, 19521, 19522, nil)
	_, err := p.mgrA.Spawn(context.Background(), p.nodeB.LocalNodeID(), "does-not-exist", nil, remote.SpawnOptions{})
	require.Error(t, err)
	kind, ok := beamkit.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, beamkit.KindBehaviorNotFound, kind)
}

func TestRemoteMonitorFiresOnRemoteExit(t *testing.T) {
	p := newPair(t, 19531, 19532, nil)

	result, err := p.mgrA.Spawn(context.Background(), p.nodeB.LocalNodeID(), "echo", nil, remote.SpawnOptions{})
	require.NoError(t, err)

	watcher, err := p.rtA.Start(&echoServer{})
	require.NoError(t, err)

	monitorID, err := p.mgrA.Monitor(context.Background(), p.nodeB.LocalNodeID(), watcher, result.Handle)
	require.NoError(t, err)
	assert.NotEmpty(t, monitorID)

	down := make(chan gen.Event, 1)
	p.rtA.Subscribe(func(ev gen.Event) {
		if ev.Kind == gen.EventProcessDown && ev.DownWatcher == watcher {
			down <- ev
		}
	})

	require.NoError(t, p.rtB.Stop(result.Handle, gen.ReasonShutdown))

	select {
	case ev := <-down:
		assert.Equal(t, result.Handle, ev.Down.MonitoredRef)
	case <-time.After(5 * time.Second):
		t.Fatal("expected process_down within timeout")
	}
}

func TestRemoteMonitorFiresNoconnectionOnNodeDown(t *testing.T) {
	p := newPair(t, 19541, 19542, nil)

	result, err := p.mgrA.Spawn(context.Background(), p.nodeB.LocalNodeID(), "echo", nil, remote.SpawnOptions{})
	require.NoError(t, err)

	watcher, err := p.rtA.Start(&echoServer{})
	require.NoError(t, err)

	_, err = p.mgrA.Monitor(context.Background(), p.nodeB.LocalNodeID(), watcher, result.Handle)
	require.NoError(t, err)

	down := make(chan gen.Event, 1)
	p.rtA.Subscribe(func(ev gen.Event) {
		if ev.Kind == gen.EventProcessDown && ev.DownWatcher == watcher {
			down <- ev
		}
	})

	require.NoError(t, p.nodeB.Stop())

	select {
	case ev := <-down:
		assert.Equal(t, gen.ReasonNoconnection, ev.Down.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("expected noconnection process_down within timeout")
	}
}
