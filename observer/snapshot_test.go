package observer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit/gen"
	"github.com/nodecrew/beamkit/observer"
	"github.com/nodecrew/beamkit/supervisor"
)

type nopBehavior struct{}

func (nopBehavior) Init(args ...interface{}) (interface{}, error) { return nil, nil }
func (nopBehavior) HandleCall(state interface{}, from gen.From, msg interface{}) (interface{}, interface{}, gen.Status) {
	return nil, state, gen.StatusOK
}
func (nopBehavior) HandleCast(state interface{}, msg interface{}) (interface{}, gen.Status) {
	return state, gen.StatusOK
}

func TestTakeSnapshotReflectsRunningProcessesAndSupervisors(t *testing.T) {
	rt := gen.New("observer-test-node", nil)

	h, err := rt.Start(nopBehavior{}, gen.WithName("standalone-worker"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop(h, gen.ReasonShutdown) })

	sup, err := supervisor.Start(rt, supervisor.Options{
		Name:     "observed-sup",
		Strategy: supervisor.OneForOne,
		Children: []supervisor.ChildSpec{
			{ID: "child-1", Factory: func(args ...interface{}) gen.Behavior { return nopBehavior{} }, Restart: supervisor.Permanent},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Stop() })

	snap := observer.Take(observer.Source{
		Runtime:     rt,
		Supervisors: map[string]*supervisor.Supervisor{"observed-sup": sup},
	})

	assert.False(t, snap.TakenAt.IsZero())
	assert.GreaterOrEqual(t, snap.TotalCount, 1)

	var foundWorker bool
	for _, s := range snap.Servers {
		if s.Name == "standalone-worker" {
			foundWorker = true
		}
	}
	assert.True(t, foundWorker, "expected standalone-worker in snapshot servers")

	require.Len(t, snap.Supervisors, 1)
	assert.Equal(t, "observed-sup", snap.Supervisors[0].ID)
	require.Len(t, snap.Supervisors[0].Children, 1)
	assert.Equal(t, "child-1", snap.Supervisors[0].Children[0].ID)

	assert.Greater(t, snap.Memory.SysBytes, uint64(0))
	assert.Greater(t, snap.Memory.NumGoroutine, 0)
}

func TestTakeSnapshotWithNoSupervisorsStillReportsMemory(t *testing.T) {
	rt := gen.New("observer-test-node-2", nil)
	snap := observer.Take(observer.Source{Runtime: rt})

	assert.Equal(t, 0, snap.TotalCount)
	assert.Empty(t, snap.Servers)
	assert.Empty(t, snap.Supervisors)
	assert.Greater(t, snap.Memory.SysBytes, uint64(0))
}
