package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/gen"
	"github.com/nodecrew/beamkit/supervisor"
)

type worker struct {
	crashOnCall bool
}

func (w *worker) Init(args ...interface{}) (interface{}, error) {
	return 0, nil
}

func (w *worker) HandleCall(state interface{}, from gen.From, msg interface{}) (interface{}, interface{}, gen.Status) {
	if msg == "crash" {
		return nil, state, gen.StatusStopWithReason("boom")
	}
	return state, state, gen.StatusOK
}

func (w *worker) HandleCast(state interface{}, msg interface{}) (interface{}, gen.Status) {
	return state, gen.StatusOK
}

func workerFactory(args ...interface{}) gen.Behavior {
	return &worker{}
}

func TestOneForOneRestartsOnlyFailedChild(t *testing.T) {
	rt := gen.New("node1", nil)

	sup, err := supervisor.Start(rt, supervisor.Options{
		Strategy: supervisor.OneForOne,
		Children: []supervisor.ChildSpec{
			{ID: "a", Factory: workerFactory, Restart: supervisor.Permanent},
			{ID: "b", Factory: workerFactory, Restart: supervisor.Permanent},
		},
	})
	require.NoError(t, err)

	children, err := sup.Children()
	require.NoError(t, err)
	require.Len(t, children, 2)

	var aHandle beamkit.Handle
	for _, c := range children {
		if c.ID == "a" {
			aHandle = c.Handle
		}
	}

	_, _ = rt.Call(context.Background(), aHandle, "crash", time.Second)

	assert.Eventually(t, func() bool {
		children, err := sup.Children()
		if err != nil {
			return false
		}
		for _, c := range children {
			if c.ID == "a" && c.Alive && c.Handle != aHandle {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestSimpleOneForOneDynamicChildren(t *testing.T) {
	rt := gen.New("node1", nil)

	sup, err := supervisor.Start(rt, supervisor.Options{
		Strategy:      supervisor.SimpleOneForOne,
		ChildTemplate: &supervisor.ChildSpec{Factory: workerFactory, Restart: supervisor.Temporary},
	})
	require.NoError(t, err)

	require.NoError(t, sup.StartChild(supervisor.ChildSpec{}))
	require.NoError(t, sup.StartChild(supervisor.ChildSpec{}))

	children, err := sup.Children()
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestInvalidSimpleOneForOneConfig(t *testing.T) {
	rt := gen.New("node1", nil)

	_, err := supervisor.Start(rt, supervisor.Options{
		Strategy: supervisor.SimpleOneForOne,
		Children: []supervisor.ChildSpec{{ID: "a", Factory: workerFactory}},
	})
	require.Error(t, err)
	kind, _ := beamkit.KindOf(err)
	assert.Equal(t, beamkit.KindInvalidSimpleOneForOne, kind)
}

func TestDuplicateChildID(t *testing.T) {
	rt := gen.New("node1", nil)

	sup, err := supervisor.Start(rt, supervisor.Options{
		Strategy: supervisor.OneForOne,
		Children: []supervisor.ChildSpec{{ID: "a", Factory: workerFactory}},
	})
	require.NoError(t, err)

	err = sup.StartChild(supervisor.ChildSpec{ID: "a", Factory: workerFactory})
	require.Error(t, err)
	kind, _ := beamkit.KindOf(err)
	assert.Equal(t, beamkit.KindDuplicateChild, kind)
}
