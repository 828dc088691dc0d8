package gen_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/gen"
)

type counter struct {
	infos []interface{}
}

type incr struct{ by int }
type get struct{}
type setAndReply struct{ v int }

func (c *counter) Init(args ...interface{}) (interface{}, error) {
	if len(args) == 1 {
		if n, ok := args[0].(int); ok {
			return n, nil
		}
	}
	return 0, nil
}

func (c *counter) HandleCall(state interface{}, from gen.From, msg interface{}) (interface{}, interface{}, gen.Status) {
	n := state.(int)
	switch m := msg.(type) {
	case get:
		return n, n, gen.StatusOK
	case setAndReply:
		return m.v, m.v, gen.StatusOK
	case string:
		if m == "stop" {
			return "bye", n, gen.StatusStop
		}
	}
	return nil, n, gen.StatusIgnore
}

func (c *counter) HandleCast(state interface{}, msg interface{}) (interface{}, gen.Status) {
	n := state.(int)
	if m, ok := msg.(incr); ok {
		return n + m.by, gen.StatusOK
	}
	return n, gen.StatusOK
}

func (c *counter) HandleInfo(state interface{}, msg interface{}) (interface{}, gen.Status) {
	c.infos = append(c.infos, msg)
	return state, gen.StatusOK
}

func TestStartCallCast(t *testing.T) {
	rt := gen.New("node1", nil)
	h, err := rt.Start(&counter{}, gen.WithArgs(10))
	require.NoError(t, err)

	require.NoError(t, rt.Cast(h, incr{by: 5}))
	require.NoError(t, rt.Cast(h, incr{by: 5}))

	reply, err := rt.Call(context.Background(), h, get{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 20, reply)
}

func TestCallTimeoutOnIgnore(t *testing.T) {
	rt := gen.New("node1", nil)
	h, err := rt.Start(&counter{})
	require.NoError(t, err)

	_, err = rt.Call(context.Background(), h, "unhandled", 30*time.Millisecond)
	require.Error(t, err)
	kind, ok := beamkit.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, beamkit.KindCallTimeout, kind)
}

func TestStopViaCallStatus(t *testing.T) {
	rt := gen.New("node1", nil)
	h, err := rt.Start(&counter{})
	require.NoError(t, err)

	reply, err := rt.Call(context.Background(), h, "stop", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "bye", reply)

	require.NoError(t, rt.Wait(context.Background(), h))

	_, err = rt.Call(context.Background(), h, get{}, time.Second)
	require.Error(t, err)
}

func TestMonitorDeliversDownOnNormalStop(t *testing.T) {
	rt := gen.New("node1", nil)
	target, err := rt.Start(&counter{})
	require.NoError(t, err)
	watcher, err := rt.Start(&counter{})
	require.NoError(t, err)

	var mu sync.Mutex
	var got gen.DownInfo
	done := make(chan struct{})
	sub := rt.Subscribe(func(ev gen.Event) {
		if ev.Kind == gen.EventProcessDown && ev.DownWatcher == watcher {
			mu.Lock()
			got = ev.Down
			mu.Unlock()
			close(done)
		}
	})
	defer sub.Unsubscribe()

	_, err = rt.MonitorProcess(watcher, target)
	require.NoError(t, err)

	require.NoError(t, rt.Stop(target, gen.ReasonNormal))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for process_down event")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, target, got.MonitoredRef)
	assert.Equal(t, "normal", got.Reason.Kind)
}

func TestLinkPropagatesAbnormalExit(t *testing.T) {
	rt := gen.New("node1", nil)
	a, err := rt.Start(&counter{}, gen.WithTrapExit(true))
	require.NoError(t, err)
	b, err := rt.Start(&counter{})
	require.NoError(t, err)

	require.NoError(t, rt.Link(a, b))
	require.NoError(t, rt.Stop(b, gen.ReasonError("boom")))

	require.NoError(t, rt.Wait(context.Background(), b))

	// a traps exits, so it must still be alive and have received an
	// ExitSignal info message instead of being killed.
	time.Sleep(20 * time.Millisecond)
	_, err = rt.Call(context.Background(), a, get{}, time.Second)
	require.NoError(t, err)
}

func TestLinkKillsNonTrappingPeer(t *testing.T) {
	rt := gen.New("node1", nil)
	a, err := rt.Start(&counter{})
	require.NoError(t, err)
	b, err := rt.Start(&counter{})
	require.NoError(t, err)

	require.NoError(t, rt.Link(a, b))
	require.NoError(t, rt.Stop(b, gen.ReasonError("boom")))

	require.NoError(t, rt.Wait(context.Background(), a))
}

func TestSendAfterDeliversAndCancel(t *testing.T) {
	rt := gen.New("node1", nil)
	h, err := rt.Start(&counter{})
	require.NoError(t, err)

	timer, err := rt.SendAfter(h, 10*time.Millisecond, "fired")
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, timer.Cancel())

	timer2, err := rt.SendAfter(h, time.Second, "should-not-fire")
	require.NoError(t, err)
	assert.True(t, timer2.Cancel())
}

func TestStartWithDuplicateNameFails(t *testing.T) {
	rt := gen.New("node1", nil)
	_, err := rt.Start(&counter{}, gen.WithName("svc"))
	require.NoError(t, err)

	_, err = rt.Start(&counter{}, gen.WithName("svc"))
	require.Error(t, err)
	kind, _ := beamkit.KindOf(err)
	assert.Equal(t, beamkit.KindAlreadyRegistered, kind)
}
