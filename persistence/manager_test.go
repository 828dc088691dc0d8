package persistence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/persistence"
)

type demoState struct {
	Count int `json:"count"`
}

func TestCheckpointAndLoadRoundTrip(t *testing.T) {
	adapter := persistence.NewMemoryAdapter()
	mgr, err := persistence.New(persistence.Options{Adapter: adapter, Key: "svc-1", RestoreOnStart: true})
	require.NoError(t, err)

	require.NoError(t, mgr.Checkpoint(demoState{Count: 7}, "svc-1", "counter"))

	res := mgr.Load()
	require.True(t, res.Success)
	loaded, ok := res.State.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(7), loaded["count"])
}

func TestLoadMissingKeyFails(t *testing.T) {
	mgr, err := persistence.New(persistence.Options{Adapter: persistence.NewMemoryAdapter(), Key: "missing"})
	require.NoError(t, err)

	res := mgr.Load()
	assert.False(t, res.Success)
	kind, _ := beamkit.KindOf(res.Err)
	assert.Equal(t, beamkit.KindStateNotFound, kind)
}

func TestStaleStateRejected(t *testing.T) {
	adapter := persistence.NewMemoryAdapter()
	mgr, err := persistence.New(persistence.Options{
		Adapter:       adapter,
		Key:           "svc-1",
		MaxStateAgeMs: 1,
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Checkpoint(demoState{Count: 1}, "svc-1", "counter"))
	time.Sleep(5 * time.Millisecond)

	res := mgr.Load()
	assert.False(t, res.Success)
	kind, _ := beamkit.KindOf(res.Err)
	assert.Equal(t, beamkit.KindStaleState, kind)
}

func TestMigrationAppliedOnLoad(t *testing.T) {
	adapter := persistence.NewMemoryAdapter()
	mgrV1, err := persistence.New(persistence.Options{Adapter: adapter, Key: "svc-1", SchemaVersion: 1})
	require.NoError(t, err)
	require.NoError(t, mgrV1.Checkpoint(map[string]interface{}{"count": 3}, "svc-1", "counter"))

	migrate := func(state interface{}, from, to int) (interface{}, error) {
		m := state.(map[string]interface{})
		m["migrated"] = true
		return m, nil
	}
	mgrV2, err := persistence.New(persistence.Options{Adapter: adapter, Key: "svc-1", SchemaVersion: 2, Migrate: migrate})
	require.NoError(t, err)

	res := mgrV2.Load()
	require.True(t, res.Success)
	m := res.State.(map[string]interface{})
	assert.Equal(t, true, m["migrated"])
}

func TestChecksumMismatchDetected(t *testing.T) {
	adapter := persistence.NewMemoryAdapter()
	mgr, err := persistence.New(persistence.Options{Adapter: adapter, Key: "svc-1", EnableChecksum: true})
	require.NoError(t, err)
	require.NoError(t, mgr.Checkpoint(demoState{Count: 1}, "svc-1", "counter"))

	env, ok, err := adapter.Load("svc-1")
	require.NoError(t, err)
	require.True(t, ok)
	env.Metadata.Checksum = "corrupted"
	require.NoError(t, adapter.Save("svc-1", env))

	res := mgr.Load()
	assert.False(t, res.Success)
	kind, _ := beamkit.KindOf(res.Err)
	assert.Equal(t, beamkit.KindChecksumMismatch, kind)
}

func TestClearRemovesState(t *testing.T) {
	adapter := persistence.NewMemoryAdapter()
	mgr, err := persistence.New(persistence.Options{Adapter: adapter, Key: "svc-1"})
	require.NoError(t, err)
	require.NoError(t, mgr.Checkpoint(demoState{Count: 1}, "svc-1", "counter"))

	require.NoError(t, mgr.Clear())
	res := mgr.Load()
	assert.False(t, res.Success)

	// Clearing twice is a no-op, not an error.
	require.NoError(t, mgr.Clear())
}
