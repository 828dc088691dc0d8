package persistence_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit/persistence"
)

func openBoltAdapter(t *testing.T) *persistence.BoltAdapter {
	t.Helper()
	adapter, err := persistence.OpenBoltAdapter(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter
}

func TestBoltAdapterSaveLoadDelete(t *testing.T) {
	adapter := openBoltAdapter(t)

	env := persistence.Envelope{
		State:    map[string]interface{}{"count": float64(3)},
		Metadata: persistence.Metadata{PersistedAt: time.Now(), SchemaVersion: 1},
	}
	require.NoError(t, adapter.Save("svc-1", env))

	loaded, ok, err := adapter.Load("svc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, env.State, loaded.State)
	assert.Equal(t, env.Metadata.SchemaVersion, loaded.Metadata.SchemaVersion)

	exists, err := adapter.Exists("svc-1")
	require.NoError(t, err)
	assert.True(t, exists)

	deleted, err := adapter.Delete("svc-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = adapter.Load("svc-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoltAdapterLoadMissingKeyReturnsNotFound(t *testing.T) {
	adapter := openBoltAdapter(t)
	_, ok, err := adapter.Load("absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoltAdapterListKeysByPrefix(t *testing.T) {
	adapter := openBoltAdapter(t)

	for _, k := range []string{"svc.a", "svc.b", "other"} {
		require.NoError(t, adapter.Save(k, persistence.Envelope{State: 1}))
	}

	keys, err := adapter.ListKeys("svc.")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"svc.a", "svc.b"}, keys)
}

func TestBoltAdapterCleanupRemovesOldEntries(t *testing.T) {
	adapter := openBoltAdapter(t)

	require.NoError(t, adapter.Save("stale", persistence.Envelope{
		State:    1,
		Metadata: persistence.Metadata{PersistedAt: time.Now().Add(-time.Hour)},
	}))
	require.NoError(t, adapter.Save("fresh", persistence.Envelope{
		State:    1,
		Metadata: persistence.Metadata{PersistedAt: time.Now()},
	}))

	removed, err := adapter.Cleanup(time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	freshExists, err := adapter.Exists("fresh")
	require.NoError(t, err)
	assert.True(t, freshExists)

	staleExists, err := adapter.Exists("stale")
	require.NoError(t, err)
	assert.False(t, staleExists)
}

func TestBoltAdapterPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")

	adapter, err := persistence.OpenBoltAdapter(path)
	require.NoError(t, err)
	require.NoError(t, adapter.Save("durable", persistence.Envelope{State: "value", Metadata: persistence.Metadata{PersistedAt: time.Now()}}))
	require.NoError(t, adapter.Close())

	reopened, err := persistence.OpenBoltAdapter(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, ok, err := reopened.Load("durable")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", loaded.State)
}
