package persistence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit/persistence"
)

func TestFileAdapterSaveLoadDelete(t *testing.T) {
	adapter, err := persistence.NewFileAdapter(t.TempDir(), "")
	require.NoError(t, err)

	env := persistence.Envelope{
		State:    map[string]interface{}{"count": float64(3)},
		Metadata: persistence.Metadata{PersistedAt: time.Now(), SchemaVersion: 1},
	}
	require.NoError(t, adapter.Save("key/with spaces", env))

	loaded, ok, err := adapter.Load("key/with spaces")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, env.State, loaded.State)

	exists, err := adapter.Exists("key/with spaces")
	require.NoError(t, err)
	assert.True(t, exists)

	deleted, err := adapter.Delete("key/with spaces")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = adapter.Load("key/with spaces")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileAdapterListKeysByPrefix(t *testing.T) {
	adapter, err := persistence.NewFileAdapter(t.TempDir(), "")
	require.NoError(t, err)

	for _, k := range []string{"svc.a", "svc.b", "other"} {
		require.NoError(t, adapter.Save(k, persistence.Envelope{State: 1}))
	}

	keys, err := adapter.ListKeys("svc.")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"svc.a", "svc.b"}, keys)
}

func TestFileAdapterCleanupRemovesOldEntries(t *testing.T) {
	adapter, err := persistence.NewFileAdapter(t.TempDir(), "")
	require.NoError(t, err)

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

	ok, _ := adapter.Exists("fresh")
	assert.True(t, ok)
}
