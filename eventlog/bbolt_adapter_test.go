package eventlog_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit/eventlog"
)

func openBoltEventlog(t *testing.T) *eventlog.BoltAdapter {
	t.Helper()
	adapter, err := eventlog.OpenBoltAdapter(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter
}

func TestBoltAdapterAppendAssignsMonotonicSeq(t *testing.T) {
	a := openBoltEventlog(t)

	last, err := a.Append("orders", []eventlog.Entry{{Type: "created"}, {Type: "paid"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)

	entries, err := a.Read("orders", eventlog.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, uint64(2), entries[1].Seq)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestBoltAdapterStreamsAreIsolated(t *testing.T) {
	a := openBoltEventlog(t)

	_, err := a.Append("stream-a", []eventlog.Entry{{Type: "x"}})
	require.NoError(t, err)
	_, err = a.Append("stream-b", []eventlog.Entry{{Type: "y"}, {Type: "y"}})
	require.NoError(t, err)

	lastA, err := a.GetLastSeq("stream-a")
	require.NoError(t, err)
	lastB, err := a.GetLastSeq("stream-b")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), lastA)
	assert.Equal(t, uint64(2), lastB)

	streams, err := a.ListStreams("")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stream-a", "stream-b"}, streams)
}

func TestBoltAdapterTruncateKeepsHighWaterMark(t *testing.T) {
	a := openBoltEventlog(t)

	_, err := a.Append("orders", []eventlog.Entry{{Type: "a"}, {Type: "b"}, {Type: "c"}})
	require.NoError(t, err)

	removed, err := a.TruncateBefore("orders", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entries, err := a.Read("orders", eventlog.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	lastSeq, err := a.GetLastSeq("orders")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), lastSeq)

	next, err := a.Append("orders", []eventlog.Entry{{Type: "d"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next)
}

func TestBoltAdapterReadAfterAndFilters(t *testing.T) {
	a := openBoltEventlog(t)

	_, err := a.Append("orders", []eventlog.Entry{
		{Type: "created"}, {Type: "paid"}, {Type: "created"}, {Type: "shipped"},
	})
	require.NoError(t, err)

	entries, err := a.Read("orders", eventlog.ReadOptions{
		Types: map[string]struct{}{"created": {}},
		Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "created", entries[0].Type)

	after, err := a.ReadAfter("orders", 2)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, uint64(3), after[0].Seq)
	assert.Equal(t, uint64(4), after[1].Seq)
}

func TestBoltAdapterPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.db")

	a, err := eventlog.OpenBoltAdapter(path)
	require.NoError(t, err)
	_, err = a.Append("durable-stream", []eventlog.Entry{{Type: "created"}})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	reopened, err := eventlog.OpenBoltAdapter(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Read("durable-stream", eventlog.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "created", entries[0].Type)
}
