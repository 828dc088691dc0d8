package eventlog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit/eventlog"
)

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	a := eventlog.NewMemoryAdapter()

	last, err := a.Append("orders", []eventlog.Entry{{Type: "created"}, {Type: "paid"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)

	entries, err := a.Read("orders", eventlog.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, uint64(2), entries[1].Seq)
}

func TestStreamsAreIsolated(t *testing.T) {
	a := eventlog.NewMemoryAdapter()
	_, err := a.Append("stream-a", []eventlog.Entry{{Type: "x"}})
	require.NoError(t, err)
	_, err = a.Append("stream-b", []eventlog.Entry{{Type: "y"}, {Type: "y"}})
	require.NoError(t, err)

	lastA, _ := a.GetLastSeq("stream-a")
	lastB, _ := a.GetLastSeq("stream-b")
	assert.Equal(t, uint64(1), lastA)
	assert.Equal(t, uint64(2), lastB)
}

func TestTruncateKeepsHighWaterMark(t *testing.T) {
	a := eventlog.NewMemoryAdapter()
	_, err := a.Append("orders", []eventlog.Entry{{Type: "a"}, {Type: "b"}, {Type: "c"}})
	require.NoError(t, err)

	removed, err := a.TruncateBefore("orders", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entries, err := a.Read("orders", eventlog.ReadOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// GetLastSeq still reflects the highest seq ever assigned, not the
	// highest currently present.
	lastSeq, err := a.GetLastSeq("orders")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), lastSeq)

	next, err := a.Append("orders", []eventlog.Entry{{Type: "d"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next)
}

func TestReadFiltersByTypeAndLimit(t *testing.T) {
	a := eventlog.NewMemoryAdapter()
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
}

func TestEntryWithMetadata(t *testing.T) {
	e := eventlog.Entry{Type: "created"}.WithMetadata("actor", "user-1")
	assert.Equal(t, "user-1", e.Metadata["actor"])
}
