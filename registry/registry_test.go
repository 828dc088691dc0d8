package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/registry"
)

func TestUniqueRegisterConflict(t *testing.T) {
	r := registry.New(registry.Unique, nil)
	h1 := beamkit.Handle{ID: "a"}
	h2 := beamkit.Handle{ID: "b"}

	_, err := r.Register("svc.auth", h1, nil)
	require.NoError(t, err)

	_, err = r.Register("svc.auth", h2, nil)
	require.Error(t, err)
	kind, _ := beamkit.KindOf(err)
	assert.Equal(t, beamkit.KindAlreadyRegisteredKey, kind)

	entry, ok := r.Lookup("svc.auth")
	require.True(t, ok)
	assert.Equal(t, h1, entry.Ref)
}

func TestDuplicateRegisterAndDispatch(t *testing.T) {
	r := registry.New(registry.Duplicate, nil)
	h1 := beamkit.Handle{ID: "a"}
	h2 := beamkit.Handle{ID: "b"}

	_, err := r.Register("topic.events", h1, nil)
	require.NoError(t, err)
	_, err = r.Register("topic.events", h2, nil)
	require.NoError(t, err)

	var delivered []beamkit.Handle
	err = r.Dispatch("topic.events", "hello", func(e registry.Entry, msg interface{}) error {
		delivered = append(delivered, e.Ref)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []beamkit.Handle{h1, h2}, delivered)
}

func TestUnregisterRef(t *testing.T) {
	r := registry.New(registry.Duplicate, nil)
	h := beamkit.Handle{ID: "a"}

	_, err := r.Register("topic.x", h, nil)
	require.NoError(t, err)
	_, err = r.Register("topic.y", h, nil)
	require.NoError(t, err)

	r.UnregisterRef(h)

	assert.Empty(t, r.LookupAll("topic.x"))
	assert.Empty(t, r.LookupAll("topic.y"))
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"svc.*", "svc.auth", true},
		{"svc.*", "svc.auth/v2", false},
		{"svc.**", "svc.auth.v2", true},
		{"svc.?", "svc.a", true},
		{"svc.?", "svc.ab", false},
		{"exact", "exact", true},
		{"exact", "other", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, registry.MatchPattern(c.pattern, c.key), "pattern=%s key=%s", c.pattern, c.key)
	}
}

func TestMatchAcrossUniqueRegistry(t *testing.T) {
	r := registry.New(registry.Unique, nil)
	_, err := r.Register("room.1.occupant", beamkit.Handle{ID: "a"}, nil)
	require.NoError(t, err)
	_, err = r.Register("room.2.occupant", beamkit.Handle{ID: "b"}, nil)
	require.NoError(t, err)

	matches := r.Match("room.*.occupant")
	assert.Len(t, matches, 2)
}
