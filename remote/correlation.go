// Package remote implements the remote call/cast/spawn/monitor/link
// operations and the behavior catalog remote spawn draws on, per
// spec.md §4.6. Grounded on rutaka-n-ergonode/process.go's CallRPC/CastRPC
// (MFA-style remote dispatch over the same routing used for local sends),
// generalized into spec.md's typed remote operations with correlation
// tables.
package remote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodecrew/beamkit"
)

// newCorrelationID generates a fresh id for a call/spawn/monitor/link
// request, per spec.md §4.6 "keyed by a freshly generated id".
func newCorrelationID() string {
	return uuid.NewString()
}

// pending is one in-flight correlated request: a local waiter and the
// remote node id it targets, per spec.md §4.6 "Correlation tables". The
// deadline is applied by await, not stored here.
type pending struct {
	nodeID string
	done   chan result
}

type result struct {
	value interface{}
	err   error
}

// correlationTable is reused by call/spawn/monitor/link, each keying
// their own id namespace (a fresh uuid per request) into the same table
// shape.
type correlationTable struct {
	mu      sync.Mutex
	entries map[string]*pending
}

func newCorrelationTable() *correlationTable {
	return &correlationTable{entries: make(map[string]*pending)}
}

func (t *correlationTable) register(id, nodeID string) *pending {
	p := &pending{nodeID: nodeID, done: make(chan result, 1)}
	t.mu.Lock()
	t.entries[id] = p
	t.mu.Unlock()
	return p
}

func (t *correlationTable) complete(id string, value interface{}, err error) bool {
	t.mu.Lock()
	p, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	p.done <- result{value: value, err: err}
	return true
}

func (t *correlationTable) drop(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// failAllForNode completes every outstanding entry addressed to nodeID
// with err, per spec.md §4.6 "On peer disconnect, all entries for that
// peer are completed with NodeNotReachable or the appropriate failure."
func (t *correlationTable) failAllForNode(nodeID string, err error) {
	t.mu.Lock()
	var victims []*pending
	for id, p := range t.entries {
		if p.nodeID == nodeID {
			victims = append(victims, p)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()
	for _, p := range victims {
		p.done <- result{err: err}
	}
}

// await blocks on p until it completes, ctx is cancelled, or timeout
// elapses first.
func await(ctx context.Context, p *pending, timeout time.Duration, timeoutKind beamkit.Kind, op string) (interface{}, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-p.done:
		return r.value, r.err
	case <-timer.C:
		return nil, beamkit.New(timeoutKind, op, "timed out waiting for remote reply").WithTimeout(timeout.Milliseconds())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
