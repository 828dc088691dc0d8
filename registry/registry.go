// Package registry implements the local key/process registry: unique and
// duplicate-mode registration with glob-pattern lookup, and auto-removal
// driven by process lifecycle events. Grounded on rutaka-n-ergonode's
// registrar.go (a single owning goroutine serializing register/unregister/
// route requests over channels), generalized to the spec's two-mode
// key registry.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nodecrew/beamkit"
	"github.com/nodecrew/beamkit/gen"
)

// Mode selects whether a key maps to at most one entry or a set of entries.
type Mode int

const (
	// Unique: register fails with AlreadyRegisteredKey if key is taken.
	Unique Mode = iota
	// Duplicate: register always succeeds; dispatch fans out to every entry.
	Duplicate
)

// Entry is one registered {ref, metadata} pair.
type Entry struct {
	Key          string
	Ref          beamkit.Handle
	Metadata     interface{}
	RegisteredAt time.Time
}

// Registry is a single mode's table. Construct one per logical namespace
// (e.g. a "services" unique registry and a "topics" duplicate registry).
type Registry struct {
	mode Mode
	rt   *gen.Runtime // used to subscribe to process lifecycle for auto-removal

	mu      sync.RWMutex
	unique  map[string]Entry
	dup     map[string]map[string]Entry // key -> entryID -> Entry
	byRef   map[string]map[string]struct{} // ref.ID -> set of "key\x00entryID" composite, for fast teardown
	sub     *gen.Subscription
}

// New creates a Registry in mode, auto-unregistering entries when their
// referenced process terminates. rt may be nil if callers only ever
// register handles belonging to a different Runtime's lifecycle (in which
// case the caller is responsible for calling Unregister/UnregisterRef
// itself); passing the owning Runtime is the common case.
func New(mode Mode, rt *gen.Runtime) *Registry {
	r := &Registry{
		mode:   mode,
		rt:     rt,
		unique: make(map[string]Entry),
		dup:    make(map[string]map[string]Entry),
		byRef:  make(map[string]map[string]struct{}),
	}
	if rt != nil {
		r.sub = rt.Subscribe(r.onLifecycleEvent)
	}
	return r
}

// Close stops the lifecycle subscription. Safe to call once.
func (r *Registry) Close() {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
}

func compositeKey(key, entryID string) string { return key + "\x00" + entryID }

func (r *Registry) onLifecycleEvent(ev gen.Event) {
	if ev.Kind != gen.EventStopped {
		return
	}
	r.UnregisterRef(ev.Handle)
}

// Register adds ref under key. In Unique mode, a second Register for the
// same key fails with KindAlreadyRegisteredKey. In Duplicate mode, returns
// a fresh entry id usable with Unregister.
func (r *Registry) Register(key string, ref beamkit.Handle, metadata interface{}) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry := Entry{Key: key, Ref: ref, Metadata: metadata, RegisteredAt: now}

	switch r.mode {
	case Unique:
		if _, exists := r.unique[key]; exists {
			return "", beamkit.New(beamkit.KindAlreadyRegisteredKey, "registry.Register", "key already registered").WithKey(key)
		}
		r.unique[key] = entry
		r.trackRef(ref, key, "")
		return "", nil

	default: // Duplicate
		id := uuid.NewString()
		bucket, ok := r.dup[key]
		if !ok {
			bucket = make(map[string]Entry)
			r.dup[key] = bucket
		}
		bucket[id] = entry
		r.trackRef(ref, key, id)
		return id, nil
	}
}

func (r *Registry) trackRef(ref beamkit.Handle, key, entryID string) {
	set, ok := r.byRef[ref.ID]
	if !ok {
		set = make(map[string]struct{})
		r.byRef[ref.ID] = set
	}
	set[compositeKey(key, entryID)] = struct{}{}
}

// Unregister removes a single entry. entryID is ignored (pass "") in
// Unique mode.
func (r *Registry) Unregister(key, entryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.mode {
	case Unique:
		entry, ok := r.unique[key]
		if !ok {
			return beamkit.New(beamkit.KindKeyNotFound, "registry.Unregister", "key not registered").WithKey(key)
		}
		delete(r.unique, key)
		r.untrackRef(entry.Ref, key, "")
		return nil
	default:
		bucket, ok := r.dup[key]
		if !ok {
			return beamkit.New(beamkit.KindKeyNotFound, "registry.Unregister", "key not registered").WithKey(key)
		}
		entry, ok := bucket[entryID]
		if !ok {
			return beamkit.New(beamkit.KindKeyNotFound, "registry.Unregister", "entry not found").WithKey(key)
		}
		delete(bucket, entryID)
		if len(bucket) == 0 {
			delete(r.dup, key)
		}
		r.untrackRef(entry.Ref, key, entryID)
		return nil
	}
}

func (r *Registry) untrackRef(ref beamkit.Handle, key, entryID string) {
	set, ok := r.byRef[ref.ID]
	if !ok {
		return
	}
	delete(set, compositeKey(key, entryID))
	if len(set) == 0 {
		delete(r.byRef, ref.ID)
	}
}

// UnregisterRef removes every entry registered under ref, used both by the
// lifecycle auto-removal path and directly by callers outside a Runtime's
// own process set.
func (r *Registry) UnregisterRef(ref beamkit.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byRef[ref.ID]
	if !ok {
		return
	}
	for composite := range set {
		key, entryID := splitComposite(composite)
		switch r.mode {
		case Unique:
			delete(r.unique, key)
		default:
			if bucket, ok := r.dup[key]; ok {
				delete(bucket, entryID)
				if len(bucket) == 0 {
					delete(r.dup, key)
				}
			}
		}
	}
	delete(r.byRef, ref.ID)
}

func splitComposite(s string) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

// Lookup returns the single entry for key in Unique mode.
func (r *Registry) Lookup(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.unique[key]
	return e, ok
}

// LookupAll returns every entry for key in Duplicate mode.
func (r *Registry) LookupAll(key string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.dup[key]
	out := make([]Entry, 0, len(bucket))
	for _, e := range bucket {
		out = append(out, e)
	}
	return out
}

// Match returns every entry (any mode) whose key satisfies the glob
// pattern (see MatchPattern for syntax).
func (r *Registry) Match(pattern string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	switch r.mode {
	case Unique:
		for k, e := range r.unique {
			if MatchPattern(pattern, k) {
				out = append(out, e)
			}
		}
	default:
		for k, bucket := range r.dup {
			if !MatchPattern(pattern, k) {
				continue
			}
			for _, e := range bucket {
				out = append(out, e)
			}
		}
	}
	return out
}

// DispatchFunc routes msg to entry, defaulting to gen.Runtime.Cast.
type DispatchFunc func(entry Entry, msg interface{}) error

// Dispatch broadcasts msg to every entry under key (Duplicate mode). If fn
// is nil, each entry receives msg via rt.Cast. Returns the first error
// encountered, if any, but attempts delivery to every entry regardless.
func (r *Registry) Dispatch(key string, msg interface{}, fn DispatchFunc) error {
	entries := r.LookupAll(key)
	if fn == nil {
		if r.rt == nil {
			return beamkit.New(beamkit.KindDispatchNotSupported, "registry.Dispatch", "no Runtime bound for default cast dispatch").WithKey(key)
		}
		fn = func(e Entry, msg interface{}) error { return r.rt.Cast(e.Ref, msg) }
	}

	var firstErr error
	for _, e := range entries {
		if err := fn(e, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
