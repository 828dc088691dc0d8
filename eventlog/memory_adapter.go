package eventlog

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type memStream struct {
	entries []Entry // kept sorted ascending by Seq; may have a gap at the front after truncation
	lastSeq uint64
}

// MemoryAdapter is an in-process, non-durable event-log adapter. Streams
// are isolated maps keyed by name; each has its own monotonic counter
// independent of every other stream, per spec §4.4 "Event-log invariants".
type MemoryAdapter struct {
	mu      sync.Mutex
	streams map[string]*memStream
}

// NewMemoryAdapter returns a ready, empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{streams: make(map[string]*memStream)}
}

func (a *MemoryAdapter) stream(name string) *memStream {
	s, ok := a.streams[name]
	if !ok {
		s = &memStream{}
		a.streams[name] = s
	}
	return s
}

func cloneEntry(e Entry) Entry {
	cp := e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

func (a *MemoryAdapter) Append(streamName string, entries []Entry) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stream(streamName)
	now := time.Now()
	for _, e := range entries {
		s.lastSeq++
		e.Seq = s.lastSeq
		e.Timestamp = now
		s.entries = append(s.entries, cloneEntry(e))
	}
	return s.lastSeq, nil
}

func (a *MemoryAdapter) Read(streamName string, opts ReadOptions) ([]Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.streams[streamName]
	if !ok {
		return nil, nil
	}
	var out []Entry
	for _, e := range s.entries {
		if e.Seq < opts.FromSeq {
			continue
		}
		if opts.ToSeq != 0 && e.Seq > opts.ToSeq {
			continue
		}
		if len(opts.Types) > 0 {
			if _, ok := opts.Types[e.Type]; !ok {
				continue
			}
		}
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (a *MemoryAdapter) ReadAfter(streamName string, afterSeq uint64) ([]Entry, error) {
	return a.Read(streamName, ReadOptions{FromSeq: afterSeq + 1})
}

func (a *MemoryAdapter) GetLastSeq(streamName string) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.streams[streamName]
	if !ok {
		return 0, nil
	}
	return s.lastSeq, nil
}

func (a *MemoryAdapter) TruncateBefore(streamName string, seq uint64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.streams[streamName]
	if !ok {
		return 0, nil
	}
	kept := s.entries[:0:0]
	removed := 0
	for _, e := range s.entries {
		if e.Seq < seq {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

func (a *MemoryAdapter) ListStreams(prefix string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for name := range a.streams {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (a *MemoryAdapter) Close() error { return nil }
