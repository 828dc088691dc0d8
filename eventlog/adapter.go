// Package eventlog implements the append-only, strictly-ordered per-stream
// event log contract from spec §4.4. Sequence numbers are always assigned
// by the adapter; input Seq fields on append are ignored.
package eventlog

import "time"

// Entry is one event-log record. Seq and Timestamp are always set by the
// adapter on Append; callers populate Type, Payload and optionally
// Metadata.
type Entry struct {
	Seq       uint64
	Timestamp time.Time
	Type      string
	Payload   interface{}
	Metadata  map[string]interface{}
}

// WithMetadata returns a copy of e with Metadata[k] = v set, a small
// ergonomic helper (SPEC_FULL supplement) so callers don't hand-roll map
// initialization at every call site.
func (e Entry) WithMetadata(k string, v interface{}) Entry {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[k] = v
	return e
}

// ReadOptions filters a Read: FromSeq/ToSeq are both inclusive, Types is a
// set filter (nil/empty means "all types"), Limit truncates the result
// after the other filters and the ascending sort are applied.
type ReadOptions struct {
	FromSeq uint64
	ToSeq   uint64 // 0 means "no upper bound"
	Types   map[string]struct{}
	Limit   int // 0 means "no limit"
}

// Adapter is the contract every event-log backend implements.
type Adapter interface {
	// Append assigns each entry in entries a fresh, strictly increasing
	// Seq for stream (ignoring any Seq already set) and returns the last
	// assigned Seq.
	Append(stream string, entries []Entry) (uint64, error)

	Read(stream string, opts ReadOptions) ([]Entry, error)

	// ReadAfter is sugar for Read with FromSeq: afterSeq+1.
	ReadAfter(stream string, afterSeq uint64) ([]Entry, error)

	// GetLastSeq returns the highest Seq ever assigned to stream, even if
	// entries at or below it were later truncated (spec §9 open question).
	GetLastSeq(stream string) (uint64, error)

	// TruncateBefore removes all entries with Seq < seq and reports how
	// many were removed. It never resets the sequence counter.
	TruncateBefore(stream string, seq uint64) (int, error)

	ListStreams(prefix string) ([]string, error)

	Close() error
}
