// Package persistence implements the pluggable key/value state-store
// contract (spec §4.4) plus a manager that layers checksums, schema
// migration, staleness policy, periodic snapshotting and cleanup on top
// of any StorageAdapter.
package persistence

import "time"

// Envelope is the persisted unit: a state value plus metadata. Adapters
// must treat the whole envelope as opaque storage — the Manager is the
// only caller that interprets Metadata.
type Envelope struct {
	State    interface{}
	Metadata Metadata
}

// Metadata always carries PersistedAt and SchemaVersion; Checksum is set
// only when the adapter has checksums enabled.
type Metadata struct {
	PersistedAt   time.Time
	ServerID      string
	ServerName    string
	SchemaVersion int
	Checksum      string
}

// Adapter is the storage contract every persistence backend implements.
// Cleanup and Close are optional: an adapter that doesn't support them
// simply doesn't implement the corresponding narrower interface, and
// callers type-assert before using them (see Cleanable/Closeable below).
type Adapter interface {
	// Save is atomic: once it returns nil, a concurrent or subsequent Load
	// observes either the previous envelope or this one, never a partial
	// write.
	Save(key string, env Envelope) error

	// Load returns (Envelope{}, false, nil) if key does not exist.
	Load(key string) (Envelope, bool, error)

	// Delete reports whether key existed.
	Delete(key string) (bool, error)

	Exists(key string) (bool, error)

	// ListKeys returns keys whose literal prefix matches prefix (no
	// wildcard interpretation). An empty prefix lists everything.
	ListKeys(prefix string) ([]string, error)
}

// Cleanable is an optional Adapter extension: removes entries whose
// Metadata.PersistedAt is older than maxAge and reports how many were
// removed.
type Cleanable interface {
	Cleanup(maxAge time.Duration) (int, error)
}

// Closeable is an optional Adapter extension for backends owning external
// resources (file handles, DB connections).
type Closeable interface {
	Close() error
}
