package persistence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/nodecrew/beamkit"
	"github.com/pkg/errors"
)

// MigrateFunc upgrades a state value and its schema version to Manager's
// configured SchemaVersion. It is only invoked when the loaded envelope's
// SchemaVersion is older than configured.
type MigrateFunc func(state interface{}, fromVersion, toVersion int) (interface{}, error)

// Chain composes migrate functions so a caller can express "apply v1->v2,
// then v2->v3" as a single MigrateFunc without hand-rolling the version
// bookkeeping (SPEC_FULL supplement).
func Chain(steps ...MigrateFunc) MigrateFunc {
	return func(state interface{}, fromVersion, toVersion int) (interface{}, error) {
		cur := state
		for v := fromVersion; v < toVersion; v++ {
			idx := v - 1 // steps[0] migrates v1 -> v2
			if idx < 0 {
				continue
			}
			if idx >= len(steps) {
				break
			}
			var err error
			cur, err = steps[idx](cur, v, v+1)
			if err != nil {
				return nil, err
			}
		}
		return cur, nil
	}
}

// Options configures a Manager, mirroring spec §6's persistence
// configuration surface.
type Options struct {
	Adapter Adapter
	Key     string

	SnapshotIntervalMs int
	PersistOnShutdown  bool
	RestoreOnStart     bool

	MaxStateAgeMs int64

	CleanupOnTerminate bool
	CleanupIntervalMs  int

	SchemaVersion int
	Migrate       MigrateFunc

	// EnableChecksum computes and validates a SHA-256 checksum over the
	// JSON-canonicalized state on every save/load.
	EnableChecksum bool

	OnError func(err error)
}

// Result is the tagged outcome of Load, matching spec §4.4 "Manager
// behavior": { success: true, state, metadata } | { success: false, error }.
type Result struct {
	Success  bool
	State    interface{}
	Metadata Metadata
	Err      error
}

// Manager layers checksum validation, schema migration, staleness policy
// and periodic snapshot/cleanup on top of a raw Adapter. There is no
// teacher equivalent (rutaka-n-ergonode has no persistence layer); this is
// built directly from spec §4.4/§6.
type Manager struct {
	opts Options
}

// New validates opts and returns a ready Manager.
func New(opts Options) (*Manager, error) {
	if opts.Adapter == nil {
		return nil, beamkit.New(beamkit.KindStorageError, "persistence.New", "adapter is required")
	}
	if opts.Key == "" {
		return nil, beamkit.New(beamkit.KindStorageError, "persistence.New", "key is required")
	}
	if opts.SchemaVersion == 0 {
		opts.SchemaVersion = 1
	}
	return &Manager{opts: opts}, nil
}

func (m *Manager) onError(err error) {
	if m.opts.OnError != nil {
		m.opts.OnError(err)
	}
}

func checksum(state interface{}) (string, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// save wraps state in an Envelope (adding a checksum when enabled) and
// writes it through the adapter. Where the behavior's BeforePersist
// applies, gen has already run it, so save persists whatever it is given.
func (m *Manager) save(key string, state interface{}, serverID, serverName string) error {
	env := Envelope{
		State: state,
		Metadata: Metadata{
			PersistedAt:   time.Now(),
			ServerID:      serverID,
			ServerName:    serverName,
			SchemaVersion: m.opts.SchemaVersion,
		},
	}
	if m.opts.EnableChecksum {
		sum, err := checksum(state)
		if err != nil {
			wrapped := beamkit.Wrap(beamkit.KindSerializationError, "persistence.Save", errors.Wrap(err, "checksum"))
			m.onError(wrapped)
			return wrapped
		}
		env.Metadata.Checksum = sum
	}
	if err := m.opts.Adapter.Save(key, env); err != nil {
		wrapped := beamkit.Wrap(beamkit.KindStorageError, "persistence.Save", errors.Wrap(err, "adapter save")).WithKey(key)
		m.onError(wrapped)
		return wrapped
	}
	return nil
}

// Checkpoint is a manual save. A BeforePersist skip never reaches it:
// gen.Runtime.Checkpoint returns an error for that case itself.
func (m *Manager) Checkpoint(state interface{}, serverID, serverName string) error {
	return m.save(m.opts.Key, state, serverID, serverName)
}

// PeriodicSnapshot is a background save. Failures are reported only
// through OnError, since no caller waits on the result. It persists state
// as given; BeforePersist is not consulted on this path.
func (m *Manager) PeriodicSnapshot(state interface{}, serverID, serverName string) {
	_ = m.save(m.opts.Key, state, serverID, serverName)
}

// Load applies staleness policy and migration, then returns a tagged
// Result. It never panics; every failure path populates Result.Err.
func (m *Manager) Load() Result {
	env, ok, err := m.opts.Adapter.Load(m.opts.Key)
	if err != nil {
		e := beamkit.Wrap(beamkit.KindStorageError, "persistence.Load", err).WithKey(m.opts.Key)
		m.onError(e)
		return Result{Err: e}
	}
	if !ok {
		e := beamkit.New(beamkit.KindStateNotFound, "persistence.Load", "no persisted state").WithKey(m.opts.Key)
		return Result{Err: e}
	}

	if m.opts.EnableChecksum && env.Metadata.Checksum != "" {
		want, err := checksum(env.State)
		if err != nil || want != env.Metadata.Checksum {
			e := beamkit.New(beamkit.KindChecksumMismatch, "persistence.Load", "checksum mismatch").WithKey(m.opts.Key)
			m.onError(e)
			return Result{Err: e}
		}
	}

	if m.opts.MaxStateAgeMs > 0 {
		age := time.Since(env.Metadata.PersistedAt)
		if age > time.Duration(m.opts.MaxStateAgeMs)*time.Millisecond {
			e := beamkit.New(beamkit.KindStaleState, "persistence.Load", "persisted state exceeds max age").WithKey(m.opts.Key)
			return Result{Err: e}
		}
	}

	state := env.State
	if env.Metadata.SchemaVersion < m.opts.SchemaVersion {
		if m.opts.Migrate == nil {
			// No migrate function configured: return state as-is, per spec.
		} else {
			migrated, err := m.opts.Migrate(state, env.Metadata.SchemaVersion, m.opts.SchemaVersion)
			if err != nil {
				e := beamkit.Wrap(beamkit.KindMigrationError, "persistence.Load", err).WithKey(m.opts.Key)
				m.onError(e)
				return Result{Err: e}
			}
			state = migrated
			env.Metadata.SchemaVersion = m.opts.SchemaVersion
		}
	}

	return Result{Success: true, State: state, Metadata: env.Metadata}
}

// LastCheckpointMeta returns the metadata of the currently persisted
// envelope without applying staleness/migration policy.
func (m *Manager) LastCheckpointMeta() (Metadata, bool, error) {
	env, ok, err := m.opts.Adapter.Load(m.opts.Key)
	if err != nil || !ok {
		return Metadata{}, false, err
	}
	return env.Metadata, true, nil
}

// Clear deletes the persisted key. Calling it twice is a no-op the second
// time (Delete reports false, no error).
func (m *Manager) Clear() error {
	_, err := m.opts.Adapter.Delete(m.opts.Key)
	return err
}

// SnapshotSource is implemented by whatever owns the live state the
// Manager should periodically persist (gen's per-process record satisfies this).
type SnapshotSource interface {
	CurrentState() interface{}
	ServerID() string
	ServerName() string
}

// RunBackground starts the periodic snapshot/cleanup goroutines described
// in spec §4.4 "Periodic behavior", bound to ctx: both timers stop when
// ctx is cancelled (process terminate path), satisfying §5's "every start
// path has a matching teardown path".
func (m *Manager) RunBackground(ctx context.Context, source SnapshotSource) {
	if m.opts.SnapshotIntervalMs > 0 {
		go m.runSnapshotLoop(ctx, source)
	}
	if m.opts.CleanupIntervalMs > 0 && m.opts.MaxStateAgeMs > 0 {
		go m.runCleanupLoop(ctx)
	}
}

func (m *Manager) runSnapshotLoop(ctx context.Context, source SnapshotSource) {
	t := time.NewTicker(time.Duration(m.opts.SnapshotIntervalMs) * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.PeriodicSnapshot(source.CurrentState(), source.ServerID(), source.ServerName())
		}
	}
}

func (m *Manager) runCleanupLoop(ctx context.Context) {
	t := time.NewTicker(time.Duration(m.opts.CleanupIntervalMs) * time.Millisecond)
	defer t.Stop()
	cleanable, ok := m.opts.Adapter.(Cleanable)
	if !ok {
		return
	}
	maxAge := time.Duration(m.opts.MaxStateAgeMs) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := cleanable.Cleanup(maxAge); err != nil {
				m.onError(beamkit.Wrap(beamkit.KindStorageError, "persistence.Cleanup", err))
			}
		}
	}
}

// TerminateCleanup runs CleanupOnTerminate's Delete, if configured.
func (m *Manager) TerminateCleanup() {
	if m.opts.CleanupOnTerminate {
		_, _ = m.opts.Adapter.Delete(m.opts.Key)
	}
}

// Close releases the underlying adapter's resources, if it owns any.
func (m *Manager) Close() error {
	if c, ok := m.opts.Adapter.(Closeable); ok {
		return c.Close()
	}
	return nil
}

// SchemaVersion exposes the configured target schema version.
func (m *Manager) SchemaVersion() int { return m.opts.SchemaVersion }

// PersistOnShutdown reports whether a normal/shutdown termination should
// checkpoint state, per Options.PersistOnShutdown.
func (m *Manager) PersistOnShutdown() bool { return m.opts.PersistOnShutdown }
