package beamkit

import (
	"errors"
	"fmt"
)

// Kind is a stable, component-specific error tag. Callers should match on
// Kind (via errors.As into *Error) rather than on error message text.
type Kind string

// GenServer error kinds.
const (
	KindCallTimeout        Kind = "CallTimeout"
	KindServerNotRunning   Kind = "ServerNotRunning"
	KindInitializationErr  Kind = "InitializationError"
	KindAlreadyRegistered  Kind = "AlreadyRegistered"
)

// Supervisor error kinds.
const (
	KindMaxRestartsExceeded   Kind = "MaxRestartsExceeded"
	KindDuplicateChild        Kind = "DuplicateChild"
	KindChildNotFound         Kind = "ChildNotFound"
	KindMissingChildTemplate  Kind = "MissingChildTemplate"
	KindInvalidSimpleOneForOne Kind = "InvalidSimpleOneForOne"
)

// Registry error kinds.
const (
	KindAlreadyRegisteredKey Kind = "AlreadyRegisteredKey"
	KindKeyNotFound          Kind = "KeyNotFound"
	KindDuplicateKeyLookup   Kind = "DuplicateKeyLookup"
	KindDispatchNotSupported Kind = "DispatchNotSupported"
	KindDuplicateRegistration Kind = "DuplicateRegistration"
)

// Persistence error kinds.
const (
	KindStateNotFound       Kind = "StateNotFound"
	KindSerializationError  Kind = "SerializationError"
	KindDeserializationErr  Kind = "DeserializationError"
	KindCorruptedState      Kind = "CorruptedState"
	KindStaleState          Kind = "StaleState"
	KindStorageError        Kind = "StorageError"
	KindMigrationError      Kind = "MigrationError"
	KindChecksumMismatch    Kind = "ChecksumMismatch"
)

// Cluster error kinds.
const (
	KindClusterNotStarted  Kind = "ClusterNotStarted"
	KindInvalidClusterConf Kind = "InvalidClusterConfig"
	KindInvalidNodeID      Kind = "InvalidNodeId"
	KindNodeNotReachable   Kind = "NodeNotReachable"
)

// Remote error kinds.
const (
	KindRemoteCallTimeout       Kind = "RemoteCallTimeout"
	KindRemoteServerNotRunning  Kind = "RemoteServerNotRunning"
	KindBehaviorNotFound        Kind = "BehaviorNotFound"
	KindRemoteSpawnTimeout      Kind = "RemoteSpawnTimeout"
	KindRemoteSpawnInit         Kind = "RemoteSpawnInit"
	KindRemoteSpawnRegistration Kind = "RemoteSpawnRegistration"
	KindRemoteMonitorTimeout    Kind = "RemoteMonitorTimeout"
	KindRemoteLinkTimeout       Kind = "RemoteLinkTimeout"
	KindMessageSerialization    Kind = "MessageSerialization"
)

// Global registry error kinds.
const (
	KindGlobalNameConflict Kind = "GlobalNameConflict"
	KindGlobalNameNotFound Kind = "GlobalNameNotFound"
)

// Distributed supervisor error kinds.
const (
	KindNoAvailableNode           Kind = "NoAvailableNode"
	KindDistributedBehaviorNotFnd Kind = "DistributedBehaviorNotFound"
	KindDistributedChildClaim     Kind = "DistributedChildClaim"
)

// Error is the concrete error type carrying a stable Kind plus enough
// context (ids, timeouts, node identities) for a caller to decide retry
// vs. fail-fast, per spec §7 "User-visible failure behavior".
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "gen.Call", "persistence.Save"
	Message string
	Cause   error

	// Optional context fields, populated where relevant.
	ServerID  string
	NodeID    string
	Key       string
	TimeoutMs int64
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.ServerID != "" {
		msg += fmt.Sprintf(" server=%s", e.ServerID)
	}
	if e.NodeID != "" {
		msg += fmt.Sprintf(" node=%s", e.NodeID)
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" key=%s", e.Key)
	}
	if e.TimeoutMs != 0 {
		msg += fmt.Sprintf(" timeoutMs=%d", e.TimeoutMs)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &Error{Kind: K}) style matching on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error with the given kind and op, the minimal constructor
// used throughout the runtime.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an *Error that preserves cause as the wrapped error.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// WithServer and friends return a copy of e with additional context set
// (small fluent helpers so call sites read as one expression).
func (e *Error) WithServer(id string) *Error   { c := *e; c.ServerID = id; return &c }
func (e *Error) WithNode(id string) *Error     { c := *e; c.NodeID = id; return &c }
func (e *Error) WithKey(key string) *Error     { c := *e; c.Key = key; return &c }
func (e *Error) WithTimeout(ms int64) *Error   { c := *e; c.TimeoutMs = ms; return &c }

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}
