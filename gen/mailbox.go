package gen

import "github.com/nodecrew/beamkit"

type envelopeKind int

const (
	envCall envelopeKind = iota
	envCast
	envInfo
	envShutdown
)

// envelope is the unit carried on a process's FIFO mailbox channel. Call
// replies travel out-of-band on replyCh (per spec §4.1 "reply delivery
// order is not coupled to mailbox order"), so only the request itself
// occupies a mailbox slot.
type envelope struct {
	kind    envelopeKind
	from    beamkit.Handle
	callID  string
	msg     interface{}
	replyCh chan callResult

	// shutdown-only fields
	shutdownReason Reason
}

type callResult struct {
	reply interface{}
	err   error
}

// monitorRecord is owned by both the watcher's and the target's process
// records, per spec §9 "Monitor / link graphs": removed from both on
// teardown, never relied on for ownership.
type monitorRecord struct {
	id      string
	watcher beamkit.Handle
	target  beamkit.Handle
	remote  bool
}

// linkRecord is symmetric: the same record lives in both endpoints' link
// tables.
type linkRecord struct {
	id  string
	a   beamkit.Handle
	b   beamkit.Handle
}

func (l *linkRecord) other(self beamkit.Handle) beamkit.Handle {
	if l.a == self {
		return l.b
	}
	return l.a
}

// timerRecord tracks a pending sendAfter timer so Timer.Cancel can stop it.
type timerRecord struct {
	id     string
	cancel func() bool
}

// Timer is returned by SendAfter; Cancel is idempotent.
type Timer struct {
	id      string
	process *process
}

// Cancel stops the timer if it hasn't already fired. Returns false if the
// timer already fired or was already cancelled.
func (t Timer) Cancel() bool {
	return t.process.cancelTimer(t.id)
}
