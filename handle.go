// Package beamkit implements a BEAM/OTP-inspired actor runtime: stateful
// message-driven processes with supervision, persistence and a
// distribution layer that extends messaging across a cluster of nodes.
package beamkit

import "fmt"

// Handle is an opaque, comparable reference to a process. It remains
// valid after the process it refers to has terminated: operations against
// a dead handle fail with a KindServerNotRunning error rather than panicking or
// blocking forever.
//
// A zero Handle is never valid; use IsZero to guard against it.
type Handle struct {
	ID     string
	NodeID string
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.ID == "" && h.NodeID == ""
}

// Local reports whether h refers to a process on the given local node id.
// A Handle with an empty NodeID is always considered local.
func (h Handle) Local(localNodeID string) bool {
	return h.NodeID == "" || h.NodeID == localNodeID
}

func (h Handle) String() string {
	if h.NodeID == "" {
		return h.ID
	}
	return fmt.Sprintf("%s@%s", h.ID, h.NodeID)
}
