package globalreg

import "hash/fnv"

// nodePriority derives a deterministic tiebreak value from a node id, per
// spec.md §9 Open Question: global names need no coordination protocol to
// compute priority, just a pure function of identity. fnv32 is stdlib and
// exactly what's needed for this — no ecosystem library does "stable hash
// of a string" any more simply.
func nodePriority(nodeID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nodeID))
	return h.Sum32()
}

// wins reports whether candidate should replace existing in the mirror,
// per spec.md §4.7 "the lower pair wins" on (registeredAt, nodePriority)
// ascending.
func wins(candidate, existing Entry) bool {
	if !candidate.RegisteredAt.Equal(existing.RegisteredAt) {
		return candidate.RegisteredAt.Before(existing.RegisteredAt)
	}
	return candidate.NodePriority < existing.NodePriority
}
