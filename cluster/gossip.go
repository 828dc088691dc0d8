package cluster

import lru "github.com/hashicorp/golang-lru/v2"

// seenCacheSize bounds the gossip de-dup cache; beyond this many distinct
// peer ids the oldest entries are evicted, which only risks a redundant
// reconnect attempt, never a correctness issue.
const seenCacheSize = 4096

// newSeenCache creates the LRU used to avoid redialing a peer already
// known from a previous gossip round within the same epoch, grounded on
// webitel-im-delivery-service's use of hashicorp/golang-lru for bounded
// de-dup caches.
func newSeenCache() *lru.Cache[string, struct{}] {
	c, _ := lru.New[string, struct{}](seenCacheSize)
	return c
}

// onPeerList handles a received peer_list frame: for every peer not
// already known, opportunistically dial it, per spec.md §4.5 "Gossip" —
// "each side opportunistically connects to previously unknown peers, so
// the cluster forms a full mesh eventually from any single seed."
func (n *Node) onPeerList(body PeerListBody) {
	for _, peer := range body.Peers {
		if peer.String() == n.opts.NodeID.String() {
			continue
		}
		if _, seen := n.seen.Get(peer.String()); seen {
			continue
		}
		n.seen.Add(peer.String(), struct{}{})

		n.mu.RLock()
		_, known := n.peers[peer.String()]
		n.mu.RUnlock()
		if known {
			continue
		}
		go n.connectTo(peer)
	}
}

// currentPeerList snapshots every peer this node currently knows about,
// exchanged on connect per spec.md §4.5.
func (n *Node) currentPeerList() []NodeID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]NodeID, 0, len(n.peers)+1)
	out = append(out, n.opts.NodeID)
	for id := range n.peers {
		parsed, err := ParseNodeID(id)
		if err == nil {
			out = append(out, parsed)
		}
	}
	return out
}
