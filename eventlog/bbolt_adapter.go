package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var streamsRootBucket = []byte("beamkit_streams")

// BoltAdapter is a durable event-log adapter backed by bbolt. Each stream
// is its own bucket nested under streamsRootBucket; bbolt's native per-bucket NextSequence
// counter gives us "monotonic, never reused after truncation, persists
// across restarts" for free — exactly the invariants spec §4.4 requires.
//
// No teacher equivalent; bbolt named from pack manifests per DESIGN.md.
type BoltAdapter struct {
	db *bolt.DB
}

// OpenBoltAdapter opens (creating if needed) a bbolt database at path.
func OpenBoltAdapter(path string) (*BoltAdapter, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bbolt db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(streamsRootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create streams root bucket")
	}
	return &BoltAdapter{db: db}, nil
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func seqFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}

func (a *BoltAdapter) Append(streamName string, entries []Entry) (uint64, error) {
	var lastSeq uint64
	err := a.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(streamsRootBucket)
		b, err := root.CreateBucketIfNotExists([]byte(streamName))
		if err != nil {
			return err
		}
		now := time.Now()
		for _, e := range entries {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			e.Seq = seq
			e.Timestamp = now
			raw, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(seq), raw); err != nil {
				return err
			}
			lastSeq = seq
		}
		return nil
	})
	return lastSeq, err
}

func (a *BoltAdapter) Read(streamName string, opts ReadOptions) ([]Entry, error) {
	var out []Entry
	err := a.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(streamsRootBucket)
		b := root.Bucket([]byte(streamName))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		start := seqKey(opts.FromSeq)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			seq := seqFromKey(k)
			if opts.ToSeq != 0 && seq > opts.ToSeq {
				break
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if len(opts.Types) > 0 {
				if _, ok := opts.Types[e.Type]; !ok {
					continue
				}
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (a *BoltAdapter) ReadAfter(streamName string, afterSeq uint64) ([]Entry, error) {
	return a.Read(streamName, ReadOptions{FromSeq: afterSeq + 1})
}

func (a *BoltAdapter) GetLastSeq(streamName string) (uint64, error) {
	var seq uint64
	err := a.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(streamsRootBucket)
		b := root.Bucket([]byte(streamName))
		if b == nil {
			return nil
		}
		seq = b.Sequence()
		return nil
	})
	return seq, err
}

func (a *BoltAdapter) TruncateBefore(streamName string, seq uint64) (int, error) {
	removed := 0
	err := a.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(streamsRootBucket)
		b := root.Bucket([]byte(streamName))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if seqFromKey(k) < seq {
				kk := make([]byte, len(k))
				copy(kk, k)
				toDelete = append(toDelete, kk)
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (a *BoltAdapter) ListStreams(prefix string) ([]string, error) {
	var out []string
	err := a.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(streamsRootBucket)
		return root.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil // not a bucket
			}
			if strings.HasPrefix(string(k), prefix) {
				out = append(out, string(k))
			}
			return nil
		})
	})
	sort.Strings(out)
	return out, err
}

func (a *BoltAdapter) Close() error {
	return a.db.Close()
}
