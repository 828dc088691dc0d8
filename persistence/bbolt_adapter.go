package persistence

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var stateBucket = []byte("beamkit_state")

// BoltAdapter is a durable StorageAdapter backed by an embedded bbolt
// database, demonstrating the "pluggable storage adapters" requirement of
// spec §4.4 with a real durable engine rather than the hand-rolled
// FileAdapter. bbolt's transactions give us Save's atomicity invariant for
// free: a Save either commits the whole envelope or nothing.
//
// No teacher equivalent; bbolt is named from pack manifests (moby-moby,
// rclone-rclone, cuemby-warren, shamwow-metriq-tendermint) per DESIGN.md.
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
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create state bucket")
	}
	return &BoltAdapter{db: db}, nil
}

func (a *BoltAdapter) Save(key string, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put([]byte(key), b)
	})
}

func (a *BoltAdapter) Load(key string) (Envelope, bool, error) {
	var env Envelope
	found := false
	err := a.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(stateBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		cp := make([]byte, len(v))
		copy(cp, v)
		return json.Unmarshal(cp, &env)
	})
	if err != nil {
		return Envelope{}, false, errors.Wrap(err, "load")
	}
	return env, found, nil
}

func (a *BoltAdapter) Delete(key string) (bool, error) {
	existed := false
	err := a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(stateBucket)
		if b.Get([]byte(key)) != nil {
			existed = true
		}
		return b.Delete([]byte(key))
	})
	return existed, err
}

func (a *BoltAdapter) Exists(key string) (bool, error) {
	exists := false
	err := a.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(stateBucket).Get([]byte(key)) != nil
		return nil
	})
	return exists, err
}

func (a *BoltAdapter) ListKeys(prefix string) ([]string, error) {
	var keys []string
	err := a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(stateBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if strings.HasPrefix(string(k), prefix) {
				keys = append(keys, string(k))
			}
		}
		return nil
	})
	return keys, err
}

func (a *BoltAdapter) Cleanup(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	err := a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(stateBucket)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var env Envelope
			if err := json.Unmarshal(v, &env); err != nil {
				continue
			}
			if env.Metadata.PersistedAt.Before(cutoff) {
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

func (a *BoltAdapter) Close() error {
	return a.db.Close()
}
