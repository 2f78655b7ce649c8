package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/clustersim/clusterd/internal/types"
)

var (
	bucketLog    = []byte("log")
	bucketStable = []byte("stable")

	keyCurrentTerm = []byte("current_term")
	keyVotedFor    = []byte("voted_for")
)

// BoltStore is a bolt-backed StableStore and LogStore sharing one file.
// Log entries are keyed by big-endian index so bolt's key order matches
// log order.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the store at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLog); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketStable)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func indexKey(index uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, index)
	return k
}

// --- StableStore ---

func (s *BoltStore) GetCurrentTerm() (uint64, error) {
	var term uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStable).Get(keyCurrentTerm)
		if len(v) == 8 {
			term = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return term, err
}

func (s *BoltStore) SetCurrentTerm(term uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStable).Put(keyCurrentTerm, indexKey(term))
	})
}

func (s *BoltStore) GetVotedFor() (types.NodeID, bool, error) {
	var id types.NodeID
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStable).Get(keyVotedFor)
		if v != nil {
			id = types.NodeID(v)
			ok = true
		}
		return nil
	})
	return id, ok, err
}

func (s *BoltStore) SetVotedFor(id types.NodeID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStable).Put(keyVotedFor, []byte(id))
	})
}

func (s *BoltStore) ClearVotedFor() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStable).Delete(keyVotedFor)
	})
}

// --- LogStore ---

func (s *BoltStore) LastIndex() (uint64, error) {
	var last uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketLog).Cursor().Last()
		if k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return last, err
}

func (s *BoltStore) TermAt(index uint64) (uint64, error) {
	var entry LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLog).Get(indexKey(index))
		if v == nil {
			return fmt.Errorf("no entry at index %d", index)
		}
		return json.Unmarshal(v, &entry)
	})
	if err != nil {
		return 0, err
	}
	return entry.Term, nil
}

func (s *BoltStore) Append(entries []LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		for _, e := range entries {
			v, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(indexKey(e.Index), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ReadRange(lo, hi uint64) ([]LogEntry, error) {
	if lo < 1 || lo > hi {
		return nil, fmt.Errorf("invalid range [%d, %d]", lo, hi)
	}
	out := make([]LogEntry, 0, hi-lo+1)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLog).Cursor()
		for k, v := c.Seek(indexKey(lo)); k != nil && binary.BigEndian.Uint64(k) <= hi; k, v = c.Next() {
			var e LogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) != hi-lo+1 {
		return nil, fmt.Errorf("range [%d, %d] has gaps: got %d entries", lo, hi, len(out))
	}
	return out, nil
}

func (s *BoltStore) DeleteFrom(index uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLog).Cursor()
		for k, _ := c.Seek(indexKey(index)); k != nil; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}
