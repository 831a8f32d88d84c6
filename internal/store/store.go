// Package store persists the BeatSaver detail snapshot in BoltDB.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/beatfetch/internal/domain"
)

// Bucket names
var (
	bucketDetails = []byte("details")
	bucketMeta    = []byte("meta")
)

var keyRefreshedAt = []byte("refreshedAt")

// DetailStore holds the bulk snapshot of BeatSaver records, keyed by
// lowercase content hash. A full replacement happens at most once per TTL
// window; everything else is reads.
type DetailStore struct {
	db *bolt.DB
	mu sync.RWMutex

	// In-memory cache for hot-path reads (promoted on access)
	cache map[string][]byte
}

// Open opens (or creates) the snapshot database at dir/details.db.
// An empty dir selects memory-only mode with no persistence, used by tests.
func Open(dir string) (*DetailStore, error) {
	if dir == "" {
		return &DetailStore{cache: make(map[string][]byte)}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "details.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketDetails, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DetailStore{db: db, cache: make(map[string][]byte)}, nil
}

func (s *DetailStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RefreshedAt reports when the snapshot was last replaced. The zero time
// means the store has never been filled.
func (s *DetailStore) RefreshedAt() time.Time {
	if s.db == nil {
		return time.Time{}
	}

	var when time.Time
	s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyRefreshedAt); v != nil {
			when.UnmarshalText(v)
		}
		return nil
	})
	return when
}

// Get returns the snapshot record for a content hash, case-insensitively.
func (s *DetailStore) Get(hash string) (*domain.DetailRecord, bool) {
	key := strings.ToLower(hash)

	// Check memory cache first
	s.mu.RLock()
	if data, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return decodeRecord(data)
	}
	s.mu.RUnlock()

	if s.db == nil {
		return nil, false
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDetails)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})

	if data == nil {
		return nil, false
	}

	// Promote to memory cache
	s.mu.Lock()
	s.cache[key] = data
	s.mu.Unlock()

	return decodeRecord(data)
}

// Replace swaps the whole snapshot in one transaction. load is handed a put
// function and is expected to drive it once per record; any error from load
// rolls the transaction back, leaving the previous snapshot untouched.
func (s *DetailStore) Replace(load func(put func(rec *domain.DetailRecord) error) error) error {
	// Drop the promote cache; it may reference replaced records.
	s.mu.Lock()
	s.cache = make(map[string][]byte)
	s.mu.Unlock()

	if s.db == nil {
		return load(func(rec *domain.DetailRecord) error {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.cache[strings.ToLower(rec.Hash)] = data
			s.mu.Unlock()
			return nil
		})
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketDetails); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketDetails)
		if err != nil {
			return err
		}

		err = load(func(rec *domain.DetailRecord) error {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			return b.Put([]byte(strings.ToLower(rec.Hash)), data)
		})
		if err != nil {
			return err
		}

		stamp, err := time.Now().UTC().MarshalText()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyRefreshedAt, stamp)
	})
}

func decodeRecord(data []byte) (*domain.DetailRecord, bool) {
	var rec domain.DetailRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}
