package rpc

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketReplays = []byte("replays")

const defaultReplayTTL = 24 * time.Hour

// ReplayRecord stores the cached response for an idempotency key.
type ReplayRecord struct {
	StatusCode int       `json:"statusCode"`
	Body       []byte    `json:"body"`
	StoredAt   time.Time `json:"storedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// ReplayStore persists responses to mutating calls in BoltDB so repeated
// Idempotency-Key submissions return the original outcome instead of running
// the operation twice.
type ReplayStore struct {
	db  *bolt.DB
	ttl time.Duration
}

// NewReplayStore opens (and migrates) the BoltDB file backing the cache.
func NewReplayStore(path string, ttl time.Duration) (*ReplayStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketReplays)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	return &ReplayStore{db: db, ttl: ttl}, nil
}

// TTL reports how long cached responses stay replayable.
func (s *ReplayStore) TTL() time.Duration {
	if s == nil {
		return defaultReplayTTL
	}
	return s.ttl
}

// Close releases the underlying Bolt database handle.
func (s *ReplayStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached response for a key when it has not expired. Expired
// entries are deleted on sight.
func (s *ReplayStore) Get(key string, now time.Time) (ReplayRecord, bool, error) {
	var record ReplayRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketReplays)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if now.After(record.ExpiresAt) {
			record = ReplayRecord{}
			return bucket.Delete([]byte(key))
		}
		return nil
	})
	if err != nil {
		return ReplayRecord{}, false, err
	}
	if record.StatusCode == 0 && len(record.Body) == 0 {
		return ReplayRecord{}, false, nil
	}
	return record, true, nil
}

// Put stores the response envelope for the supplied key.
func (s *ReplayStore) Put(key string, record ReplayRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketReplays).Put([]byte(key), payload)
	})
}
