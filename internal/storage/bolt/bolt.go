package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketUsage   = "usage_buckets"
	bucketEyeTime = "eyetime_buckets"
)

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{[]byte(bucketUsage), []byte(bucketEyeTime)} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Usage returns the usage bucket store.
func (s *Store) Usage() storage.UsageStore { return &usageStore{db: s.db} }

// EyeTime returns the eye-time bucket store.
func (s *Store) EyeTime() storage.EyeTimeStore { return &eyeTimeStore{db: s.db} }

func marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	return nil
}

func getValue[T any](ctx context.Context, db *bbolt.DB, bucket, key string) (*T, error) {
	var value *T
	err := db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucket)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		var decoded T
		if err := unmarshal(data, &decoded); err != nil {
			return err
		}
		value = &decoded
		return nil
	})
	return value, err
}

func putValue(ctx context.Context, db *bbolt.DB, bucket, key string, v interface{}) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucket)
		}
		return b.Put([]byte(key), data)
	})
}

// dayKey renders a local-midnight UTC instant as a sortable key segment.
func dayKey(day time.Time) string {
	return day.UTC().Format(time.RFC3339)
}
