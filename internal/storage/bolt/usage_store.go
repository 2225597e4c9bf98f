package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

// usageKey builds the composite key. Device and app names may contain
// anything except the separator; day keys are fixed-width RFC 3339.
func usageKey(deviceID string, day time.Time, appName string) string {
	return deviceID + "|" + dayKey(day) + "|" + appName
}

func (s *usageStore) GetBucket(ctx context.Context, deviceID string, day time.Time, appName string) (*storage.UsageBucket, error) {
	return getValue[storage.UsageBucket](ctx, s.db, bucketUsage, usageKey(deviceID, day, appName))
}

func (s *usageStore) PutBucket(ctx context.Context, bucket storage.UsageBucket) error {
	bucket.Day = bucket.Day.UTC()
	return putValue(ctx, s.db, bucketUsage, usageKey(bucket.DeviceID, bucket.Day, bucket.AppName), bucket)
}

// ListBuckets scans the whole collection and filters in code, the record
// count for a home deployment being small.
func (s *usageStore) ListBuckets(ctx context.Context, filter storage.BucketFilter) ([]storage.UsageBucket, error) {
	var buckets []storage.UsageBucket
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketUsage))
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucketUsage)
		}
		return b.ForEach(func(k, v []byte) error {
			var bucket storage.UsageBucket
			if err := unmarshal(v, &bucket); err != nil {
				return err
			}
			if filter.Matches(&bucket) {
				buckets = append(buckets, bucket)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return buckets, nil
}

func (s *usageStore) ShiftDays(ctx context.Context, days int) (int, error) {
	shifted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketUsage))
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucketUsage)
		}

		type rewrite struct {
			oldKey []byte
			newKey []byte
			data   []byte
		}
		var rewrites []rewrite

		err := b.ForEach(func(k, v []byte) error {
			var bucket storage.UsageBucket
			if err := unmarshal(v, &bucket); err != nil {
				return err
			}
			bucket.Day = bucket.Day.AddDate(0, 0, days)
			data, err := marshal(bucket)
			if err != nil {
				return err
			}
			rewrites = append(rewrites, rewrite{
				oldKey: append([]byte(nil), k...),
				newKey: []byte(usageKey(bucket.DeviceID, bucket.Day, bucket.AppName)),
				data:   data,
			})
			return nil
		})
		if err != nil {
			return err
		}

		// All deletes before any put: a shifted key can collide with a
		// neighboring record's original key, and interleaving would
		// destroy the freshly written record.
		for _, r := range rewrites {
			if err := b.Delete(r.oldKey); err != nil {
				return err
			}
		}
		for _, r := range rewrites {
			if err := b.Put(r.newKey, r.data); err != nil {
				return err
			}
			shifted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return shifted, nil
}
