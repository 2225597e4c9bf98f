package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"go.etcd.io/bbolt"
)

type eyeTimeStore struct {
	db *bbolt.DB
}

func (s *eyeTimeStore) GetDay(ctx context.Context, day time.Time) (*storage.EyeTimeBucket, error) {
	return getValue[storage.EyeTimeBucket](ctx, s.db, bucketEyeTime, dayKey(day))
}

func (s *eyeTimeStore) PutDay(ctx context.Context, bucket storage.EyeTimeBucket) error {
	bucket.Day = bucket.Day.UTC()
	return putValue(ctx, s.db, bucketEyeTime, dayKey(bucket.Day), bucket)
}

// ListRange returns buckets with from <= Day < to. RFC 3339 keys sort
// chronologically, so a cursor range scan suffices.
func (s *eyeTimeStore) ListRange(ctx context.Context, from, to time.Time) ([]storage.EyeTimeBucket, error) {
	var buckets []storage.EyeTimeBucket
	min := []byte(dayKey(from))
	max := []byte(dayKey(to))

	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketEyeTime))
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucketEyeTime)
		}
		c := b.Cursor()
		for k, v := c.Seek(min); k != nil && string(k) < string(max); k, v = c.Next() {
			var bucket storage.EyeTimeBucket
			if err := unmarshal(v, &bucket); err != nil {
				return err
			}
			buckets = append(buckets, bucket)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buckets, nil
}

func (s *eyeTimeStore) ShiftDays(ctx context.Context, days int) (int, error) {
	shifted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketEyeTime))
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucketEyeTime)
		}

		type rewrite struct {
			oldKey []byte
			newKey []byte
			data   []byte
		}
		var rewrites []rewrite

		err := b.ForEach(func(k, v []byte) error {
			var bucket storage.EyeTimeBucket
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
				newKey: []byte(dayKey(bucket.Day)),
				data:   data,
			})
			return nil
		})
		if err != nil {
			return err
		}

		// All deletes before any put, same as the usage store: shifted
		// keys collide with neighboring days' original keys.
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
