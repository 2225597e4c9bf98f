package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/redis/go-redis/v9"
)

type usageStore struct {
	client *redis.Client
}

func bucketKey(deviceID string, day time.Time, appName string) string {
	return fmt.Sprintf("%s:bucket:%s:%d:%s", keyPrefix, deviceID, day.UTC().Unix(), appName)
}

func dayIndexKey(day time.Time) string {
	return fmt.Sprintf("%s:buckets:day:%d", keyPrefix, day.UTC().Unix())
}

func encodeUsageBucket(bucket storage.UsageBucket) (map[string]interface{}, error) {
	hourly, err := json.Marshal(bucket.Hourly)
	if err != nil {
		return nil, fmt.Errorf("encode hourly usage: %w", err)
	}
	return map[string]interface{}{
		"device_id": bucket.DeviceID,
		"day":       strconv.FormatInt(bucket.Day.UTC().Unix(), 10),
		"app_name":  bucket.AppName,
		"hourly":    string(hourly),
	}, nil
}

func parseUsageBucket(data map[string]string) (*storage.UsageBucket, error) {
	daySeconds, err := strconv.ParseInt(data["day"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse bucket day: %w", err)
	}

	bucket := storage.UsageBucket{
		DeviceID: data["device_id"],
		Day:      time.Unix(daySeconds, 0).UTC(),
		AppName:  data["app_name"],
	}
	if err := json.Unmarshal([]byte(data["hourly"]), &bucket.Hourly); err != nil {
		return nil, fmt.Errorf("parse hourly usage: %w", err)
	}
	return &bucket, nil
}

func (s *usageStore) GetBucket(ctx context.Context, deviceID string, day time.Time, appName string) (*storage.UsageBucket, error) {
	data, err := s.client.HGetAll(ctx, bucketKey(deviceID, day, appName)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	return parseUsageBucket(data)
}

func (s *usageStore) PutBucket(ctx context.Context, bucket storage.UsageBucket) error {
	fields, err := encodeUsageBucket(bucket)
	if err != nil {
		return err
	}

	key := bucketKey(bucket.DeviceID, bucket.Day, bucket.AppName)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, dayIndexKey(bucket.Day), key)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *usageStore) ListBuckets(ctx context.Context, filter storage.BucketFilter) ([]storage.UsageBucket, error) {
	var keys []string
	for _, day := range filter.Days {
		members, err := s.client.SMembers(ctx, dayIndexKey(day)).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, members...)
	}

	if len(keys) == 0 {
		return []storage.UsageBucket{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	buckets := make([]storage.UsageBucket, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		bucket, err := parseUsageBucket(data)
		if err != nil {
			continue
		}
		if filter.Matches(bucket) {
			buckets = append(buckets, *bucket)
		}
	}
	return buckets, nil
}

func (s *usageStore) ShiftDays(ctx context.Context, days int) (int, error) {
	// Collect every bucket before rewriting anything: a shifted key can
	// collide with a key the scan has not visited yet.
	var (
		cursor  uint64
		oldKeys []string
		buckets []storage.UsageBucket
	)
	pattern := keyPrefix + ":bucket:*"

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, err
		}

		for _, key := range keys {
			data, err := s.client.HGetAll(ctx, key).Result()
			if err != nil {
				return 0, err
			}
			if len(data) == 0 {
				continue
			}
			bucket, err := parseUsageBucket(data)
			if err != nil {
				return 0, err
			}
			oldKeys = append(oldKeys, key)
			buckets = append(buckets, *bucket)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	pipe := s.client.TxPipeline()
	for i, key := range oldKeys {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, dayIndexKey(buckets[i].Day), key)
	}
	for i := range buckets {
		buckets[i].Day = buckets[i].Day.AddDate(0, 0, days)
		fields, err := encodeUsageBucket(buckets[i])
		if err != nil {
			return 0, err
		}
		newKey := bucketKey(buckets[i].DeviceID, buckets[i].Day, buckets[i].AppName)
		pipe.HSet(ctx, newKey, fields)
		pipe.SAdd(ctx, dayIndexKey(buckets[i].Day), newKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(buckets), nil
}
