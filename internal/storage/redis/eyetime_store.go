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

type eyeTimeStore struct {
	client *redis.Client
}

func eyeTimeKey(day time.Time) string {
	return fmt.Sprintf("%s:eyetime:%d", keyPrefix, day.UTC().Unix())
}

func eyeTimeIndexKey() string {
	return keyPrefix + ":eyetime:days"
}

func encodeEyeTimeBucket(bucket storage.EyeTimeBucket) (map[string]interface{}, error) {
	hourly, err := json.Marshal(bucket.Hourly)
	if err != nil {
		return nil, fmt.Errorf("encode hourly usage: %w", err)
	}
	return map[string]interface{}{
		"day":    strconv.FormatInt(bucket.Day.UTC().Unix(), 10),
		"hourly": string(hourly),
	}, nil
}

func parseEyeTimeBucket(data map[string]string) (*storage.EyeTimeBucket, error) {
	daySeconds, err := strconv.ParseInt(data["day"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse bucket day: %w", err)
	}

	bucket := storage.EyeTimeBucket{Day: time.Unix(daySeconds, 0).UTC()}
	if err := json.Unmarshal([]byte(data["hourly"]), &bucket.Hourly); err != nil {
		return nil, fmt.Errorf("parse hourly usage: %w", err)
	}
	return &bucket, nil
}

func (s *eyeTimeStore) GetDay(ctx context.Context, day time.Time) (*storage.EyeTimeBucket, error) {
	data, err := s.client.HGetAll(ctx, eyeTimeKey(day)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	return parseEyeTimeBucket(data)
}

func (s *eyeTimeStore) PutDay(ctx context.Context, bucket storage.EyeTimeBucket) error {
	fields, err := encodeEyeTimeBucket(bucket)
	if err != nil {
		return err
	}

	key := eyeTimeKey(bucket.Day)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.ZAdd(ctx, eyeTimeIndexKey(), redis.Z{
		Score:  float64(bucket.Day.UTC().Unix()),
		Member: key,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// ListRange returns buckets with from <= Day < to, using the day index
// sorted set for the range scan.
func (s *eyeTimeStore) ListRange(ctx context.Context, from, to time.Time) ([]storage.EyeTimeBucket, error) {
	keys, err := s.client.ZRangeByScore(ctx, eyeTimeIndexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UTC().Unix(), 10),
		Max: "(" + strconv.FormatInt(to.UTC().Unix(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		return []storage.EyeTimeBucket{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	buckets := make([]storage.EyeTimeBucket, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		bucket, err := parseEyeTimeBucket(data)
		if err != nil {
			continue
		}
		buckets = append(buckets, *bucket)
	}
	return buckets, nil
}

func (s *eyeTimeStore) ShiftDays(ctx context.Context, days int) (int, error) {
	keys, err := s.client.ZRange(ctx, eyeTimeIndexKey(), 0, -1).Result()
	if err != nil {
		return 0, err
	}

	// Read everything before rewriting: shifted keys can collide with
	// keys not yet read.
	var buckets []storage.EyeTimeBucket
	for _, key := range keys {
		data, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		if len(data) == 0 {
			continue
		}
		bucket, err := parseEyeTimeBucket(data)
		if err != nil {
			return 0, err
		}
		buckets = append(buckets, *bucket)
	}

	pipe := s.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	pipe.Del(ctx, eyeTimeIndexKey())
	for i := range buckets {
		buckets[i].Day = buckets[i].Day.AddDate(0, 0, days)
		fields, err := encodeEyeTimeBucket(buckets[i])
		if err != nil {
			return 0, err
		}
		newKey := eyeTimeKey(buckets[i].Day)
		pipe.HSet(ctx, newKey, fields)
		pipe.ZAdd(ctx, eyeTimeIndexKey(), redis.Z{
			Score:  float64(buckets[i].Day.UTC().Unix()),
			Member: newKey,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(buckets), nil
}
