package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/lookout/faults"
)

// redisRecord is the msgpack-encoded value stored under the watermark
// key. UpdatedAtMs is informational, for operator inspection.
type redisRecord struct {
	WatermarkMs int64 `msgpack:"watermark_ms"`
	UpdatedAtMs int64 `msgpack:"updated_at_ms"`
}

// RedisStore persists the watermark in Redis. Compare-and-swap uses an
// optimistic WATCH/MULTI transaction on the watermark key.
type RedisStore struct {
	client *goredis.Client
	key    string
}

// NewRedisStore creates a Redis-backed watermark store from a
// connection URL (redis://[:password@]host:port[/db]).
func NewRedisStore(url, key string) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("redis watermark store requires a URL")
	}
	if key == "" {
		return nil, errors.New("redis watermark store requires a key")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis watermark store: invalid URL: %w", err)
	}
	return &RedisStore{client: goredis.NewClient(opts), key: key}, nil
}

// Load reads and decodes the watermark record.
func (s *RedisStore) Load(ctx context.Context) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, faults.Wrap(err, "load", s.key)
	}

	var rec redisRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: decode watermark record: %v",
			faults.ErrMalformedResponse, err)
	}
	return time.UnixMilli(rec.WatermarkMs).UTC(), true, nil
}

// CompareAndSwap swaps the watermark inside a WATCH transaction. The
// transaction aborts when another client touches the key between the
// read and the write, which also surfaces as a conflict.
func (s *RedisStore) CompareAndSwap(ctx context.Context, expected, next time.Time) error {
	swap := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, s.key).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
			if !expected.IsZero() {
				return fmt.Errorf("%w: watermark missing", faults.ErrWatermarkConflict)
			}
		case err != nil:
			return faults.Wrap(err, "cas", s.key)
		default:
			if expected.IsZero() {
				return fmt.Errorf("%w: watermark already exists", faults.ErrWatermarkConflict)
			}
			var rec redisRecord
			if err := msgpack.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("%w: decode watermark record: %v",
					faults.ErrMalformedResponse, err)
			}
			if rec.WatermarkMs != expected.UnixMilli() {
				return fmt.Errorf("%w: stored watermark does not match expected",
					faults.ErrWatermarkConflict)
			}
		}

		enc, err := msgpack.Marshal(redisRecord{
			WatermarkMs: next.UnixMilli(),
			UpdatedAtMs: time.Now().UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("encode watermark record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, s.key, enc, 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, swap, s.key)
	if errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent write to watermark key", faults.ErrWatermarkConflict)
	}
	return err
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
