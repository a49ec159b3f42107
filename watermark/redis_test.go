package watermark

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/justapithecus/lookout/faults"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://"+mr.Addr(), "lookout:watermark")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_LoadEmpty(t *testing.T) {
	s := newRedisStore(t)

	_, ok, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatal("expected empty store")
	}
}

func TestRedisStore_RoundTrip(t *testing.T) {
	s := newRedisStore(t)
	next := ts("2026-08-20T00:00:00Z")

	if err := s.CompareAndSwap(context.Background(), time.Time{}, next); err != nil {
		t.Fatalf("cas: %v", err)
	}

	got, ok, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatal("expected value after write")
	}
	if !got.Equal(next) {
		t.Errorf("expected %v, got %v", next, got)
	}
}

func TestRedisStore_SwapMatchingValue(t *testing.T) {
	s := newRedisStore(t)
	first := ts("2026-08-20T00:00:00Z")
	second := ts("2026-08-21T00:00:00Z")

	if err := s.CompareAndSwap(context.Background(), time.Time{}, first); err != nil {
		t.Fatalf("first cas: %v", err)
	}
	if err := s.CompareAndSwap(context.Background(), first, second); err != nil {
		t.Fatalf("second cas: %v", err)
	}

	got, _, _ := s.Load(context.Background())
	if !got.Equal(second) {
		t.Errorf("expected %v, got %v", second, got)
	}
}

func TestRedisStore_ConflictOnStaleExpected(t *testing.T) {
	s := newRedisStore(t)
	first := ts("2026-08-20T00:00:00Z")

	if err := s.CompareAndSwap(context.Background(), time.Time{}, first); err != nil {
		t.Fatalf("cas: %v", err)
	}

	err := s.CompareAndSwap(context.Background(), ts("2026-08-19T00:00:00Z"), ts("2026-08-21T00:00:00Z"))
	if !errors.Is(err, faults.ErrWatermarkConflict) {
		t.Fatalf("expected watermark conflict, got %v", err)
	}
}

func TestRedisStore_ConflictWhenExpectedAbsentButValueExists(t *testing.T) {
	s := newRedisStore(t)
	first := ts("2026-08-20T00:00:00Z")

	if err := s.CompareAndSwap(context.Background(), time.Time{}, first); err != nil {
		t.Fatalf("cas: %v", err)
	}

	err := s.CompareAndSwap(context.Background(), time.Time{}, ts("2026-08-21T00:00:00Z"))
	if !errors.Is(err, faults.ErrWatermarkConflict) {
		t.Fatalf("expected watermark conflict, got %v", err)
	}
}

func TestRedisStore_ConflictWhenExpectedButMissing(t *testing.T) {
	s := newRedisStore(t)

	err := s.CompareAndSwap(context.Background(), ts("2026-08-20T00:00:00Z"), ts("2026-08-21T00:00:00Z"))
	if !errors.Is(err, faults.ErrWatermarkConflict) {
		t.Fatalf("expected watermark conflict, got %v", err)
	}
}

func TestNewRedisStore_Validation(t *testing.T) {
	if _, err := NewRedisStore("", "key"); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := NewRedisStore("redis://localhost:6379", ""); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := NewRedisStore("not-a-redis-url", "key"); err == nil {
		t.Error("expected error for invalid URL")
	}
}
