package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bucket := NewTokenBucket(client, capacity, refill, time.Minute).WithClock(func() time.Time { return now })
	return bucket, &now
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newBucket(t, 2, 1)

	d, err := bucket.Allow(ctx, "10.0.0.1")
	if err != nil || !d.Allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", d.Allowed, err)
	}
	d, _ = bucket.Allow(ctx, "10.0.0.1")
	if !d.Allowed {
		t.Fatalf("expected second token allowed")
	}
	d, _ = bucket.Allow(ctx, "10.0.0.1")
	if d.Allowed {
		t.Fatalf("expected third token to be rejected")
	}
	if d.RetryAfter != time.Second {
		t.Fatalf("expected retry after 1s, got %s", d.RetryAfter)
	}

	d, _ = bucket.Allow(ctx, "10.0.0.2")
	if !d.Allowed {
		t.Fatalf("clients must not share a bucket")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	ctx := context.Background()
	bucket, now := newBucket(t, 1, 2)

	if d, _ := bucket.Allow(ctx, "client"); !d.Allowed {
		t.Fatalf("expected first token allowed")
	}
	if d, _ := bucket.Allow(ctx, "client"); d.Allowed {
		t.Fatalf("expected empty bucket")
	}

	*now = now.Add(250 * time.Millisecond)
	d, _ := bucket.Allow(ctx, "client")
	if d.Allowed {
		t.Fatalf("half a token is not enough")
	}
	if d.RetryAfter != 250*time.Millisecond {
		t.Fatalf("expected retry after 250ms, got %s", d.RetryAfter)
	}

	*now = now.Add(250 * time.Millisecond)
	if d, _ := bucket.Allow(ctx, "client"); !d.Allowed {
		t.Fatalf("expected token refilled after 500ms")
	}
}
