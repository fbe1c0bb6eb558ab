package calendar

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCacheServesWithinTTL(t *testing.T) {
	t.Parallel()
	calls := 0
	upstream := ProviderFunc(func(ctx context.Context, from, to time.Time) ([]Event, error) {
		calls++
		return []Event{{ID: "e"}}, nil
	})
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	c := WithCache(upstream, time.Minute).(*cachedProvider)
	c.now = func() time.Time { return now }

	from, to := now, now.Add(24*time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := c.Events(context.Background(), from.Add(time.Duration(i)*time.Second), to); err != nil {
			t.Fatalf("Events: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Events(context.Background(), from, to); err != nil {
		t.Fatalf("Events: %v", err)
	}
	if calls != 2 {
		t.Fatalf("upstream calls after expiry = %d, want 2", calls)
	}
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	t.Parallel()
	calls := 0
	boom := errors.New("boom")
	upstream := ProviderFunc(func(ctx context.Context, from, to time.Time) ([]Event, error) {
		calls++
		return nil, boom
	})
	c := WithCache(upstream, time.Hour)
	now := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := c.Events(context.Background(), now, now.Add(time.Hour)); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRateLimitHonorsContext(t *testing.T) {
	t.Parallel()
	upstream := ProviderFunc(func(ctx context.Context, from, to time.Time) ([]Event, error) {
		return nil, nil
	})
	p := WithRateLimit(upstream, 0.001, 1)
	now := time.Now()
	if _, err := p.Events(context.Background(), now, now); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Events(ctx, now, now); err == nil {
		t.Fatal("second call should be throttled until ctx expires")
	}
}
