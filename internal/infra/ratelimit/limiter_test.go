package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/infra/ratelimit"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
)

func TestLimiter_LocalFallback(t *testing.T) {
	l := ratelimit.New(nil, ratelimit.PerMinute(1), zap.NewNop())
	ctx := context.Background()

	wait, err := l.Allow(ctx, "c-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wait != 0 {
		t.Fatalf("expected first call allowed, got wait %s", wait)
	}

	wait, err = l.Allow(ctx, "c-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wait < time.Second {
		t.Errorf("expected wait of at least 1s, got %s", wait)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := ratelimit.New(nil, ratelimit.PerMinute(1), zap.NewNop())
	ctx := context.Background()

	if wait, _ := l.Allow(ctx, "c-1"); wait != 0 {
		t.Fatalf("expected c-1 allowed, got %s", wait)
	}
	if wait, _ := l.Allow(ctx, "c-2"); wait != 0 {
		t.Errorf("expected c-2 allowed, got %s", wait)
	}
}

func TestLimiter_ZeroRateDisables(t *testing.T) {
	l := ratelimit.New(nil, redis_rate.Limit{}, zap.NewNop())

	for i := 0; i < 100; i++ {
		if wait, err := l.Allow(context.Background(), "c-1"); wait != 0 || err != nil {
			t.Fatalf("expected unlimited, got wait=%s err=%v", wait, err)
		}
	}
}
