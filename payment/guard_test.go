package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func newTestGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewGuard(rdb), mr
}

func TestGuard_AccountAge(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	if err := g.Check(ctx, "payer-1", time.Now().Add(-10*time.Minute), decimal.NewFromInt(100)); !errors.Is(err, ErrAccountTooNew) {
		t.Fatalf("expected ErrAccountTooNew, got %v", err)
	}
	if err := g.Check(ctx, "payer-1", time.Now().Add(-2*time.Hour), decimal.NewFromInt(100)); err != nil {
		t.Fatalf("expected nil error for an aged account, got %v", err)
	}
}

func TestGuard_SinglePaymentCap(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	createdAt := time.Now().Add(-24 * time.Hour)

	if err := g.Check(ctx, "payer-1", createdAt, decimal.NewFromInt(15000)); err != nil {
		t.Fatalf("amount at the cap should pass, got %v", err)
	}
	if err := g.Check(ctx, "payer-1", createdAt, decimal.NewFromInt(15001)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited above the cap, got %v", err)
	}
}

func TestGuard_DailyCapAccumulates(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	createdAt := time.Now().Add(-24 * time.Hour)

	for i := 0; i < 4; i++ {
		if err := g.Check(ctx, "payer-1", createdAt, decimal.NewFromInt(12500)); err != nil {
			t.Fatalf("payment %d should pass, got %v", i+1, err)
		}
		if err := g.RecordIntent(ctx, "payer-1", decimal.NewFromInt(12500)); err != nil {
			t.Fatalf("record intent: %v", err)
		}
	}

	// 4 x 12500 = 50000; the next one breaches the daily cap.
	if err := g.Check(ctx, "payer-1", createdAt, decimal.NewFromInt(1)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited at the daily cap, got %v", err)
	}

	// Other payers are unaffected.
	if err := g.Check(ctx, "payer-2", createdAt, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("expected nil for another payer, got %v", err)
	}
}

func TestGuard_FailureThrottle(t *testing.T) {
	g, mr := newTestGuard(t)
	ctx := context.Background()
	createdAt := time.Now().Add(-24 * time.Hour)

	for i := 0; i < 3; i++ {
		if err := g.RecordFailure(ctx, "payer-1"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	if err := g.Check(ctx, "payer-1", createdAt, decimal.NewFromInt(100)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after 3 failures, got %v", err)
	}

	// The throttle clears once the window passes.
	mr.FastForward(31 * time.Minute)
	if err := g.Check(ctx, "payer-1", createdAt, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("expected nil after the window expired, got %v", err)
	}
}

func TestGuard_DailyKeyRollsOver(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	createdAt := time.Now().Add(-72 * time.Hour)

	day1 := time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC)
	g.WithClock(func() time.Time { return day1 })

	if err := g.RecordIntent(ctx, "payer-1", decimal.NewFromInt(50000)); err != nil {
		t.Fatalf("record intent: %v", err)
	}
	if err := g.Check(ctx, "payer-1", createdAt, decimal.NewFromInt(1)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on day one, got %v", err)
	}

	// A new calendar day starts a fresh counter.
	g.WithClock(func() time.Time { return day1.Add(2 * time.Hour) })
	if err := g.Check(ctx, "payer-1", createdAt, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("expected nil on the next day, got %v", err)
	}
}
