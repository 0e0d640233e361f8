package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var (
	// ErrAccountTooNew blocks freshly registered accounts from paying.
	ErrAccountTooNew = errors.New("payment: account too new to pay")
	// ErrRateLimited signals a velocity cap or failure throttle fired.
	ErrRateLimited = errors.New("payment: rate limited")
)

const (
	minAccountAge     = time.Hour
	failureWindow     = 30 * time.Minute
	maxRecentFailures = 3
	dailyKeyTTL       = 24 * time.Hour
)

var (
	maxSinglePayment = decimal.NewFromInt(15000)
	dailyCap         = decimal.NewFromInt(50000)
)

// Guard runs the security gate ahead of any charge-processor call: account
// age, per-payment and daily velocity caps, and a recent-failure throttle.
// Counters live in Redis so multiple instances share one view.
type Guard struct {
	rdb *redis.Client
	now func() time.Time
}

func NewGuard(rdb *redis.Client) *Guard {
	return &Guard{rdb: rdb, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Check evaluates the gate for a prospective payment. It is called before the
// processor is ever contacted.
func (g *Guard) Check(ctx context.Context, payerID string, accountCreatedAt time.Time, amount decimal.Decimal) error {
	if g.now().Sub(accountCreatedAt) < minAccountAge {
		return ErrAccountTooNew
	}
	if amount.GreaterThan(maxSinglePayment) {
		return fmt.Errorf("%w: amount exceeds single-payment cap", ErrRateLimited)
	}

	failures, err := g.rdb.Get(ctx, g.failureKey(payerID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("payment: read failure counter: %w", err)
	}
	if failures >= maxRecentFailures {
		return fmt.Errorf("%w: too many recent failed payments", ErrRateLimited)
	}

	spent, err := g.rdb.Get(ctx, g.dailyKey(payerID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("payment: read daily counter: %w", err)
	}
	if spent != "" {
		current, err := decimal.NewFromString(spent)
		if err != nil {
			return fmt.Errorf("payment: parse daily counter: %w", err)
		}
		if current.Add(amount).GreaterThan(dailyCap) {
			return fmt.Errorf("%w: daily payment cap reached", ErrRateLimited)
		}
	} else if amount.GreaterThan(dailyCap) {
		return fmt.Errorf("%w: daily payment cap reached", ErrRateLimited)
	}

	return nil
}

// RecordIntent accumulates the amount into the payer's daily counter.
func (g *Guard) RecordIntent(ctx context.Context, payerID string, amount decimal.Decimal) error {
	key := g.dailyKey(payerID)
	f, _ := amount.Float64()
	if err := g.rdb.IncrByFloat(ctx, key, f).Err(); err != nil {
		return fmt.Errorf("payment: bump daily counter: %w", err)
	}
	if err := g.rdb.Expire(ctx, key, dailyKeyTTL).Err(); err != nil {
		return fmt.Errorf("payment: expire daily counter: %w", err)
	}
	return nil
}

// RecordFailure bumps the payer's failed-payment counter.
func (g *Guard) RecordFailure(ctx context.Context, payerID string) error {
	key := g.failureKey(payerID)
	if err := g.rdb.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("payment: bump failure counter: %w", err)
	}
	if err := g.rdb.Expire(ctx, key, failureWindow).Err(); err != nil {
		return fmt.Errorf("payment: expire failure counter: %w", err)
	}
	return nil
}

func (g *Guard) dailyKey(payerID string) string {
	return fmt.Sprintf("payguard:daily:%s:%s", payerID, g.now().UTC().Format("2006-01-02"))
}

func (g *Guard) failureKey(payerID string) string {
	return fmt.Sprintf("payguard:failures:%s", payerID)
}
