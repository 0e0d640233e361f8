package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	relayBatchSize   = 10
	relayMaxAttempts = 5
	relayIdleSleep   = 200 * time.Millisecond
)

// Relay drains pending outbox messages and publishes them. Messages are
// claimed with SKIP LOCKED so multiple relays never double-deliver, and a
// publish failure only bumps the attempt counter; the row stays pending until
// it exhausts relayMaxAttempts and is marked dead.
type Relay struct {
	pool      *pgxpool.Pool
	publisher Publisher
	log       *zap.Logger
}

func NewRelay(pool *pgxpool.Pool, publisher Publisher, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{pool: pool, publisher: publisher, log: log}
}

// Run processes outbox batches until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.DrainOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.log.Warn("outbox drain failed", zap.Error(err))
			time.Sleep(relayIdleSleep)
			continue
		}
		if n == 0 {
			time.Sleep(relayIdleSleep)
		}
	}
}

// DrainOnce claims one batch of pending messages, publishes each, and marks
// the result. It returns the number of messages claimed.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("notify: begin relay tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, relayBatchSize)
	if err != nil {
		return 0, fmt.Errorf("notify: claim outbox batch: %w", err)
	}

	batch := make([]OutboxMessage, 0, relayBatchSize)
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("notify: scan outbox row: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("notify: iterate outbox rows: %w", err)
	}

	for _, m := range batch {
		if err := r.publisher.Publish(ctx, m.Topic, m.Payload); err != nil {
			r.log.Warn("outbox publish failed",
				zap.String("outbox_id", m.ID),
				zap.String("topic", m.Topic),
				zap.Int("attempts", m.Attempts+1),
				zap.Error(err))
			status := "pending"
			if m.Attempts+1 >= relayMaxAttempts {
				status = "dead"
			}
			if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, status = $2, last_attempt = NOW() WHERE id = $1`, m.ID, status); err != nil {
				return 0, fmt.Errorf("notify: record outbox failure: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', attempts = attempts + 1, last_attempt = NOW() WHERE id = $1`, m.ID); err != nil {
			return 0, fmt.Errorf("notify: mark outbox processed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("notify: commit relay tx: %w", err)
	}

	return len(batch), nil
}
