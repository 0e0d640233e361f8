package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when the notification does not exist or belongs to
// someone else.
var ErrNotFound = errors.New("notify: notification not found")

// Emitter writes notification rows and outbox messages inside the caller's
// transaction, so a committed workflow mutation and its notifications are
// atomic. Actual delivery happens asynchronously via the Relay.
type Emitter struct{}

func NewEmitter() *Emitter {
	return &Emitter{}
}

// Notify records a notification for the user and enqueues an outbox message
// for downstream delivery. It must be invoked inside the caller's transaction.
func (e *Emitter) Notify(ctx context.Context, tx pgx.Tx, n Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("notify: missing user id")
	}
	if n.Type == "" {
		return fmt.Errorf("notify: missing type")
	}

	const insertSQL = `
		INSERT INTO notifications (user_id, type, title, message, shipment_id, bid_id, payment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	var id string
	if err := tx.QueryRow(ctx, insertSQL,
		n.UserID, n.Type, n.Title, n.Message, n.ShipmentID, n.BidID, n.PaymentID,
	).Scan(&id); err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}

	payload := map[string]any{
		"notification_id": id,
		"user_id":         n.UserID,
		"type":            n.Type,
		"title":           n.Title,
		"message":         n.Message,
	}
	if n.ShipmentID != nil {
		payload["shipment_id"] = *n.ShipmentID
	}
	if n.BidID != nil {
		payload["bid_id"] = *n.BidID
	}
	if n.PaymentID != nil {
		payload["payment_id"] = *n.PaymentID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal outbox payload: %w", err)
	}

	const outboxSQL = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, outboxSQL, "notification."+string(n.Type), body); err != nil {
		return fmt.Errorf("notify: enqueue outbox: %w", err)
	}

	return nil
}

// ListForUser returns the most recent notifications for a user.
func ListForUser(ctx context.Context, pool *pgxpool.Pool, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	const query = `
		SELECT id, user_id, type, title, message, shipment_id, bid_id, payment_id, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.ShipmentID, &n.BidID, &n.PaymentID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate: %w", err)
	}
	return out, nil
}

// MarkRead flags a single notification as read for its owner.
func MarkRead(ctx context.Context, pool *pgxpool.Pool, userID, notificationID string) error {
	tag, err := pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("notify: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
