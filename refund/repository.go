package refund

import (
	"context"
	"errors"
	"fmt"

	"freightfloo/payment"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no refund row matches the reference.
	ErrNotFound = errors.New("refund: not found")
	// ErrPendingExists signals a pending refund already covers the payment.
	ErrPendingExists = errors.New("refund: a pending refund already exists for this payment")
	// ErrNoAcceptedBid signals the shipment has no accepted carrier on file.
	ErrNoAcceptedBid = errors.New("refund: shipment has no accepted bid")
)

const refundColumns = `id, payment_id, requester_id, amount, reason, note, status, external_ref, created_at, updated_at`

// Repository defines the data access required by the refund orchestrator.
type Repository interface {
	PaymentForUpdate(ctx context.Context, tx pgx.Tx, paymentID string) (payment.Payment, error)
	HasPending(ctx context.Context, tx pgx.Tx, paymentID string) (bool, error)
	Insert(ctx context.Context, tx pgx.Tx, r Refund) (Refund, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, id, externalRef string) (Refund, error)
	MarkPaymentRefunded(ctx context.Context, tx pgx.Tx, paymentID string) error
	CancelShipment(ctx context.Context, tx pgx.Tx, shipmentID string) error
	AcceptedCarrier(ctx context.Context, tx pgx.Tx, shipmentID string) (string, error)
	GetByID(ctx context.Context, id string) (Refund, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) PaymentForUpdate(ctx context.Context, tx pgx.Tx, paymentID string) (payment.Payment, error) {
	const query = `
		SELECT id, shipment_id, bid_id, payer_id, amount, currency, status, intent_id, created_at, updated_at
		FROM payments
		WHERE id = $1
		FOR UPDATE
	`

	var p payment.Payment
	err := tx.QueryRow(ctx, query, paymentID).Scan(
		&p.ID,
		&p.ShipmentID,
		&p.BidID,
		&p.PayerID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.IntentID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.Payment{}, ErrNotFound
		}
		return payment.Payment{}, fmt.Errorf("refund: lock payment: %w", err)
	}
	return p, nil
}

func (r *PGRepository) HasPending(ctx context.Context, tx pgx.Tx, paymentID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM refunds WHERE payment_id = $1 AND status = 'pending')`,
		paymentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("refund: check pending: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, ref Refund) (Refund, error) {
	query := `
		INSERT INTO refunds (id, payment_id, requester_id, amount, reason, note, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7)
		RETURNING ` + refundColumns

	created, err := scanRefund(tx.QueryRow(ctx, query, ref.ID, ref.PaymentID, ref.RequesterID, ref.Amount, ref.Reason, ref.Note, ref.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Refund{}, ErrPendingExists
		}
		return Refund{}, fmt.Errorf("refund: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) MarkCompleted(ctx context.Context, tx pgx.Tx, id, externalRef string) (Refund, error) {
	query := `
		UPDATE refunds
		SET status = 'completed', external_ref = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + refundColumns

	ref, err := scanRefund(tx.QueryRow(ctx, query, id, externalRef))
	if err != nil {
		return Refund{}, fmt.Errorf("refund: mark completed: %w", err)
	}
	return ref, nil
}

func (r *PGRepository) MarkPaymentRefunded(ctx context.Context, tx pgx.Tx, paymentID string) error {
	if _, err := tx.Exec(ctx,
		`UPDATE payments SET status = 'refunded', updated_at = NOW() WHERE id = $1`,
		paymentID,
	); err != nil {
		return fmt.Errorf("refund: mark payment refunded: %w", err)
	}
	return nil
}

// CancelShipment reverses the assignment after a successful refund.
func (r *PGRepository) CancelShipment(ctx context.Context, tx pgx.Tx, shipmentID string) error {
	const query = `
		UPDATE shipments
		SET status = 'cancelled',
		    payment_status = 'refunded',
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := tx.Exec(ctx, query, shipmentID); err != nil {
		return fmt.Errorf("refund: cancel shipment: %w", err)
	}
	return nil
}

func (r *PGRepository) AcceptedCarrier(ctx context.Context, tx pgx.Tx, shipmentID string) (string, error) {
	var carrierID string
	err := tx.QueryRow(ctx,
		`SELECT carrier_id FROM bids WHERE shipment_id = $1 AND status = 'accepted'`,
		shipmentID,
	).Scan(&carrierID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoAcceptedBid
		}
		return "", fmt.Errorf("refund: accepted carrier: %w", err)
	}
	return carrierID, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1`
	ref, err := scanRefund(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Refund{}, ErrNotFound
		}
		return Refund{}, fmt.Errorf("refund: get by id: %w", err)
	}
	return ref, nil
}

func scanRefund(row pgx.Row) (Refund, error) {
	var ref Refund
	return ref, row.Scan(
		&ref.ID,
		&ref.PaymentID,
		&ref.RequesterID,
		&ref.Amount,
		&ref.Reason,
		&ref.Note,
		&ref.Status,
		&ref.ExternalRef,
		&ref.CreatedAt,
		&ref.UpdatedAt,
	)
}
