package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freightfloo/bid"
	"freightfloo/shipment"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no payment row matches the reference.
	ErrNotFound = errors.New("payment: not found")
	// ErrDuplicatePayment signals a live payment already exists for the pair.
	ErrDuplicatePayment = errors.New("payment: live payment already exists for shipment and bid")
)

const paymentColumns = `id, shipment_id, bid_id, payer_id, amount, currency, status, intent_id, created_at, updated_at`

// ShipmentBidRow is the joined view of a shipment and one of its bids, read
// under row locks ahead of payment mutations.
type ShipmentBidRow struct {
	ShipmentID     string
	ShipmentOwner  string
	ShipmentStatus shipment.Status
	BidID          string
	CarrierID      string
	BidStatus      bid.Status
	Amount         decimal.Decimal
}

// Repository defines the data access required by the payment orchestrator.
type Repository interface {
	ShipmentBidForUpdate(ctx context.Context, tx pgx.Tx, shipmentID, bidID string) (ShipmentBidRow, error)
	FindLiveForUpdate(ctx context.Context, tx pgx.Tx, shipmentID, bidID string) (Payment, bool, error)
	Insert(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error)
	SetIntent(ctx context.Context, tx pgx.Tx, paymentID, intentID string) error
	GetForUpdateByID(ctx context.Context, tx pgx.Tx, id string) (Payment, error)
	GetForUpdateByIntent(ctx context.Context, tx pgx.Tx, intentID string) (Payment, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, id string) (Payment, error)
	MarkFailed(ctx context.Context, tx pgx.Tx, id string) (Payment, error)
	AssignShipment(ctx context.Context, tx pgx.Tx, shipmentID string) error
	PayerCreatedAt(ctx context.Context, payerID string) (time.Time, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) ShipmentBidForUpdate(ctx context.Context, tx pgx.Tx, shipmentID, bidID string) (ShipmentBidRow, error) {
	const query = `
		SELECT s.id, s.owner_id, s.status, b.id, b.carrier_id, b.status, b.amount
		FROM shipments s
		JOIN bids b ON b.shipment_id = s.id
		WHERE s.id = $1 AND b.id = $2
		FOR UPDATE
	`

	var row ShipmentBidRow
	err := tx.QueryRow(ctx, query, shipmentID, bidID).Scan(
		&row.ShipmentID,
		&row.ShipmentOwner,
		&row.ShipmentStatus,
		&row.BidID,
		&row.CarrierID,
		&row.BidStatus,
		&row.Amount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ShipmentBidRow{}, ErrNotFound
		}
		return ShipmentBidRow{}, fmt.Errorf("payment: lock shipment and bid: %w", err)
	}
	return row, nil
}

func (r *PGRepository) FindLiveForUpdate(ctx context.Context, tx pgx.Tx, shipmentID, bidID string) (Payment, bool, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE shipment_id = $1 AND bid_id = $2 AND status IN ('pending','completed')
		FOR UPDATE
	`

	p, err := scanPayment(tx.QueryRow(ctx, query, shipmentID, bidID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, false, nil
		}
		return Payment{}, false, fmt.Errorf("payment: find live: %w", err)
	}
	return p, true, nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error) {
	query := `
		INSERT INTO payments (id, shipment_id, bid_id, payer_id, amount, currency, status, intent_id)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + paymentColumns

	created, err := scanPayment(tx.QueryRow(ctx, query, p.ID, p.ShipmentID, p.BidID, p.PayerID, p.Amount, p.Currency, p.Status, p.IntentID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Payment{}, ErrDuplicatePayment
		}
		return Payment{}, fmt.Errorf("payment: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) SetIntent(ctx context.Context, tx pgx.Tx, paymentID, intentID string) error {
	tag, err := tx.Exec(ctx, `UPDATE payments SET intent_id = $2, updated_at = NOW() WHERE id = $1`, paymentID, intentID)
	if err != nil {
		return fmt.Errorf("payment: set intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) GetForUpdateByID(ctx context.Context, tx pgx.Tx, id string) (Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return r.getForUpdate(ctx, tx, query, id)
}

func (r *PGRepository) GetForUpdateByIntent(ctx context.Context, tx pgx.Tx, intentID string) (Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE intent_id = $1 FOR UPDATE`
	return r.getForUpdate(ctx, tx, query, intentID)
}

func (r *PGRepository) getForUpdate(ctx context.Context, tx pgx.Tx, query, arg string) (Payment, error) {
	p, err := scanPayment(tx.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("payment: get for update: %w", err)
	}
	return p, nil
}

func (r *PGRepository) MarkCompleted(ctx context.Context, tx pgx.Tx, id string) (Payment, error) {
	query := `
		UPDATE payments
		SET status = 'completed', updated_at = NOW()
		WHERE id = $1
		RETURNING ` + paymentColumns

	p, err := scanPayment(tx.QueryRow(ctx, query, id))
	if err != nil {
		return Payment{}, fmt.Errorf("payment: mark completed: %w", err)
	}
	return p, nil
}

func (r *PGRepository) MarkFailed(ctx context.Context, tx pgx.Tx, id string) (Payment, error) {
	query := `
		UPDATE payments
		SET status = 'failed', updated_at = NOW()
		WHERE id = $1
		RETURNING ` + paymentColumns

	p, err := scanPayment(tx.QueryRow(ctx, query, id))
	if err != nil {
		return Payment{}, fmt.Errorf("payment: mark failed: %w", err)
	}
	return p, nil
}

// AssignShipment flips the shipment to the paid, carrier-assigned state.
func (r *PGRepository) AssignShipment(ctx context.Context, tx pgx.Tx, shipmentID string) error {
	const query = `
		UPDATE shipments
		SET status = 'assigned',
		    payment_status = 'completed',
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := tx.Exec(ctx, query, shipmentID); err != nil {
		return fmt.Errorf("payment: assign shipment: %w", err)
	}
	return nil
}

func (r *PGRepository) PayerCreatedAt(ctx context.Context, payerID string) (time.Time, error) {
	var createdAt time.Time
	err := r.pool.QueryRow(ctx, `SELECT created_at FROM users WHERE id = $1`, payerID).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("payment: payer created_at: %w", err)
	}
	return createdAt, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	return p, row.Scan(
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
}
