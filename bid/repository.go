package bid

import (
	"context"
	"errors"
	"fmt"

	"freightfloo/shipment"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no bid row exists for the identifier.
	ErrNotFound = errors.New("bid: not found")
	// ErrDuplicateBid signals the carrier already holds a live bid on the shipment.
	ErrDuplicateBid = errors.New("bid: carrier already has a live bid on this shipment")
	// ErrShipmentNotFound is returned when the parent shipment does not exist.
	ErrShipmentNotFound = errors.New("bid: shipment not found")
)

// ShipmentRow is the subset of shipment state bidding decisions need, read
// under a row lock.
type ShipmentRow struct {
	ID          string
	OwnerID     string
	PricingMode shipment.PricingMode
	Price       decimal.Decimal
	Status      shipment.Status
}

// Repository defines the data access required by the bid service. All methods
// operate inside the caller's transaction so precondition re-checks and writes
// share one atomic boundary.
type Repository interface {
	ShipmentForUpdate(ctx context.Context, tx pgx.Tx, shipmentID string) (ShipmentRow, error)
	HasLiveBid(ctx context.Context, tx pgx.Tx, shipmentID, carrierID string) (bool, error)
	LowestPending(ctx context.Context, tx pgx.Tx, shipmentID string) (decimal.Decimal, bool, error)
	Insert(ctx context.Context, tx pgx.Tx, b Bid) (Bid, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, bidID string) (Bid, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, bidID string, status Status) (Bid, error)
	RejectSiblings(ctx context.Context, tx pgx.Tx, shipmentID, keepBidID string) ([]Bid, error)
	MarkShipmentPending(ctx context.Context, tx pgx.Tx, shipmentID string) error
	ListForShipment(ctx context.Context, shipmentID string) ([]Bid, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) ShipmentForUpdate(ctx context.Context, tx pgx.Tx, shipmentID string) (ShipmentRow, error) {
	const query = `
		SELECT id, owner_id, pricing_mode, price, status
		FROM shipments
		WHERE id = $1
		FOR UPDATE
	`

	var row ShipmentRow
	err := tx.QueryRow(ctx, query, shipmentID).Scan(&row.ID, &row.OwnerID, &row.PricingMode, &row.Price, &row.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ShipmentRow{}, ErrShipmentNotFound
		}
		return ShipmentRow{}, fmt.Errorf("bid: lock shipment: %w", err)
	}
	return row, nil
}

func (r *PGRepository) HasLiveBid(ctx context.Context, tx pgx.Tx, shipmentID, carrierID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM bids
			WHERE shipment_id = $1 AND carrier_id = $2 AND status IN ('pending','accepted')
		)
	`

	var exists bool
	if err := tx.QueryRow(ctx, query, shipmentID, carrierID).Scan(&exists); err != nil {
		return false, fmt.Errorf("bid: check live bid: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) LowestPending(ctx context.Context, tx pgx.Tx, shipmentID string) (decimal.Decimal, bool, error) {
	const query = `
		SELECT MIN(amount)
		FROM bids
		WHERE shipment_id = $1 AND status = 'pending'
	`

	var lowest *decimal.Decimal
	if err := tx.QueryRow(ctx, query, shipmentID).Scan(&lowest); err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("bid: lowest pending: %w", err)
	}
	if lowest == nil {
		return decimal.Decimal{}, false, nil
	}
	return *lowest, true, nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, b Bid) (Bid, error) {
	const query = `
		INSERT INTO bids (id, shipment_id, carrier_id, amount, message, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6)
		RETURNING id, shipment_id, carrier_id, amount, message, status, created_at
	`

	created, err := scanBid(tx.QueryRow(ctx, query, b.ID, b.ShipmentID, b.CarrierID, b.Amount, b.Message, b.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Bid{}, ErrDuplicateBid
		}
		return Bid{}, fmt.Errorf("bid: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, bidID string) (Bid, error) {
	const query = `
		SELECT id, shipment_id, carrier_id, amount, message, status, created_at
		FROM bids
		WHERE id = $1
		FOR UPDATE
	`

	b, err := scanBid(tx.QueryRow(ctx, query, bidID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bid{}, ErrNotFound
		}
		return Bid{}, fmt.Errorf("bid: get for update: %w", err)
	}
	return b, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, bidID string, status Status) (Bid, error) {
	const query = `
		UPDATE bids
		SET status = $2
		WHERE id = $1
		RETURNING id, shipment_id, carrier_id, amount, message, status, created_at
	`

	b, err := scanBid(tx.QueryRow(ctx, query, bidID, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bid{}, ErrNotFound
		}
		return Bid{}, fmt.Errorf("bid: update status: %w", err)
	}
	return b, nil
}

// RejectSiblings force-rejects every other pending bid on the shipment and
// returns them so the caller can notify the losing carriers.
func (r *PGRepository) RejectSiblings(ctx context.Context, tx pgx.Tx, shipmentID, keepBidID string) ([]Bid, error) {
	const query = `
		UPDATE bids
		SET status = 'rejected'
		WHERE shipment_id = $1 AND status = 'pending' AND id <> $2
		RETURNING id, shipment_id, carrier_id, amount, message, status, created_at
	`

	rows, err := tx.Query(ctx, query, shipmentID, keepBidID)
	if err != nil {
		return nil, fmt.Errorf("bid: reject siblings: %w", err)
	}
	defer rows.Close()

	rejected := make([]Bid, 0, 4)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("bid: scan rejected sibling: %w", err)
		}
		rejected = append(rejected, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bid: iterate rejected siblings: %w", err)
	}
	return rejected, nil
}

// MarkShipmentPending flips the shipment to the awaiting-payment commercial
// state after a bid was accepted.
func (r *PGRepository) MarkShipmentPending(ctx context.Context, tx pgx.Tx, shipmentID string) error {
	const query = `
		UPDATE shipments
		SET status = 'pending',
		    payment_status = 'pending',
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := tx.Exec(ctx, query, shipmentID); err != nil {
		return fmt.Errorf("bid: mark shipment pending: %w", err)
	}
	return nil
}

func (r *PGRepository) ListForShipment(ctx context.Context, shipmentID string) ([]Bid, error) {
	const query = `
		SELECT id, shipment_id, carrier_id, amount, message, status, created_at
		FROM bids
		WHERE shipment_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("bid: list for shipment: %w", err)
	}
	defer rows.Close()

	out := make([]Bid, 0, 8)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("bid: scan: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bid: iterate: %w", err)
	}
	return out, nil
}

func scanBid(row pgx.Row) (Bid, error) {
	var b Bid
	return b, row.Scan(
		&b.ID,
		&b.ShipmentID,
		&b.CarrierID,
		&b.Amount,
		&b.Message,
		&b.Status,
		&b.CreatedAt,
	)
}
