package shipment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no shipment row exists for the identifier.
	ErrNotFound = errors.New("shipment: not found")
	// ErrNoAcceptedBid signals the shipment has no accepted bid on record.
	ErrNoAcceptedBid = errors.New("shipment: no accepted bid")
)

const selectColumns = `id, owner_id, origin, destination, description, pricing_mode, price,
	status, payment_status, current_status,
	picked_up_at, in_transit_at, delivered_at, completed_at,
	pod_reference, pod_notes, pod_received, created_at, updated_at`

// Repository defines the data access required by the shipment service.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, s Shipment) (Shipment, error)
	GetByID(ctx context.Context, id string) (Shipment, error)
	List(ctx context.Context, filters Filters) ([]Shipment, int, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Shipment, error)
	AcceptedCarrier(ctx context.Context, tx pgx.Tx, shipmentID string) (string, string, error)
	AdvanceDelivery(ctx context.Context, tx pgx.Tx, id string, target DeliveryStatus, pod *PodData) (Shipment, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, s Shipment) (Shipment, error) {
	const query = `
		INSERT INTO shipments (id, owner_id, origin, destination, description, pricing_mode, price, status, payment_status, current_status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + selectColumns

	row := tx.QueryRow(ctx, query,
		s.ID,
		s.OwnerID,
		s.Origin,
		s.Destination,
		s.Description,
		s.PricingMode,
		s.Price,
		s.Status,
		s.PaymentStatus,
		s.CurrentStatus,
	)

	created, err := scanShipment(row)
	if err != nil {
		return Shipment{}, fmt.Errorf("shipment: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Shipment, error) {
	query := `SELECT ` + selectColumns + ` FROM shipments WHERE id = $1`

	s, err := scanShipment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, ErrNotFound
		}
		return Shipment{}, fmt.Errorf("shipment: get by id: %w", err)
	}
	return s, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Shipment, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.OwnerID != "" {
		where = append(where, fmt.Sprintf("owner_id=$%d", len(args)+1))
		args = append(args, filters.OwnerID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.PricingMode != "" {
		where = append(where, fmt.Sprintf("pricing_mode=$%d", len(args)+1))
		args = append(args, filters.PricingMode)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT %s FROM shipments%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		selectColumns, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("shipment: query list: %w", err)
	}
	defer rows.Close()

	list := []Shipment{}
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("shipment: iterate list: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM shipments%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("shipment: count list: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Shipment, error) {
	query := `SELECT ` + selectColumns + ` FROM shipments WHERE id = $1 FOR UPDATE`

	s, err := scanShipment(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, ErrNotFound
		}
		return Shipment{}, fmt.Errorf("shipment: get for update: %w", err)
	}
	return s, nil
}

// AcceptedCarrier returns the carrier holding the accepted bid on the
// shipment together with the bid id.
func (r *PGRepository) AcceptedCarrier(ctx context.Context, tx pgx.Tx, shipmentID string) (string, string, error) {
	const query = `
		SELECT carrier_id, id
		FROM bids
		WHERE shipment_id = $1 AND status = 'accepted'
	`

	var carrierID, bidID string
	if err := tx.QueryRow(ctx, query, shipmentID).Scan(&carrierID, &bidID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", ErrNoAcceptedBid
		}
		return "", "", fmt.Errorf("shipment: accepted carrier: %w", err)
	}
	return carrierID, bidID, nil
}

// AdvanceDelivery moves the delivery track to target, stamping the matching
// milestone timestamp. Reaching completed also records the proof of delivery.
func (r *PGRepository) AdvanceDelivery(ctx context.Context, tx pgx.Tx, id string, target DeliveryStatus, pod *PodData) (Shipment, error) {
	var milestoneColumn string
	switch target {
	case DeliveryPickedUp:
		milestoneColumn = "picked_up_at"
	case DeliveryInTransit:
		milestoneColumn = "in_transit_at"
	case DeliveryDelivered:
		milestoneColumn = "delivered_at"
	case DeliveryCompleted:
		milestoneColumn = "completed_at"
	default:
		return Shipment{}, fmt.Errorf("shipment: no milestone column for %q", target)
	}

	var podRef, podNotes any
	podReceived := false
	if pod != nil {
		podRef = pod.Reference
		if pod.Notes != "" {
			podNotes = pod.Notes
		}
		podReceived = true
	}

	query := fmt.Sprintf(`
		UPDATE shipments
		SET current_status = $2,
		    %s = NOW(),
		    pod_reference = COALESCE($3, pod_reference),
		    pod_notes = COALESCE($4, pod_notes),
		    pod_received = pod_received OR $5,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+selectColumns, milestoneColumn)

	s, err := scanShipment(tx.QueryRow(ctx, query, id, target, podRef, podNotes, podReceived))
	if err != nil {
		return Shipment{}, fmt.Errorf("shipment: advance delivery: %w", err)
	}
	return s, nil
}

func scanShipment(row pgx.Row) (Shipment, error) {
	var s Shipment
	return s, row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.Origin,
		&s.Destination,
		&s.Description,
		&s.PricingMode,
		&s.Price,
		&s.Status,
		&s.PaymentStatus,
		&s.CurrentStatus,
		&s.PickedUpAt,
		&s.InTransitAt,
		&s.DeliveredAt,
		&s.CompletedAt,
		&s.PodReference,
		&s.PodNotes,
		&s.PodReceived,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
}
