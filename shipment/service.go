package shipment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freightfloo/db"
	"freightfloo/notify"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	// ErrForbidden signals the actor is neither the owner nor the assigned carrier.
	ErrForbidden = errors.New("shipment: forbidden")
	// ErrInvalidTransition signals an illegal delivery-track transition.
	ErrInvalidTransition = errors.New("shipment: invalid status transition")
	// ErrNotAssigned signals the delivery track cannot move before payment assigns a carrier.
	ErrNotAssigned = errors.New("shipment: not assigned to a carrier")
	// ErrPodRequired signals completion was requested without proof of delivery.
	ErrPodRequired = errors.New("shipment: proof of delivery required")
	// ErrInvalidPrice signals a non-positive price.
	ErrInvalidPrice = errors.New("shipment: price must be positive")
)

// Notifier records notifications inside the caller's transaction.
type Notifier interface {
	Notify(ctx context.Context, tx pgx.Tx, n notify.Notification) error
}

// Service owns shipment creation and the delivery-track state machine.
type Service struct {
	pool     db.TxBeginner
	repo     Repository
	notifier Notifier
	idGen    func() string
	now      func() time.Time
}

func NewService(pool db.TxBeginner, repo Repository, notifier Notifier) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		notifier: notifier,
		idGen:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// CreateParams enumerates the fields required to post a shipment.
type CreateParams struct {
	OwnerID     string
	Origin      string
	Destination string
	Description string
	PricingMode PricingMode
	Price       decimal.Decimal
}

// Create posts a new shipment in the active commercial state.
func (s *Service) Create(ctx context.Context, params CreateParams) (Shipment, error) {
	if params.OwnerID == "" {
		return Shipment{}, fmt.Errorf("shipment: missing owner id")
	}
	if params.Origin == "" || params.Destination == "" {
		return Shipment{}, fmt.Errorf("shipment: origin and destination required")
	}
	if params.PricingMode != ModeAuction && params.PricingMode != ModeOffer {
		return Shipment{}, fmt.Errorf("shipment: invalid pricing mode %q", params.PricingMode)
	}
	if !params.Price.IsPositive() {
		return Shipment{}, ErrInvalidPrice
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Shipment{}, fmt.Errorf("shipment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, Shipment{
		ID:            s.idGen(),
		OwnerID:       params.OwnerID,
		Origin:        params.Origin,
		Destination:   params.Destination,
		Description:   params.Description,
		PricingMode:   params.PricingMode,
		Price:         params.Price,
		Status:        StatusActive,
		PaymentStatus: PaymentStatusNone,
		CurrentStatus: DeliveryPending,
	})
	if err != nil {
		return Shipment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Shipment{}, fmt.Errorf("shipment: commit tx: %w", err)
	}

	return created, nil
}

// Get returns a shipment by id.
func (s *Service) Get(ctx context.Context, id string) (Shipment, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns shipments matching the filters.
func (s *Service) List(ctx context.Context, filters Filters) ([]Shipment, int, error) {
	return s.repo.List(ctx, filters)
}

// AdvanceParams carries a delivery-track transition request.
type AdvanceParams struct {
	ShipmentID string
	ActorID    string
	Target     DeliveryStatus
	Pod        *PodData
}

// AdvanceStatus moves the delivery track one milestone forward. Only the
// shipment owner or the carrier holding the accepted bid may advance, the
// transition must follow the adjacency map, and completion requires proof of
// delivery. The row lock, transition check, update, and notifications all run
// in one transaction.
func (s *Service) AdvanceStatus(ctx context.Context, params AdvanceParams) (Shipment, error) {
	if params.ShipmentID == "" {
		return Shipment{}, fmt.Errorf("shipment: missing shipment id")
	}
	if params.ActorID == "" {
		return Shipment{}, fmt.Errorf("shipment: missing actor id")
	}
	if !ValidDeliveryStatus(params.Target) {
		return Shipment{}, fmt.Errorf("shipment: unknown status %q: %w", params.Target, ErrInvalidTransition)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Shipment{}, fmt.Errorf("shipment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, params.ShipmentID)
	if err != nil {
		return Shipment{}, err
	}

	if current.Status != StatusAssigned {
		return Shipment{}, ErrNotAssigned
	}

	carrierID, _, err := s.repo.AcceptedCarrier(ctx, tx, params.ShipmentID)
	if err != nil {
		if errors.Is(err, ErrNoAcceptedBid) {
			return Shipment{}, ErrNotAssigned
		}
		return Shipment{}, err
	}
	if params.ActorID != current.OwnerID && params.ActorID != carrierID {
		return Shipment{}, ErrForbidden
	}

	if !CanAdvance(current.CurrentStatus, params.Target) {
		return Shipment{}, fmt.Errorf("shipment: %s -> %s: %w", current.CurrentStatus, params.Target, ErrInvalidTransition)
	}

	var pod *PodData
	if params.Target == DeliveryCompleted {
		if params.Pod == nil || params.Pod.Reference == "" {
			return Shipment{}, ErrPodRequired
		}
		pod = params.Pod
	}

	updated, err := s.repo.AdvanceDelivery(ctx, tx, params.ShipmentID, params.Target, pod)
	if err != nil {
		return Shipment{}, err
	}

	if s.notifier != nil {
		title := "Shipment status updated"
		message := fmt.Sprintf("Shipment %s -> %s is now %s", updated.Origin, updated.Destination, params.Target)
		for _, userID := range []string{current.OwnerID, carrierID} {
			if err := s.notifier.Notify(ctx, tx, notify.Notification{
				UserID:     userID,
				Type:       notify.TypeStatusUpdate,
				Title:      title,
				Message:    message,
				ShipmentID: &updated.ID,
			}); err != nil {
				return Shipment{}, fmt.Errorf("shipment: notify status update: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Shipment{}, fmt.Errorf("shipment: commit transition: %w", err)
	}

	return updated, nil
}
