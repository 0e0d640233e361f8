package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freightfloo/db"
	"freightfloo/notify"
	"freightfloo/payment"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrForbidden signals the requester did not make the payment.
	ErrForbidden = errors.New("refund: forbidden")
	// ErrPaymentNotCompleted signals the payment cannot be refunded in its
	// current state.
	ErrPaymentNotCompleted = errors.New("refund: payment is not completed")
	// ErrAmountExceedsPayment signals the requested amount is above what was
	// paid.
	ErrAmountExceedsPayment = errors.New("refund: amount exceeds payment")
	// ErrInvalidAmount signals a non-positive refund amount.
	ErrInvalidAmount = errors.New("refund: amount must be positive")
	// ErrInvalidReason signals an unknown reason code.
	ErrInvalidReason = errors.New("refund: unknown reason")
	// ErrMissingIntent signals the payment has no processor intent to refund
	// against.
	ErrMissingIntent = errors.New("refund: payment has no processor intent")
)

// Notifier records notifications inside the caller's transaction.
type Notifier interface {
	Notify(ctx context.Context, tx pgx.Tx, n notify.Notification) error
}

// Service drives refunds: a durable pending record first, then the processor
// call, then the state reversal on success. A processor failure leaves the
// pending record in place for operator follow-up instead of erroring out.
type Service struct {
	pool     db.TxBeginner
	repo     Repository
	gateway  payment.Gateway
	notifier Notifier
	log      *zap.Logger
	idGen    func() string
	now      func() time.Time
}

func NewService(pool db.TxBeginner, repo Repository, gateway payment.Gateway, notifier Notifier, log *zap.Logger) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		log:      log,
		idGen:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// RequestParams carries a shipper's refund request. A zero Amount means a
// full refund of the payment.
type RequestParams struct {
	PaymentID   string
	RequesterID string
	Amount      decimal.Decimal
	Reason      Reason
	Note        string
}

// RequestRefund validates eligibility, records the pending refund, and
// submits it to the processor. The returned refund is COMPLETED when the
// processor accepted it, or still PENDING when the processor call failed.
func (s *Service) RequestRefund(ctx context.Context, params RequestParams) (Refund, error) {
	if params.PaymentID == "" || params.RequesterID == "" {
		return Refund{}, fmt.Errorf("refund: missing payment or requester id")
	}
	if !ValidReason(params.Reason) {
		return Refund{}, ErrInvalidReason
	}

	pending, intentID, err := s.reserve(ctx, params)
	if err != nil {
		return Refund{}, err
	}

	result, err := s.gateway.CreateRefund(ctx, intentID, pending.Amount, map[string]string{
		"refund_id":  pending.ID,
		"payment_id": pending.PaymentID,
		"reason":     string(pending.Reason),
	})
	if err != nil {
		// The pending record is the audit trail; operators pick it up from
		// here rather than the shipper retrying into the processor.
		s.log.Warn("refund submission failed, leaving pending",
			zap.String("refund_id", pending.ID),
			zap.String("payment_id", pending.PaymentID),
			zap.Error(err),
		)
		return pending, nil
	}

	return s.settle(ctx, pending, result.ID)
}

// reserve validates the request under the payment row lock and commits the
// pending refund record before any external call.
func (s *Service) reserve(ctx context.Context, params RequestParams) (Refund, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Refund{}, "", fmt.Errorf("refund: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	pay, err := s.repo.PaymentForUpdate(ctx, tx, params.PaymentID)
	if err != nil {
		return Refund{}, "", err
	}
	if pay.PayerID != params.RequesterID {
		return Refund{}, "", ErrForbidden
	}
	if pay.Status != payment.StatusCompleted {
		return Refund{}, "", ErrPaymentNotCompleted
	}
	if pay.IntentID == nil {
		return Refund{}, "", ErrMissingIntent
	}

	amount := params.Amount
	if amount.IsZero() {
		amount = pay.Amount
	}
	if !amount.IsPositive() {
		return Refund{}, "", ErrInvalidAmount
	}
	if amount.GreaterThan(pay.Amount) {
		return Refund{}, "", ErrAmountExceedsPayment
	}

	// Re-check under the lock; the partial unique index backstops races.
	exists, err := s.repo.HasPending(ctx, tx, params.PaymentID)
	if err != nil {
		return Refund{}, "", err
	}
	if exists {
		return Refund{}, "", ErrPendingExists
	}

	created, err := s.repo.Insert(ctx, tx, Refund{
		ID:          s.idGen(),
		PaymentID:   params.PaymentID,
		RequesterID: params.RequesterID,
		Amount:      amount,
		Reason:      params.Reason,
		Note:        params.Note,
		Status:      StatusPending,
	})
	if err != nil {
		return Refund{}, "", err
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, tx, notify.Notification{
			UserID:     created.RequesterID,
			Type:       notify.TypeRefundRequested,
			Title:      "Refund requested",
			Message:    fmt.Sprintf("Your refund of %s was submitted", created.Amount),
			ShipmentID: &pay.ShipmentID,
			PaymentID:  &created.PaymentID,
		}); err != nil {
			return Refund{}, "", fmt.Errorf("refund: notify request: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Refund{}, "", fmt.Errorf("refund: commit reservation: %w", err)
	}
	return created, *pay.IntentID, nil
}

// settle records the processor's acceptance: refund completed, payment
// refunded, shipment cancelled, both parties notified, one transaction.
func (s *Service) settle(ctx context.Context, pending Refund, externalRef string) (Refund, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Refund{}, fmt.Errorf("refund: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	pay, err := s.repo.PaymentForUpdate(ctx, tx, pending.PaymentID)
	if err != nil {
		return Refund{}, err
	}

	completed, err := s.repo.MarkCompleted(ctx, tx, pending.ID, externalRef)
	if err != nil {
		return Refund{}, err
	}
	if err := s.repo.MarkPaymentRefunded(ctx, tx, pay.ID); err != nil {
		return Refund{}, err
	}
	if err := s.repo.CancelShipment(ctx, tx, pay.ShipmentID); err != nil {
		return Refund{}, err
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, tx, notify.Notification{
			UserID:     completed.RequesterID,
			Type:       notify.TypeRefundCompleted,
			Title:      "Refund completed",
			Message:    fmt.Sprintf("Your refund of %s was processed", completed.Amount),
			ShipmentID: &pay.ShipmentID,
			PaymentID:  &completed.PaymentID,
		}); err != nil {
			return Refund{}, fmt.Errorf("refund: notify requester: %w", err)
		}

		carrierID, err := s.repo.AcceptedCarrier(ctx, tx, pay.ShipmentID)
		if err != nil && !errors.Is(err, ErrNoAcceptedBid) {
			return Refund{}, err
		}
		if carrierID != "" {
			if err := s.notifier.Notify(ctx, tx, notify.Notification{
				UserID:     carrierID,
				Type:       notify.TypeRefundCompleted,
				Title:      "Shipment cancelled",
				Message:    "The shipper was refunded and the shipment is cancelled",
				ShipmentID: &pay.ShipmentID,
				PaymentID:  &completed.PaymentID,
			}); err != nil {
				return Refund{}, fmt.Errorf("refund: notify carrier: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Refund{}, fmt.Errorf("refund: commit settlement: %w", err)
	}
	return completed, nil
}

// Get returns a refund by id, restricted to its requester.
func (s *Service) Get(ctx context.Context, id, actorID string) (Refund, error) {
	ref, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Refund{}, err
	}
	if ref.RequesterID != actorID {
		return Refund{}, ErrForbidden
	}
	return ref, nil
}
