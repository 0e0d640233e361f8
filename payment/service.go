package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freightfloo/bid"
	"freightfloo/db"
	"freightfloo/notify"
	"freightfloo/shipment"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrForbidden signals the actor is not the shipment owner.
	ErrForbidden = errors.New("payment: forbidden")
	// ErrBidNotAccepted signals payment was attempted against a bid that is
	// not the accepted one.
	ErrBidNotAccepted = errors.New("payment: bid is not accepted")
	// ErrShipmentNotPayable signals the shipment is not awaiting payment.
	ErrShipmentNotPayable = errors.New("payment: shipment is not awaiting payment")
	// ErrAlreadyPaid signals a completed payment already covers the pair.
	ErrAlreadyPaid = errors.New("payment: shipment already paid")
	// ErrIntentNotSucceeded signals the processor has not captured the charge.
	ErrIntentNotSucceeded = errors.New("payment: charge not captured by processor")
	// ErrMissingIntent signals a payment with no processor intent attached.
	ErrMissingIntent = errors.New("payment: no processor intent on record")
)

// Notifier records notifications inside the caller's transaction.
type Notifier interface {
	Notify(ctx context.Context, tx pgx.Tx, n notify.Notification) error
}

// Service orchestrates the charge lifecycle: intent creation ahead of the
// browser handoff, then confirmation via the synchronous completion call or
// the processor webhook, whichever lands first.
type Service struct {
	pool     db.TxBeginner
	repo     Repository
	gateway  Gateway
	guard    *Guard
	notifier Notifier
	sf       singleflight.Group
	idGen    func() string
	now      func() time.Time
}

func NewService(pool db.TxBeginner, repo Repository, gateway Gateway, guard *Guard, notifier Notifier) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		gateway:  gateway,
		guard:    guard,
		notifier: notifier,
		idGen:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// IntentParams identifies the shipment/bid pair the shipper wants to pay for.
type IntentParams struct {
	ShipmentID string
	BidID      string
	PayerID    string
}

// IntentResult carries the payment row plus the processor client secret the
// browser needs to complete the charge.
type IntentResult struct {
	Payment      Payment
	ClientSecret string
}

// CreateOrReuseIntent returns a processor intent for the accepted bid. The
// pending payment row is committed before the processor is contacted, so a
// crash mid-call leaves a reusable record rather than an orphaned charge.
// Calls for the same pair are collapsed through singleflight; stragglers get
// the winner's intent instead of racing the processor.
func (s *Service) CreateOrReuseIntent(ctx context.Context, params IntentParams) (IntentResult, error) {
	if params.ShipmentID == "" || params.BidID == "" || params.PayerID == "" {
		return IntentResult{}, fmt.Errorf("payment: missing shipment, bid, or payer id")
	}

	key := params.ShipmentID + ":" + params.BidID
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.createOrReuseIntent(ctx, params)
	})
	if err != nil {
		return IntentResult{}, err
	}
	return v.(IntentResult), nil
}

func (s *Service) createOrReuseIntent(ctx context.Context, params IntentParams) (IntentResult, error) {
	p, err := s.reserve(ctx, params)
	if err != nil {
		return IntentResult{}, err
	}

	if p.IntentID != nil {
		intent, err := s.gateway.RetrieveIntent(ctx, *p.IntentID)
		if err != nil {
			return IntentResult{}, err
		}
		return IntentResult{Payment: p, ClientSecret: intent.ClientSecret}, nil
	}

	intent, err := s.gateway.CreateIntent(ctx, CreateIntentParams{
		Amount:   p.Amount,
		Currency: p.Currency,
		Metadata: map[string]string{
			"payment_id":  p.ID,
			"shipment_id": p.ShipmentID,
			"bid_id":      p.BidID,
		},
	})
	if err != nil {
		// The pending row survives; the next attempt reuses it and asks the
		// processor again.
		return IntentResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return IntentResult{}, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.SetIntent(ctx, tx, p.ID, intent.ID); err != nil {
		return IntentResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return IntentResult{}, fmt.Errorf("payment: commit intent: %w", err)
	}
	p.IntentID = &intent.ID

	if err := s.guard.RecordIntent(ctx, p.PayerID, p.Amount); err != nil {
		return IntentResult{}, err
	}

	return IntentResult{Payment: p, ClientSecret: intent.ClientSecret}, nil
}

// reserve validates the pair under row locks and commits a pending payment
// row, or hands back the live one already on file.
func (s *Service) reserve(ctx context.Context, params IntentParams) (Payment, error) {
	createdAt, err := s.repo.PayerCreatedAt(ctx, params.PayerID)
	if err != nil {
		return Payment{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row, err := s.repo.ShipmentBidForUpdate(ctx, tx, params.ShipmentID, params.BidID)
	if err != nil {
		return Payment{}, err
	}
	if row.ShipmentOwner != params.PayerID {
		return Payment{}, ErrForbidden
	}
	if row.BidStatus != bid.StatusAccepted {
		return Payment{}, ErrBidNotAccepted
	}
	if row.ShipmentStatus != shipment.StatusPending {
		return Payment{}, ErrShipmentNotPayable
	}

	if err := s.guard.Check(ctx, params.PayerID, createdAt, row.Amount); err != nil {
		return Payment{}, err
	}

	existing, found, err := s.repo.FindLiveForUpdate(ctx, tx, params.ShipmentID, params.BidID)
	if err != nil {
		return Payment{}, err
	}
	if found {
		if existing.Status == StatusCompleted {
			return Payment{}, ErrAlreadyPaid
		}
		if err := tx.Commit(ctx); err != nil {
			return Payment{}, fmt.Errorf("payment: commit reuse: %w", err)
		}
		return existing, nil
	}

	created, err := s.repo.Insert(ctx, tx, Payment{
		ID:         s.idGen(),
		ShipmentID: params.ShipmentID,
		BidID:      params.BidID,
		PayerID:    params.PayerID,
		Amount:     row.Amount,
		Currency:   DefaultCurrency,
		Status:     StatusPending,
	})
	if err != nil {
		return Payment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, fmt.Errorf("payment: commit reservation: %w", err)
	}
	return created, nil
}

// Complete is the synchronous confirmation path: the shipper's client reports
// the charge went through, and we verify with the processor before finalizing.
// A payment that is already completed is a no-op, so the call is safe to
// retry and safe to race with the webhook.
func (s *Service) Complete(ctx context.Context, paymentID, actorID string) (Payment, error) {
	if paymentID == "" || actorID == "" {
		return Payment{}, fmt.Errorf("payment: missing payment or actor id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdateByID(ctx, tx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if p.PayerID != actorID {
		return Payment{}, ErrForbidden
	}
	if p.Status == StatusCompleted {
		return p, nil
	}
	if p.IntentID == nil {
		return Payment{}, ErrMissingIntent
	}

	intent, err := s.gateway.RetrieveIntent(ctx, *p.IntentID)
	if err != nil {
		return Payment{}, err
	}
	if intent.Status != IntentSucceeded {
		return Payment{}, ErrIntentNotSucceeded
	}

	completed, err := s.finalize(ctx, tx, p)
	if err != nil {
		return Payment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Payment{}, fmt.Errorf("payment: commit completion: %w", err)
	}
	return completed, nil
}

// Processor event types the webhook path acts on.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// HandleProcessorEvent applies a processor webhook event to the payment it
// references. Events for unknown intents and event types outside the two we
// act on are ignored; the processor retries on error returns, so only real
// failures bubble up.
func (s *Service) HandleProcessorEvent(ctx context.Context, eventType, intentID string) error {
	if intentID == "" {
		return fmt.Errorf("payment: missing intent id on processor event")
	}

	switch eventType {
	case EventIntentSucceeded:
		return s.completeByIntent(ctx, intentID)
	case EventIntentFailed:
		return s.failByIntent(ctx, intentID)
	default:
		return nil
	}
}

func (s *Service) completeByIntent(ctx context.Context, intentID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdateByIntent(ctx, tx, intentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if p.Status == StatusCompleted {
		return nil
	}

	if _, err := s.finalize(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payment: commit completion: %w", err)
	}
	return nil
}

// finalize marks the payment completed, assigns the shipment to the winning
// carrier, and notifies both parties, all inside the caller's transaction.
func (s *Service) finalize(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error) {
	completed, err := s.repo.MarkCompleted(ctx, tx, p.ID)
	if err != nil {
		return Payment{}, err
	}
	if err := s.repo.AssignShipment(ctx, tx, p.ShipmentID); err != nil {
		return Payment{}, err
	}

	if s.notifier != nil {
		row, err := s.repo.ShipmentBidForUpdate(ctx, tx, p.ShipmentID, p.BidID)
		if err != nil {
			return Payment{}, err
		}
		if err := s.notifier.Notify(ctx, tx, notify.Notification{
			UserID:     completed.PayerID,
			Type:       notify.TypePaymentCompleted,
			Title:      "Payment completed",
			Message:    fmt.Sprintf("Your payment of %s was received", completed.Amount),
			ShipmentID: &completed.ShipmentID,
			PaymentID:  &completed.ID,
		}); err != nil {
			return Payment{}, fmt.Errorf("payment: notify payer: %w", err)
		}
		if err := s.notifier.Notify(ctx, tx, notify.Notification{
			UserID:     row.CarrierID,
			Type:       notify.TypePaymentCompleted,
			Title:      "Shipment assigned to you",
			Message:    "The shipper paid; you can start the delivery",
			ShipmentID: &completed.ShipmentID,
			PaymentID:  &completed.ID,
		}); err != nil {
			return Payment{}, fmt.Errorf("payment: notify carrier: %w", err)
		}
	}

	return completed, nil
}

func (s *Service) failByIntent(ctx context.Context, intentID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdateByIntent(ctx, tx, intentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	// A success already recorded wins over a late failure event.
	if p.Status != StatusPending {
		return nil
	}

	failed, err := s.repo.MarkFailed(ctx, tx, p.ID)
	if err != nil {
		return err
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, tx, notify.Notification{
			UserID:     failed.PayerID,
			Type:       notify.TypePaymentFailed,
			Title:      "Payment failed",
			Message:    "Your payment did not go through; the shipment is still awaiting payment",
			ShipmentID: &failed.ShipmentID,
			PaymentID:  &failed.ID,
		}); err != nil {
			return fmt.Errorf("payment: notify failure: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payment: commit failure: %w", err)
	}

	if err := s.guard.RecordFailure(ctx, failed.PayerID); err != nil {
		return fmt.Errorf("payment: record failure: %w", err)
	}
	return nil
}
