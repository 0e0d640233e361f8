package bid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freightfloo/db"
	"freightfloo/notify"
	"freightfloo/shipment"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	// ErrShipmentNotActive signals bidding is closed on the shipment.
	ErrShipmentNotActive = errors.New("bid: shipment is not accepting bids")
	// ErrSelfBid signals a shipper tried to bid on their own shipment.
	ErrSelfBid = errors.New("bid: cannot bid on own shipment")
	// ErrAmountTooHigh signals the auction pricing rule rejected the amount.
	ErrAmountTooHigh = errors.New("bid: amount violates auction pricing rule")
	// ErrInvalidAmount signals a non-positive bid amount.
	ErrInvalidAmount = errors.New("bid: amount must be positive")
	// ErrForbidden signals the actor does not own the parent shipment.
	ErrForbidden = errors.New("bid: forbidden")
	// ErrNotPending signals an accept/reject on a bid that is no longer pending.
	ErrNotPending = errors.New("bid: bid is not pending")
)

// Notifier records notifications inside the caller's transaction.
type Notifier interface {
	Notify(ctx context.Context, tx pgx.Tx, n notify.Notification) error
}

// Service evaluates incoming bids and drives bid acceptance.
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

// SubmitParams carries a carrier's bid submission.
type SubmitParams struct {
	ShipmentID string
	CarrierID  string
	Amount     decimal.Decimal
	Message    string
}

// SubmitResult bundles the created bid and whether the offer-mode shortcut
// fired, advancing the shipment to the awaiting-payment state.
type SubmitResult struct {
	Bid           Bid
	OfferAccepted bool
}

// ValidateAuctionAmount applies the reverse-auction pricing rule: the amount
// must be strictly below the starting price and, when a pending bid exists,
// undercut the current lowest by at least MinDecrement.
func ValidateAuctionAmount(startingPrice, amount decimal.Decimal, lowestPending *decimal.Decimal) error {
	if amount.GreaterThanOrEqual(startingPrice) {
		return ErrAmountTooHigh
	}
	if lowestPending != nil && amount.GreaterThan(lowestPending.Sub(MinDecrement)) {
		return ErrAmountTooHigh
	}
	return nil
}

// SubmitBid validates and records a bid. All precondition checks run against
// rows locked inside the transaction, so two racing submissions serialize and
// the second is evaluated against the first's committed result. In offer mode
// the first bid is accepted immediately and the shipment advances to pending
// in the same transaction.
func (s *Service) SubmitBid(ctx context.Context, params SubmitParams) (SubmitResult, error) {
	if params.ShipmentID == "" {
		return SubmitResult{}, fmt.Errorf("bid: missing shipment id")
	}
	if params.CarrierID == "" {
		return SubmitResult{}, fmt.Errorf("bid: missing carrier id")
	}
	if !params.Amount.IsPositive() {
		return SubmitResult{}, ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ship, err := s.repo.ShipmentForUpdate(ctx, tx, params.ShipmentID)
	if err != nil {
		return SubmitResult{}, err
	}
	if ship.Status != shipment.StatusActive {
		return SubmitResult{}, ErrShipmentNotActive
	}
	if ship.OwnerID == params.CarrierID {
		return SubmitResult{}, ErrSelfBid
	}

	// Re-check under the shipment lock; the partial unique index backstops
	// this for writes that race outside it.
	exists, err := s.repo.HasLiveBid(ctx, tx, params.ShipmentID, params.CarrierID)
	if err != nil {
		return SubmitResult{}, err
	}
	if exists {
		return SubmitResult{}, ErrDuplicateBid
	}

	newBid := Bid{
		ID:         s.idGen(),
		ShipmentID: params.ShipmentID,
		CarrierID:  params.CarrierID,
		Message:    params.Message,
	}

	var offerAccepted bool
	switch ship.PricingMode {
	case shipment.ModeOffer:
		// Offer mode: the first accepting carrier takes the posted price and
		// the shipment moves straight to awaiting payment.
		newBid.Amount = ship.Price
		newBid.Status = StatusAccepted
		offerAccepted = true
	default:
		lowest, hasPending, err := s.repo.LowestPending(ctx, tx, params.ShipmentID)
		if err != nil {
			return SubmitResult{}, err
		}
		var lowestPtr *decimal.Decimal
		if hasPending {
			lowestPtr = &lowest
		}
		if err := ValidateAuctionAmount(ship.Price, params.Amount, lowestPtr); err != nil {
			return SubmitResult{}, err
		}
		newBid.Amount = params.Amount
		newBid.Status = StatusPending
	}

	created, err := s.repo.Insert(ctx, tx, newBid)
	if err != nil {
		return SubmitResult{}, err
	}

	if offerAccepted {
		if err := s.repo.MarkShipmentPending(ctx, tx, params.ShipmentID); err != nil {
			return SubmitResult{}, err
		}
	}

	if s.notifier != nil {
		n := notify.Notification{
			UserID:     ship.OwnerID,
			ShipmentID: &created.ShipmentID,
			BidID:      &created.ID,
		}
		if offerAccepted {
			n.Type = notify.TypeOfferAccepted
			n.Title = "Offer accepted"
			n.Message = fmt.Sprintf("A carrier accepted your offer of %s", created.Amount)
		} else {
			n.Type = notify.TypeNewBid
			n.Title = "New bid received"
			n.Message = fmt.Sprintf("A carrier bid %s on your shipment", created.Amount)
		}
		if err := s.notifier.Notify(ctx, tx, n); err != nil {
			return SubmitResult{}, fmt.Errorf("bid: notify submission: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SubmitResult{}, fmt.Errorf("bid: commit tx: %w", err)
	}

	return SubmitResult{Bid: created, OfferAccepted: offerAccepted}, nil
}

// Accept marks the bid accepted on behalf of the shipment owner. All sibling
// pending bids are force-rejected and the shipment moves to the
// awaiting-payment state, atomically.
func (s *Service) Accept(ctx context.Context, bidID, shipperID string) (Bid, error) {
	if bidID == "" || shipperID == "" {
		return Bid{}, fmt.Errorf("bid: missing bid or shipper id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	target, err := s.repo.GetForUpdate(ctx, tx, bidID)
	if err != nil {
		return Bid{}, err
	}

	ship, err := s.repo.ShipmentForUpdate(ctx, tx, target.ShipmentID)
	if err != nil {
		return Bid{}, err
	}
	if ship.OwnerID != shipperID {
		return Bid{}, ErrForbidden
	}
	if ship.Status != shipment.StatusActive {
		return Bid{}, ErrShipmentNotActive
	}
	if target.Status != StatusPending {
		return Bid{}, ErrNotPending
	}

	rejected, err := s.repo.RejectSiblings(ctx, tx, target.ShipmentID, target.ID)
	if err != nil {
		return Bid{}, err
	}

	accepted, err := s.repo.UpdateStatus(ctx, tx, target.ID, StatusAccepted)
	if err != nil {
		return Bid{}, err
	}

	if err := s.repo.MarkShipmentPending(ctx, tx, target.ShipmentID); err != nil {
		return Bid{}, err
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, tx, notify.Notification{
			UserID:     accepted.CarrierID,
			Type:       notify.TypeBidAccepted,
			Title:      "Bid accepted",
			Message:    fmt.Sprintf("Your bid of %s was accepted", accepted.Amount),
			ShipmentID: &accepted.ShipmentID,
			BidID:      &accepted.ID,
		}); err != nil {
			return Bid{}, fmt.Errorf("bid: notify acceptance: %w", err)
		}
		for _, loser := range rejected {
			if err := s.notifier.Notify(ctx, tx, notify.Notification{
				UserID:     loser.CarrierID,
				Type:       notify.TypeBidRejected,
				Title:      "Bid not selected",
				Message:    "The shipper accepted another bid",
				ShipmentID: &loser.ShipmentID,
				BidID:      &loser.ID,
			}); err != nil {
				return Bid{}, fmt.Errorf("bid: notify rejection: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Bid{}, fmt.Errorf("bid: commit acceptance: %w", err)
	}

	return accepted, nil
}

// Reject marks a single pending bid rejected. No cascade, no shipment change.
func (s *Service) Reject(ctx context.Context, bidID, shipperID string) (Bid, error) {
	if bidID == "" || shipperID == "" {
		return Bid{}, fmt.Errorf("bid: missing bid or shipper id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	target, err := s.repo.GetForUpdate(ctx, tx, bidID)
	if err != nil {
		return Bid{}, err
	}

	ship, err := s.repo.ShipmentForUpdate(ctx, tx, target.ShipmentID)
	if err != nil {
		return Bid{}, err
	}
	if ship.OwnerID != shipperID {
		return Bid{}, ErrForbidden
	}
	if target.Status != StatusPending {
		return Bid{}, ErrNotPending
	}

	rejected, err := s.repo.UpdateStatus(ctx, tx, target.ID, StatusRejected)
	if err != nil {
		return Bid{}, err
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, tx, notify.Notification{
			UserID:     rejected.CarrierID,
			Type:       notify.TypeBidRejected,
			Title:      "Bid rejected",
			Message:    "The shipper declined your bid",
			ShipmentID: &rejected.ShipmentID,
			BidID:      &rejected.ID,
		}); err != nil {
			return Bid{}, fmt.Errorf("bid: notify rejection: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Bid{}, fmt.Errorf("bid: commit rejection: %w", err)
	}

	return rejected, nil
}

// ListForShipment returns every bid on the shipment, newest first.
func (s *Service) ListForShipment(ctx context.Context, shipmentID string) ([]Bid, error) {
	return s.repo.ListForShipment(ctx, shipmentID)
}
