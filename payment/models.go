package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle of a payment record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Payment mirrors the payments table. At most one payment may be live
// (pending or completed) per (shipment, bid) pair.
type Payment struct {
	ID         string
	ShipmentID string
	BidID      string
	PayerID    string
	Amount     decimal.Decimal
	Currency   string
	Status     Status
	IntentID   *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DefaultCurrency is used for all charges until multi-currency lands.
const DefaultCurrency = "usd"
