package bid

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle of a bid. Bids are never deleted; losing bids are
// force-rejected when a sibling is accepted.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Bid mirrors the bids table.
type Bid struct {
	ID         string
	ShipmentID string
	CarrierID  string
	Amount     decimal.Decimal
	Message    string
	Status     Status
	CreatedAt  time.Time
}

// MinDecrement is the minimum amount a new auction bid must undercut the
// current lowest pending bid by.
var MinDecrement = decimal.NewFromInt(20)
