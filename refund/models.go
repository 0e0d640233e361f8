package refund

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle of a refund request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Reason categorizes why the shipper is asking for their money back.
type Reason string

const (
	ReasonShipperCancelled Reason = "shipper_cancelled"
	ReasonCarrierNoShow    Reason = "carrier_no_show"
	ReasonDamagedGoods     Reason = "damaged_goods"
	ReasonServiceIssue     Reason = "service_issue"
	ReasonOther            Reason = "other"
)

// ValidReason reports whether r is one of the accepted reason codes.
func ValidReason(r Reason) bool {
	switch r {
	case ReasonShipperCancelled, ReasonCarrierNoShow, ReasonDamagedGoods, ReasonServiceIssue, ReasonOther:
		return true
	}
	return false
}

// Refund mirrors the refunds table. At most one refund may be pending per
// payment; a refund that the processor never acknowledged stays pending for
// operator follow-up.
type Refund struct {
	ID          string
	PaymentID   string
	RequesterID string
	Amount      decimal.Decimal
	Reason      Reason
	Note        string
	Status      Status
	ExternalRef *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
