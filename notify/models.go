package notify

import "time"

// Type classifies a notification for presentation purposes.
type Type string

const (
	TypeNewBid           Type = "new_bid"
	TypeOfferAccepted    Type = "offer_accepted"
	TypeBidAccepted      Type = "bid_accepted"
	TypeBidRejected      Type = "bid_rejected"
	TypeStatusUpdate     Type = "status_update"
	TypePaymentCompleted Type = "payment_completed"
	TypePaymentFailed    Type = "payment_failed"
	TypeRefundRequested  Type = "refund_requested"
	TypeRefundCompleted  Type = "refund_completed"
)

// Notification mirrors the notifications table.
type Notification struct {
	ID         string
	UserID     string
	Type       Type
	Title      string
	Message    string
	ShipmentID *string
	BidID      *string
	PaymentID  *string
	Read       bool
	CreatedAt  time.Time
}

// OutboxMessage represents a transactional outbox entry awaiting relay.
type OutboxMessage struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}
