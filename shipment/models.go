package shipment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the commercial lifecycle of a shipment: posted, awaiting payment
// after a bid was accepted, assigned to a carrier after payment, or cancelled
// via refund.
type Status string

const (
	StatusActive    Status = "active"
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusCancelled Status = "cancelled"
)

// DeliveryStatus tracks the physical milestone of a shipment. It only moves
// forward along the fixed sequence and never past completed.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryPickedUp  DeliveryStatus = "picked_up"
	DeliveryInTransit DeliveryStatus = "in_transit"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryCompleted DeliveryStatus = "completed"
)

// PaymentStatus mirrors the payment side of the commercial track.
type PaymentStatus string

const (
	PaymentStatusNone      PaymentStatus = "none"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// PricingMode selects between reverse-auction bidding and a fixed offer price.
type PricingMode string

const (
	ModeAuction PricingMode = "auction"
	ModeOffer   PricingMode = "offer"
)

// Shipment mirrors the shipments table.
type Shipment struct {
	ID            string
	OwnerID       string
	Origin        string
	Destination   string
	Description   string
	PricingMode   PricingMode
	Price         decimal.Decimal
	Status        Status
	PaymentStatus PaymentStatus
	CurrentStatus DeliveryStatus
	PickedUpAt    *time.Time
	InTransitAt   *time.Time
	DeliveredAt   *time.Time
	CompletedAt   *time.Time
	PodReference  *string
	PodNotes      *string
	PodReceived   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PodData carries proof-of-delivery captured on completion.
type PodData struct {
	Reference string
	Notes     string
}

// Filters narrows shipment listings.
type Filters struct {
	OwnerID     string
	Status      Status
	PricingMode PricingMode
	Page        int
	PageSize    int
}

// deliveryNext is the strict forward-only adjacency map for the delivery
// track. Any requested transition not matching the single successor of the
// current milestone is illegal.
var deliveryNext = map[DeliveryStatus]DeliveryStatus{
	DeliveryPending:   DeliveryPickedUp,
	DeliveryPickedUp:  DeliveryInTransit,
	DeliveryInTransit: DeliveryDelivered,
	DeliveryDelivered: DeliveryCompleted,
}

// CanAdvance reports whether the delivery track may move from -> to.
func CanAdvance(from, to DeliveryStatus) bool {
	next, ok := deliveryNext[from]
	return ok && next == to
}

// ValidDeliveryStatus reports whether s names a known milestone.
func ValidDeliveryStatus(s DeliveryStatus) bool {
	switch s {
	case DeliveryPending, DeliveryPickedUp, DeliveryInTransit, DeliveryDelivered, DeliveryCompleted:
		return true
	default:
		return false
	}
}
