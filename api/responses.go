package api

import (
	"time"

	"freightfloo/auth"
	"freightfloo/bid"
	"freightfloo/notify"
	"freightfloo/payment"
	"freightfloo/refund"
	"freightfloo/shipment"

	"github.com/shopspring/decimal"
)

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	CompanyName string    `json:"company_name"`
	Role        auth.Role `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		CompanyName: u.CompanyName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

type shipmentResponse struct {
	ID            string                  `json:"id"`
	OwnerID       string                  `json:"owner_id"`
	Origin        string                  `json:"origin"`
	Destination   string                  `json:"destination"`
	Description   string                  `json:"description,omitempty"`
	PricingMode   shipment.PricingMode    `json:"pricing_mode"`
	Price         decimal.Decimal         `json:"price"`
	Status        shipment.Status         `json:"status"`
	PaymentStatus shipment.PaymentStatus  `json:"payment_status"`
	CurrentStatus shipment.DeliveryStatus `json:"current_status"`
	PickedUpAt    *time.Time              `json:"picked_up_at,omitempty"`
	InTransitAt   *time.Time              `json:"in_transit_at,omitempty"`
	DeliveredAt   *time.Time              `json:"delivered_at,omitempty"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	PodReference  *string                 `json:"pod_reference,omitempty"`
	PodNotes      *string                 `json:"pod_notes,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

func toShipmentResponse(s shipment.Shipment) shipmentResponse {
	return shipmentResponse{
		ID:            s.ID,
		OwnerID:       s.OwnerID,
		Origin:        s.Origin,
		Destination:   s.Destination,
		Description:   s.Description,
		PricingMode:   s.PricingMode,
		Price:         s.Price,
		Status:        s.Status,
		PaymentStatus: s.PaymentStatus,
		CurrentStatus: s.CurrentStatus,
		PickedUpAt:    s.PickedUpAt,
		InTransitAt:   s.InTransitAt,
		DeliveredAt:   s.DeliveredAt,
		CompletedAt:   s.CompletedAt,
		PodReference:  s.PodReference,
		PodNotes:      s.PodNotes,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

type bidResponse struct {
	ID         string          `json:"id"`
	ShipmentID string          `json:"shipment_id"`
	CarrierID  string          `json:"carrier_id"`
	Amount     decimal.Decimal `json:"amount"`
	Message    string          `json:"message,omitempty"`
	Status     bid.Status      `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toBidResponse(b bid.Bid) bidResponse {
	return bidResponse{
		ID:         b.ID,
		ShipmentID: b.ShipmentID,
		CarrierID:  b.CarrierID,
		Amount:     b.Amount,
		Message:    b.Message,
		Status:     b.Status,
		CreatedAt:  b.CreatedAt,
	}
}

type paymentResponse struct {
	ID         string          `json:"id"`
	ShipmentID string          `json:"shipment_id"`
	BidID      string          `json:"bid_id"`
	PayerID    string          `json:"payer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     payment.Status  `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toPaymentResponse(p payment.Payment) paymentResponse {
	return paymentResponse{
		ID:         p.ID,
		ShipmentID: p.ShipmentID,
		BidID:      p.BidID,
		PayerID:    p.PayerID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Status:     p.Status,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

type refundResponse struct {
	ID          string          `json:"id"`
	PaymentID   string          `json:"payment_id"`
	RequesterID string          `json:"requester_id"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      refund.Reason   `json:"reason"`
	Note        string          `json:"note,omitempty"`
	Status      refund.Status   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toRefundResponse(r refund.Refund) refundResponse {
	return refundResponse{
		ID:          r.ID,
		PaymentID:   r.PaymentID,
		RequesterID: r.RequesterID,
		Amount:      r.Amount,
		Reason:      r.Reason,
		Note:        r.Note,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type notificationResponse struct {
	ID         string      `json:"id"`
	Type       notify.Type `json:"type"`
	Title      string      `json:"title"`
	Message    string      `json:"message"`
	ShipmentID *string     `json:"shipment_id,omitempty"`
	BidID      *string     `json:"bid_id,omitempty"`
	PaymentID  *string     `json:"payment_id,omitempty"`
	Read       bool        `json:"read"`
	CreatedAt  time.Time   `json:"created_at"`
}

func toNotificationResponse(n notify.Notification) notificationResponse {
	return notificationResponse{
		ID:         n.ID,
		Type:       n.Type,
		Title:      n.Title,
		Message:    n.Message,
		ShipmentID: n.ShipmentID,
		BidID:      n.BidID,
		PaymentID:  n.PaymentID,
		Read:       n.Read,
		CreatedAt:  n.CreatedAt,
	}
}
