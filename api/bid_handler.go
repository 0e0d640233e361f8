package api

import (
	"net/http"

	"freightfloo/bid"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// BidHandler handles bid submission and the shipper's accept/reject calls.
type BidHandler struct {
	svc *bid.Service
}

func NewBidHandler(svc *bid.Service) *BidHandler {
	return &BidHandler{svc: svc}
}

type submitBidRequest struct {
	ShipmentID string          `json:"shipment_id"`
	Amount     decimal.Decimal `json:"amount"`
	Message    string          `json:"message"`
}

func (h *BidHandler) Submit(c *fiber.Ctx) error {
	var req submitBidRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ShipmentID == "" {
		return badRequest(c, "shipment_id is required")
	}

	result, err := h.svc.SubmitBid(c.Context(), bid.SubmitParams{
		ShipmentID: req.ShipmentID,
		CarrierID:  actorID(c),
		Amount:     req.Amount,
		Message:    req.Message,
	})
	if err != nil {
		return fail(c, err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"bid":            toBidResponse(result.Bid),
		"offer_accepted": result.OfferAccepted,
	})
}

type updateBidRequest struct {
	Action string `json:"action"`
}

func (h *BidHandler) Update(c *fiber.Ctx) error {
	var req updateBidRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	var (
		updated bid.Bid
		err     error
	)
	switch req.Action {
	case "accept":
		updated, err = h.svc.Accept(c.Context(), c.Params("id"), actorID(c))
	case "reject":
		updated, err = h.svc.Reject(c.Context(), c.Params("id"), actorID(c))
	default:
		return badRequest(c, "action must be accept or reject")
	}
	if err != nil {
		return fail(c, err)
	}

	return c.Status(http.StatusOK).JSON(toBidResponse(updated))
}

func (h *BidHandler) ListForShipment(c *fiber.Ctx) error {
	bids, err := h.svc.ListForShipment(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}

	items := make([]bidResponse, 0, len(bids))
	for _, b := range bids {
		items = append(items, toBidResponse(b))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"bids": items})
}
