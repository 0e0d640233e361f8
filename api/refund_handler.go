package api

import (
	"net/http"

	"freightfloo/refund"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// RefundHandler handles refund requests and lookups.
type RefundHandler struct {
	svc *refund.Service
}

func NewRefundHandler(svc *refund.Service) *RefundHandler {
	return &RefundHandler{svc: svc}
}

type createRefundRequest struct {
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Note      string          `json:"note"`
}

func (h *RefundHandler) Create(c *fiber.Ctx) error {
	var req createRefundRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.PaymentID == "" {
		return badRequest(c, "payment_id is required")
	}

	created, err := h.svc.RequestRefund(c.Context(), refund.RequestParams{
		PaymentID:   req.PaymentID,
		RequesterID: actorID(c),
		Amount:      req.Amount,
		Reason:      refund.Reason(req.Reason),
		Note:        req.Note,
	})
	if err != nil {
		return fail(c, err)
	}

	status := http.StatusCreated
	if created.Status == refund.StatusPending {
		// The processor call did not land yet; the record is parked for
		// operator follow-up.
		status = http.StatusAccepted
	}
	return c.Status(status).JSON(toRefundResponse(created))
}

func (h *RefundHandler) Get(c *fiber.Ctx) error {
	ref, err := h.svc.Get(c.Context(), c.Params("id"), actorID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toRefundResponse(ref))
}
