package api

import (
	"encoding/json"
	"net/http"

	"freightfloo/logger"
	"freightfloo/payment"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
)

// PaymentHandler handles intent creation, the synchronous completion call,
// and the processor webhook.
type PaymentHandler struct {
	svc           *payment.Service
	webhookSecret string
}

func NewPaymentHandler(svc *payment.Service, webhookSecret string) *PaymentHandler {
	return &PaymentHandler{svc: svc, webhookSecret: webhookSecret}
}

type createIntentRequest struct {
	ShipmentID string `json:"shipment_id"`
	BidID      string `json:"bid_id"`
}

func (h *PaymentHandler) CreateIntent(c *fiber.Ctx) error {
	var req createIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ShipmentID == "" || req.BidID == "" {
		return badRequest(c, "shipment_id and bid_id are required")
	}

	result, err := h.svc.CreateOrReuseIntent(c.Context(), payment.IntentParams{
		ShipmentID: req.ShipmentID,
		BidID:      req.BidID,
		PayerID:    actorID(c),
	})
	if err != nil {
		return fail(c, err)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"payment":       toPaymentResponse(result.Payment),
		"client_secret": result.ClientSecret,
	})
}

type completePaymentRequest struct {
	PaymentID string `json:"payment_id"`
}

func (h *PaymentHandler) Complete(c *fiber.Ctx) error {
	var req completePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.PaymentID == "" {
		return badRequest(c, "payment_id is required")
	}

	completed, err := h.svc.Complete(c.Context(), req.PaymentID, actorID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toPaymentResponse(completed))
}

// Webhook receives processor callbacks. The signature is verified before
// anything is parsed; a 2xx acknowledges the event, anything else makes the
// processor retry.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	event, err := webhook.ConstructEvent(c.Body(), c.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		logger.Get().Warn("webhook signature rejected",
			zap.String("ray_id", rayID(c)),
			zap.Error(err),
		)
		return c.SendStatus(http.StatusBadRequest)
	}

	var pi stripe.PaymentIntent
	if len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			// An event shape we don't consume; acknowledge and move on.
			return c.SendStatus(http.StatusOK)
		}
	}
	if pi.ID == "" {
		return c.SendStatus(http.StatusOK)
	}

	if err := h.svc.HandleProcessorEvent(c.Context(), string(event.Type), pi.ID); err != nil {
		logger.Get().Error("webhook processing failed",
			zap.String("ray_id", rayID(c)),
			zap.String("event_type", string(event.Type)),
			zap.String("intent_id", pi.ID),
			zap.Error(err),
		)
		return c.SendStatus(http.StatusInternalServerError)
	}

	return c.SendStatus(http.StatusOK)
}
