package api

import (
	"errors"
	"net/http"

	"freightfloo/auth"
	"freightfloo/bid"
	"freightfloo/logger"
	"freightfloo/notify"
	"freightfloo/payment"
	"freightfloo/refund"
	"freightfloo/shipment"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON body every failed request gets back.
type ErrorResponse struct {
	// Message is the error description.
	Message string `json:"message"`
	// RayID is the unique request identifier for debugging.
	RayID string `json:"ray_id"`
}

// statusFor maps domain errors onto HTTP status codes. Anything unmapped is
// an internal error and its detail stays out of the response body.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, bid.ErrInvalidAmount),
		errors.Is(err, shipment.ErrInvalidPrice),
		errors.Is(err, shipment.ErrPodRequired),
		errors.Is(err, refund.ErrInvalidAmount),
		errors.Is(err, refund.ErrInvalidReason),
		errors.Is(err, refund.ErrAmountExceedsPayment),
		errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest, true

	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, true

	case errors.Is(err, bid.ErrForbidden),
		errors.Is(err, bid.ErrSelfBid),
		errors.Is(err, shipment.ErrForbidden),
		errors.Is(err, payment.ErrForbidden),
		errors.Is(err, refund.ErrForbidden):
		return http.StatusForbidden, true

	case errors.Is(err, bid.ErrNotFound),
		errors.Is(err, bid.ErrShipmentNotFound),
		errors.Is(err, shipment.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, refund.ErrNotFound),
		errors.Is(err, notify.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound, true

	case errors.Is(err, bid.ErrDuplicateBid),
		errors.Is(err, bid.ErrShipmentNotActive),
		errors.Is(err, bid.ErrNotPending),
		errors.Is(err, bid.ErrAmountTooHigh),
		errors.Is(err, shipment.ErrInvalidTransition),
		errors.Is(err, shipment.ErrNotAssigned),
		errors.Is(err, payment.ErrAlreadyPaid),
		errors.Is(err, payment.ErrBidNotAccepted),
		errors.Is(err, payment.ErrShipmentNotPayable),
		errors.Is(err, payment.ErrIntentNotSucceeded),
		errors.Is(err, payment.ErrMissingIntent),
		errors.Is(err, payment.ErrDuplicatePayment),
		errors.Is(err, refund.ErrPendingExists),
		errors.Is(err, refund.ErrPaymentNotCompleted),
		errors.Is(err, refund.ErrMissingIntent),
		errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict, true

	case errors.Is(err, payment.ErrRateLimited),
		errors.Is(err, payment.ErrAccountTooNew):
		return http.StatusTooManyRequests, true

	case errors.Is(err, payment.ErrGateway):
		return http.StatusBadGateway, true
	}

	return http.StatusInternalServerError, false
}

// fail renders err as an ErrorResponse. Internal errors are logged with the
// ray id and replaced by a generic message.
func fail(c *fiber.Ctx, err error) error {
	rayID := rayID(c)
	status, known := statusFor(err)
	msg := err.Error()
	if !known {
		logger.Get().Error("request failed",
			zap.String("ray_id", rayID),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	return c.Status(status).JSON(ErrorResponse{Message: msg, RayID: rayID})
}

// badRequest renders a 400 for malformed input caught before the services.
func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(http.StatusBadRequest).JSON(ErrorResponse{Message: msg, RayID: rayID(c)})
}

func rayID(c *fiber.Ctx) string {
	id, ok := c.Locals("requestid").(string)
	if !ok {
		return "unknown"
	}
	return id
}
