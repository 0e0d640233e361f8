package api

import (
	"net/http"
	"strconv"

	"freightfloo/shipment"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// ShipmentHandler handles shipment CRUD and delivery-status transitions.
type ShipmentHandler struct {
	svc *shipment.Service
}

func NewShipmentHandler(svc *shipment.Service) *ShipmentHandler {
	return &ShipmentHandler{svc: svc}
}

type createShipmentRequest struct {
	Origin      string          `json:"origin"`
	Destination string          `json:"destination"`
	Description string          `json:"description"`
	PricingMode string          `json:"pricing_mode"`
	Price       decimal.Decimal `json:"price"`
}

func (h *ShipmentHandler) Create(c *fiber.Ctx) error {
	var req createShipmentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	created, err := h.svc.Create(c.Context(), shipment.CreateParams{
		OwnerID:     actorID(c),
		Origin:      req.Origin,
		Destination: req.Destination,
		Description: req.Description,
		PricingMode: shipment.PricingMode(req.PricingMode),
		Price:       req.Price,
	})
	if err != nil {
		return fail(c, err)
	}

	return c.Status(http.StatusCreated).JSON(toShipmentResponse(created))
}

func (h *ShipmentHandler) Get(c *fiber.Ctx) error {
	s, err := h.svc.Get(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toShipmentResponse(s))
}

func (h *ShipmentHandler) List(c *fiber.Ctx) error {
	filters := shipment.Filters{
		Status:      shipment.Status(c.Query("status")),
		PricingMode: shipment.PricingMode(c.Query("pricing_mode")),
	}
	if c.Query("mine") == "true" {
		filters.OwnerID = actorID(c)
	}
	if page, err := strconv.Atoi(c.Query("page", "1")); err == nil {
		filters.Page = page
	}
	if size, err := strconv.Atoi(c.Query("page_size", "20")); err == nil {
		filters.PageSize = size
	}

	shipments, total, err := h.svc.List(c.Context(), filters)
	if err != nil {
		return fail(c, err)
	}

	items := make([]shipmentResponse, 0, len(shipments))
	for _, s := range shipments {
		items = append(items, toShipmentResponse(s))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"shipments": items,
		"total":     total,
	})
}

type advanceStatusRequest struct {
	Status       string `json:"status"`
	PodReference string `json:"pod_reference"`
	PodNotes     string `json:"pod_notes"`
}

func (h *ShipmentHandler) AdvanceStatus(c *fiber.Ctx) error {
	var req advanceStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	params := shipment.AdvanceParams{
		ShipmentID: c.Params("id"),
		ActorID:    actorID(c),
		Target:     shipment.DeliveryStatus(req.Status),
	}
	if req.PodReference != "" || req.PodNotes != "" {
		params.Pod = &shipment.PodData{
			Reference: req.PodReference,
			Notes:     req.PodNotes,
		}
	}

	updated, err := h.svc.AdvanceStatus(c.Context(), params)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toShipmentResponse(updated))
}
