package api

import (
	"net/http"
	"strconv"

	"freightfloo/notify"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationHandler lists a user's notifications and marks them read.
type NotificationHandler struct {
	pool *pgxpool.Pool
}

func NewNotificationHandler(pool *pgxpool.Pool) *NotificationHandler {
	return &NotificationHandler{pool: pool}
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	notifications, err := notify.ListForUser(c.Context(), h.pool, actorID(c), limit)
	if err != nil {
		return fail(c, err)
	}

	items := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, toNotificationResponse(n))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"notifications": items})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	if err := notify.MarkRead(c.Context(), h.pool, actorID(c), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}
