package api

import (
	"net/http"

	"freightfloo/auth"

	"github.com/gofiber/fiber/v2"
)

// AuthHandler handles registration, login, and the current-user lookup.
type AuthHandler struct {
	svc *auth.Service
}

func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req auth.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	user, err := h.svc.Register(c.Context(), req)
	if err != nil {
		return fail(c, err)
	}

	return c.Status(http.StatusCreated).JSON(toUserResponse(*user))
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req auth.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	result, err := h.svc.Login(c.Context(), req)
	if err != nil {
		return fail(c, err)
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, err := h.svc.GetUserByID(c.Context(), actorID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(toUserResponse(*user))
}
