package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"beyondink/internal/models"
	"beyondink/internal/services"
	"beyondink/pkg/mailer"
	"beyondink/pkg/recaptcha"

	"github.com/gofiber/fiber/v2"
)

// FunctionsHandler exposes the collaborator endpoints the storefront used to
// call as serverless functions: token verification and the three emails.
type FunctionsHandler struct {
	verifier services.Verifier
	emails   *services.EmailService
	timeout  time.Duration
}

// NewFunctionsHandler creates a new FunctionsHandler.
func NewFunctionsHandler(verifier services.Verifier, emails *services.EmailService, timeout time.Duration) *FunctionsHandler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FunctionsHandler{verifier: verifier, emails: emails, timeout: timeout}
}

// RegisterRoutes registers the function routes behind guards.
func (h *FunctionsHandler) RegisterRoutes(router fiber.Router, guards ...fiber.Handler) {
	fnRoutes := router.Group("/functions", guards...)
	fnRoutes.Post("/verify-recaptcha", h.HandleVerifyRecaptcha)
	fnRoutes.Post("/send-booking-email", h.HandleSendBookingEmail)
	fnRoutes.Post("/send-subscription-email", h.HandleSendSubscriptionEmail)
	fnRoutes.Post("/send-contact-email", h.HandleSendContactEmail)
}

// HandleVerifyRecaptcha forwards {token} to the verification API and returns
// its verdict unchanged.
func (h *FunctionsHandler) HandleVerifyRecaptcha(c *fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&req); err != nil || req.Token == "" || h.verifier == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Missing token or secret",
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()
	verdict, err := h.verifier.Verify(ctx, req.Token)
	if errors.Is(err, recaptcha.ErrNotConfigured) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Missing token or secret",
		})
	}
	if err != nil {
		slog.Warn("verify-recaptcha failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(verdict)
}

// HandleSendBookingEmail sends the studio's new-booking email.
func (h *FunctionsHandler) HandleSendBookingEmail(c *fiber.Ctx) error {
	var req models.BookingEmailRequest
	return h.send(c, &req, func(ctx context.Context) (json.RawMessage, error) {
		return h.emails.SendBookingEmail(ctx, req)
	})
}

// HandleSendSubscriptionEmail sends the subscriber's welcome email.
func (h *FunctionsHandler) HandleSendSubscriptionEmail(c *fiber.Ctx) error {
	var req models.SubscriptionEmailRequest
	return h.send(c, &req, func(ctx context.Context) (json.RawMessage, error) {
		return h.emails.SendSubscriptionEmail(ctx, req)
	})
}

// HandleSendContactEmail forwards a contact message to the studio.
func (h *FunctionsHandler) HandleSendContactEmail(c *fiber.Ctx) error {
	var req models.ContactEmailRequest
	return h.send(c, &req, func(ctx context.Context) (json.RawMessage, error) {
		return h.emails.SendContactEmail(ctx, req)
	})
}

// send parses the body into req, runs fn and answers {ok, data} or
// 500 {ok:false, error}.
func (h *FunctionsHandler) send(c *fiber.Ctx, req any, fn func(ctx context.Context) (json.RawMessage, error)) error {
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()
	data, err := fn(ctx)
	if errors.Is(err, mailer.ErrNotConfigured) {
		return c.Status(fiber.StatusBadRequest).SendString("Missing RESEND_API_KEY")
	}
	if err != nil {
		slog.Warn("email function failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"ok":   true,
		"data": data,
	})
}
