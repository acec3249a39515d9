package middleware

import (
	"errors"
	"log/slog"
	"strings"

	"beyondink/internal/models"
	"beyondink/internal/services"

	"github.com/gofiber/fiber/v2"
)

// SessionHeader carries the form session token.
const SessionHeader = "X-Form-Session"

// Locals keys set by the middleware.
const (
	LocalFormKind = "form_kind"
	LocalSession  = "form_session"
)

// FormKind validates the :kind route parameter and stores it in Locals.
func FormKind() fiber.Handler {
	return func(c *fiber.Ctx) error {
		kind := models.FormKind(c.Params("kind"))
		if !kind.Valid() {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": "Unknown form",
			})
		}
		c.Locals(LocalFormKind, kind)
		return c.Next()
	}
}

// FormSession resolves the session named by the X-Form-Session header. When
// required is false a request without the header passes through with no
// session attached.
func FormSession(sessions *services.SessionManager, required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := strings.TrimSpace(c.Get(SessionHeader))
		if tokenString == "" {
			if required {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"message": SessionHeader + " header is required",
				})
			}
			return c.Next()
		}

		kind, _ := c.Locals(LocalFormKind).(models.FormKind)
		sess, err := sessions.Resolve(tokenString, kind)
		if err != nil {
			slog.Debug("form session rejected", "form", string(kind), "error", err)
			if errors.Is(err, services.ErrSessionNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"message": "Form session expired, please reload the form",
				})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Invalid form session",
				"error":   err.Error(),
			})
		}

		c.Locals(LocalSession, sess)
		return c.Next()
	}
}

// SessionFrom returns the session attached by FormSession, if any.
func SessionFrom(c *fiber.Ctx) *services.FormSession {
	sess, _ := c.Locals(LocalSession).(*services.FormSession)
	return sess
}

// KindFrom returns the form kind attached by FormKind.
func KindFrom(c *fiber.Ctx) models.FormKind {
	kind, _ := c.Locals(LocalFormKind).(models.FormKind)
	return kind
}
