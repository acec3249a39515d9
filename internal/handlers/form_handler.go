package handlers

import (
	"errors"
	"log/slog"

	"beyondink/internal/middleware"
	"beyondink/internal/models"
	"beyondink/internal/services"
	"beyondink/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// FormHandler handles HTTP requests for the lead-capture forms.
type FormHandler struct {
	sessions   *services.SessionManager
	openGuards []fiber.Handler
}

// NewFormHandler creates a new FormHandler.
func NewFormHandler(sessions *services.SessionManager) *FormHandler {
	return &FormHandler{
		sessions: sessions,
	}
}

// WithOpenGuards sets handlers that run before a session is opened.
func (h *FormHandler) WithOpenGuards(guards ...fiber.Handler) *FormHandler {
	h.openGuards = append([]fiber.Handler(nil), guards...)
	return h
}

// RegisterRoutes registers the form routes. submitGuards run before the
// submit handler, typically a rate limiter.
func (h *FormHandler) RegisterRoutes(router fiber.Router, submitGuards ...fiber.Handler) {
	formRoutes := router.Group("/forms/:kind", middleware.FormKind())
	open := append(append([]fiber.Handler(nil), h.openGuards...), h.HandleOpenSession)
	formRoutes.Post("/sessions", open...)
	formRoutes.Get("/session", middleware.FormSession(h.sessions, true), h.HandleGetSession)
	formRoutes.Post("/session/reset", middleware.FormSession(h.sessions, true), h.HandleResetSession)

	submit := make([]fiber.Handler, 0, len(submitGuards)+2)
	submit = append(submit, submitGuards...)
	submit = append(submit, middleware.FormSession(h.sessions, false), h.HandleSubmit)
	formRoutes.Post("/submit", submit...)
}

// HandleOpenSession starts a new form session.
func (h *FormHandler) HandleOpenSession(c *fiber.Ctx) error {
	kind := middleware.KindFrom(c)
	sess, token, err := h.sessions.Open(kind)
	if err != nil {
		slog.Error("failed to open form session", "form", string(kind), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not open form session",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id": sess.ID,
		"token":      token,
		"state":      sess.Pipeline.Snapshot(),
	})
}

// HandleGetSession returns the session's current state.
func (h *FormHandler) HandleGetSession(c *fiber.Ctx) error {
	return c.JSON(sessionView(middleware.SessionFrom(c)))
}

// HandleResetSession clears the form back to Idle ("submit another").
func (h *FormHandler) HandleResetSession(c *fiber.Ctx) error {
	sess := middleware.SessionFrom(c)
	sess.Pipeline.Reset()
	return c.JSON(sessionView(sess))
}

// HandleSubmit runs the submission pipeline for the posted draft. Without a
// session header the draft runs through a one-off pipeline.
func (h *FormHandler) HandleSubmit(c *fiber.Ctx) error {
	kind := middleware.KindFrom(c)
	draft := newDraft(kind)

	var envelope struct {
		RecaptchaToken string `json:"recaptchaToken" form:"recaptchaToken"`
	}
	if err := c.BodyParser(draft); err != nil {
		slog.Debug("error parsing submission body", "form", string(kind), "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	if err := c.BodyParser(&envelope); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}

	sess := middleware.SessionFrom(c)
	if sess == nil {
		var err error
		if sess, err = h.sessions.Anonymous(kind); err != nil {
			slog.Error("failed to build pipeline", "form", string(kind), "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"message": "Could not process submission",
			})
		}
	}

	res := sess.Submit(c.UserContext(), draft, envelope.RecaptchaToken)
	return writeResult(c, res)
}

func writeResult(c *fiber.Ctx, res services.Result) error {
	if res.Stale {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"message":    "This submission was superseded by a newer one",
			"generation": res.Generation,
		})
	}

	if res.Err == nil {
		body := fiber.Map{
			"state":      res.State,
			"generation": res.Generation,
			"record":     res.Record,
		}
		if b, ok := res.Record.(*models.BookingRequest); ok {
			body["booking_reference"] = b.BookingReference
		}
		return c.Status(fiber.StatusCreated).JSON(body)
	}

	status := fiber.StatusInternalServerError
	var (
		fieldErrs  validation.FieldErrors
		verifyErr  *services.VerificationError
		persistErr *services.PersistenceError
	)
	switch {
	case errors.As(res.Err, &fieldErrs):
		status = fiber.StatusUnprocessableEntity
	case errors.As(res.Err, &verifyErr):
		status = fiber.StatusBadRequest
	case errors.As(res.Err, &persistErr):
		slog.Error("submission not persisted", "collection", persistErr.Collection, "error", persistErr.Err)
		status = fiber.StatusBadGateway
	}

	return c.Status(status).JSON(fiber.Map{
		"state":      res.State,
		"generation": res.Generation,
		"errors":     services.ErrorFields(res.Err),
	})
}

func sessionView(sess *services.FormSession) fiber.Map {
	view := fiber.Map{
		"session_id": sess.ID,
		"state":      sess.Pipeline.Snapshot(),
	}
	if sess.Kind == models.FormBooking {
		view["image_urls"] = sess.ImageURLs()
		if sess.Assets != nil {
			view["pending_files"] = sess.Assets.Pending()
		}
	}
	return view
}

func newDraft(kind models.FormKind) models.Draft {
	switch kind {
	case models.FormBooking:
		return &models.BookingDraft{}
	case models.FormMailingList:
		return &models.SubscriberDraft{}
	default:
		return &models.ContactDraft{}
	}
}
