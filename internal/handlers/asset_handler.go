package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"mime/multipart"
	"slices"

	"beyondink/internal/middleware"
	"beyondink/internal/models"
	"beyondink/internal/services"

	"github.com/gofiber/fiber/v2"
)

// AssetHandler handles reference-image uploads for booking sessions.
type AssetHandler struct {
	sessions *services.SessionManager
	maxBytes int
}

// NewAssetHandler creates a new AssetHandler. Files larger than maxBytes are
// rejected individually.
func NewAssetHandler(sessions *services.SessionManager, maxBytes int) *AssetHandler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &AssetHandler{sessions: sessions, maxBytes: maxBytes}
}

// RegisterRoutes registers the asset routes. guards run before the session is
// resolved, typically a rate limiter.
func (h *AssetHandler) RegisterRoutes(router fiber.Router, guards ...fiber.Handler) {
	chain := make([]fiber.Handler, 0, len(guards)+3)
	chain = append(chain, guards...)
	chain = append(chain, middleware.FormKind(), bookingOnly, middleware.FormSession(h.sessions, true))
	assetRoutes := router.Group("/forms/:kind/assets", chain...)
	assetRoutes.Post("/", h.HandleAddFiles)
	assetRoutes.Post("/upload", h.HandleUploadAll)
}

func bookingOnly(c *fiber.Ctx) error {
	if middleware.KindFrom(c) != models.FormBooking {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Only the booking form accepts reference images",
		})
	}
	return c.Next()
}

// HandleAddFiles appends the posted image files to the session's buffer.
// Drag-and-drop and the file picker both post here. Fields are read in name
// order and files within a field in posted order.
func (h *AssetHandler) HandleAddFiles(c *fiber.Ctx) error {
	sess := middleware.SessionFrom(c)
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Expected a multipart form",
			"error":   err.Error(),
		})
	}

	var (
		files    []models.AssetFile
		rejected []string
	)
	for _, field := range slices.Sorted(maps.Keys(form.File)) {
		for _, fh := range form.File[field] {
			if fh.Size > int64(h.maxBytes) {
				rejected = append(rejected, fh.Filename)
				continue
			}
			data, err := readPart(fh, h.maxBytes)
			if err != nil {
				slog.Warn("failed to read uploaded file", "file", fh.Filename, "error", err)
				rejected = append(rejected, fh.Filename)
				continue
			}
			files = append(files, models.AssetFile{
				Name:        fh.Filename,
				ContentType: fh.Header.Get(fiber.HeaderContentType),
				Data:        data,
			})
		}
	}

	accepted, full := sess.Assets.Add(files...)
	rejected = append(rejected, full...)
	slog.Debug("reference images queued", "session_id", sess.ID, "accepted", accepted, "source", c.FormValue("source"))

	return c.JSON(fiber.Map{
		"accepted": accepted,
		"ignored":  len(files) - accepted - len(full),
		"rejected": rejected,
		"pending":  sess.Assets.Pending(),
	})
}

// HandleUploadAll uploads the buffered files one at a time. Files that fail
// are left out of the result.
func (h *AssetHandler) HandleUploadAll(c *fiber.Ctx) error {
	sess := middleware.SessionFrom(c)
	uploaded := sess.Assets.UploadAll(c.UserContext())
	urls := services.URLs(uploaded)
	sess.AddImageURLs(urls)

	return c.JSON(fiber.Map{
		"uploaded":   uploaded,
		"urls":       urls,
		"image_urls": sess.ImageURLs(),
	})
}

func readPart(fh *multipart.FileHeader, limit int) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > limit {
		return nil, fmt.Errorf("file exceeds %d bytes", limit)
	}
	return data, nil
}
