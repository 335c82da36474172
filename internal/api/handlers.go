package api

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/domain"
	"github.com/freewebtopdf/upnet/internal/health"
	"github.com/freewebtopdf/upnet/internal/manifest"
)

// ErrorResponse represents the standard error response format
// @Description Standard error response format
type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// HealthResponse is the body of GET /health
// @Description Health check response
type HealthResponse struct {
	Status     string                            `json:"status" example:"healthy"`
	Timestamp  string                            `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Components map[string]health.ComponentStatus `json:"components"`
	Uptime     float64                           `json:"uptime" example:"3600"`
}

// Handlers serves a published release tree
type Handlers struct {
	fs            afero.Fs
	root          string
	manifestPath  string
	healthChecker HealthChecker
}

// NewHandlers creates handlers for the tree at root
func NewHandlers(fsys afero.Fs, root, manifestPath string, healthChecker HealthChecker) *Handlers {
	return &Handlers{
		fs:            fsys,
		root:          root,
		manifestPath:  manifestPath,
		healthChecker: healthChecker,
	}
}

// HealthHandler handles GET /health requests
// @Summary      Health check
// @Description  Reports whether the content root and the manifest can be served
// @Tags         System
// @Produce      json
// @Success      200 {object} HealthResponse "Serving"
// @Failure      503 {object} HealthResponse "Content root or manifest unavailable"
// @Router       /health [get]
func (h *Handlers) HealthHandler(c *fiber.Ctx) error {
	systemHealth := h.healthChecker.CheckHealth(c.Context())

	status := fiber.StatusOK
	if systemHealth.Status == health.StatusUnhealthy {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(HealthResponse{
		Status:     systemHealth.Status,
		Timestamp:  systemHealth.Timestamp.Format(time.RFC3339),
		Components: systemHealth.Components,
		Uptime:     systemHealth.Uptime,
	})
}

// ManifestHandler handles GET /manifest by returning the manifest bytes as published
// @Summary      Get the update manifest
// @Description  Returns the published manifest unchanged, as JSON or YAML depending on its file extension
// @Tags         Releases
// @Produce      json
// @Produce      application/yaml
// @Success      200 {string} string "Manifest document"
// @Failure      404 {object} ErrorResponse "Manifest not published"
// @Failure      429 {object} ErrorResponse "Rate limit exceeded"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /manifest [get]
func (h *Handlers) ManifestHandler(c *fiber.Ctx) error {
	data, err := afero.ReadFile(h.fs, h.manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return h.sendError(c, domain.NewAppError(domain.ErrNotFound, "Manifest not published", fiber.StatusNotFound, nil))
		}
		log.Error().Err(err).Str("request_id", requestID(c)).Str("path", h.manifestPath).Msg("Failed to read manifest")
		return h.sendError(c, domain.NewAppError(domain.ErrIOFailure, "Failed to read manifest", fiber.StatusInternalServerError, nil))
	}

	c.Set(fiber.HeaderContentType, manifest.FormatFromPath(h.manifestPath).ContentType())
	c.Set(fiber.HeaderCacheControl, "no-cache")
	return c.Send(data)
}

// ContentHandler handles GET /content/* by streaming the file at the content key
// @Summary      Download content
// @Description  Streams the file stored under a content key, relative to the published root
// @Tags         Releases
// @Produce      octet-stream
// @Param        key path string true "Content key, e.g. objects/<sha256 hex>"
// @Success      200 {file} file "Content bytes"
// @Failure      400 {object} ErrorResponse "Invalid content key"
// @Failure      404 {object} ErrorResponse "Content not found"
// @Failure      429 {object} ErrorResponse "Rate limit exceeded"
// @Router       /content/{key} [get]
func (h *Handlers) ContentHandler(c *fiber.Ctx) error {
	key, err := url.PathUnescape(c.Params("*"))
	if err != nil || key == "" || !filepath.IsLocal(filepath.FromSlash(key)) {
		return h.sendError(c, domain.NewAppError(
			domain.ErrInvalidInput,
			"Invalid content key",
			fiber.StatusBadRequest,
			map[string]string{"key": c.Params("*")},
		).WithOperation("content"))
	}

	path := filepath.Join(h.root, filepath.FromSlash(key))
	file, err := h.fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return h.sendError(c, domain.NewAppError(domain.ErrNotFound, "Content not found", fiber.StatusNotFound, map[string]string{"key": key}))
		}
		log.Error().Err(err).Str("request_id", requestID(c)).Str("key", key).Msg("Failed to open content")
		return h.sendError(c, domain.NewAppError(domain.ErrIOFailure, "Failed to open content", fiber.StatusInternalServerError, nil))
	}

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		file.Close()
		return h.sendError(c, domain.NewAppError(domain.ErrNotFound, "Content not found", fiber.StatusNotFound, map[string]string{"key": key}))
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	// fasthttp closes the file once the body is written
	return c.SendStream(file, int(info.Size()))
}

func (h *Handlers) sendError(c *fiber.Ctx, appErr *domain.AppError) error {
	return c.Status(appErr.StatusCode).JSON(ErrorResponse{
		Status:  "error",
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}
