// Package handlers implements the HTTP routes.
package handlers

import (
	"context"
	"encoding/base64"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"logorender/internal/config"
	"logorender/internal/domain"
	"logorender/internal/http/middleware"
	"logorender/internal/infra/blender"
	"logorender/internal/infra/s3store"
	"logorender/internal/job"
)

// Jobs runs renders.
type Jobs interface {
	Run(ctx context.Context, req job.Request) (*domain.Result, error)
}

// Renders manages stored artifacts.
type Renders interface {
	List(ctx context.Context, userID string) ([]s3store.Object, error)
	Delete(ctx context.Context, userID, key string) error
	Presign(ctx context.Context, userID, key string, expiry time.Duration) (string, error)
}

// Handler serves every route. A nil Renders disables the stored-render
// routes; nil slots report as disabled.
type Handler struct {
	cfg     config.Config
	jobs    Jobs
	renders Renders
	slots   *blender.Slots
}

// New wires the handlers.
func New(cfg config.Config, jobs Jobs, renders Renders, slots *blender.Slots) *Handler {
	return &Handler{cfg: cfg, jobs: jobs, renders: renders, slots: slots}
}

// StatusFor maps a failure kind to an HTTP status.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidEncoding, domain.KindInvalidParameter:
		return fiber.StatusBadRequest
	case domain.KindOutputTooLarge:
		return fiber.StatusRequestEntityTooLarge
	case domain.KindTimeout:
		return fiber.StatusRequestTimeout
	case domain.KindBusy, domain.KindExecutableNotFound:
		return fiber.StatusServiceUnavailable
	case domain.KindUploadFailed:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// Root is the service banner.
func (h *Handler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "Logo Render API is running"})
}

// Health reports liveness with the service name.
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "service": h.cfg.Telemetry.ServiceName})
}

// Materials lists the material presets.
func (h *Handler) Materials(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"materials": domain.Materials(),
		"default":   domain.DefaultMaterial,
	})
}

type renderBody struct {
	Logo         string  `json:"logo" form:"logo"`
	Material     string  `json:"material" form:"material"`
	ExtrudeDepth float64 `json:"extrude_depth" form:"extrude_depth"`
	BevelDepth   float64 `json:"bevel_depth" form:"bevel_depth"`
	Transparent  bool    `json:"transparent" form:"transparent"`
	UserID       string  `json:"user_id" form:"user_id"`
	JobID        string  `json:"job_id" form:"job_id"`
	TimeoutSecs  int     `json:"timeout_secs" form:"timeout_secs"`
}

// Render runs one render from a JSON, urlencoded or multipart body. In a
// multipart body the logo may also be sent as a raw SVG file part.
func (h *Handler) Render(c *fiber.Ctx) error {
	body := renderBody{
		Material:     domain.DefaultMaterial,
		ExtrudeDepth: domain.DefaultExtrudeDepth,
		BevelDepth:   domain.DefaultBevelDepth,
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if body.Logo == "" {
		logo, err := h.logoFile(c)
		if err != nil {
			return err
		}
		body.Logo = logo
	}
	if body.Logo == "" {
		return fiber.NewError(fiber.StatusBadRequest, "logo is required")
	}

	userID := body.UserID
	if bound := middleware.TokenUserID(c); bound != "" {
		userID = bound
	}

	res, err := h.jobs.Run(c.UserContext(), job.Request{
		Image: body.Logo,
		Params: domain.Params{
			Material:     body.Material,
			ExtrudeDepth: body.ExtrudeDepth,
			BevelDepth:   body.BevelDepth,
			Transparent:  body.Transparent,
			UserID:       userID,
			JobID:        body.JobID,
			Timeout:      time.Duration(body.TimeoutSecs) * time.Second,
		},
	})
	if err != nil {
		return c.Status(StatusFor(domain.KindOf(err))).JSON(res)
	}
	return c.JSON(res)
}

// logoFile reads an uploaded "logo" file part and returns it base64 encoded.
// It returns "" when the request carries no such part.
func (h *Handler) logoFile(c *fiber.Ctx) (string, error) {
	fh, err := c.FormFile("logo")
	if err != nil {
		return "", nil
	}
	if limit := int64(h.cfg.Limits.MaxInputBytes); limit > 0 && fh.Size > limit {
		return "", fiber.NewError(fiber.StatusBadRequest, "logo file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "Cannot read logo file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "Cannot read logo file")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
