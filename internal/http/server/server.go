// Package server assembles the Fiber application.
package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	memoryStorage "github.com/gofiber/storage/memory/v2"

	"logorender/internal/config"
	"logorender/internal/http/handlers"
	"logorender/internal/http/middleware"
	"logorender/internal/infra/blender"
	"logorender/internal/infra/logging"
	"logorender/internal/tokens"
)

// Deps are the collaborators of the HTTP layer. Renders may be nil when
// object storage is disabled; nil Tokens and LimiterStore get empty
// in-memory defaults.
type Deps struct {
	Config       config.Config
	Jobs         handlers.Jobs
	Renders      handlers.Renders
	Slots        *blender.Slots
	Tokens       *tokens.Cache
	LimiterStore fiber.Storage
}

// New creates and configures the Fiber app.
func New(d Deps) *fiber.App {
	cfg := d.Config
	if d.Tokens == nil {
		d.Tokens = tokens.NewCache()
	}
	if d.LimiterStore == nil {
		d.LimiterStore = memoryStorage.New()
	}

	bodyLimit := cfg.Server.BodyLimitMB * 1024 * 1024
	if bodyLimit <= 0 {
		bodyLimit = fiber.DefaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit,
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app, cfg, d.Tokens, d.LimiterStore)
	RegisterRoutes(app, handlers.New(cfg, d.Jobs, d.Renders, d.Slots))

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// RegisterRoutes mounts all route handlers to the app.
func RegisterRoutes(app *fiber.App, h *handlers.Handler) {
	app.Get("/", h.Root)
	app.Get("/health", h.Health)
	app.Post("/render", h.Render)

	v1 := app.Group("/v1")
	v1.Post("/render", h.Render)
	v1.Get("/materials", h.Materials)
	v1.Get("/renders", h.ListRenders)
	v1.Get("/renders/url", h.RenderURL)
	v1.Delete("/renders", h.DeleteRender)
	v1.Get("/render/stats", h.Stats)

	v1.Get("/monitor", monitor.New(monitor.Config{Title: "logorender"}))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		msg = e.Message
	}

	logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	})
}
