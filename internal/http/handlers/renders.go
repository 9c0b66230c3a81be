package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"logorender/internal/domain"
	"logorender/internal/http/middleware"
	"logorender/internal/infra/blender"
	"logorender/internal/infra/logging"
	"logorender/internal/infra/s3store"
)

// callerUser resolves whose renders a request may touch. A token bound to a
// user only ever sees that user.
func (h *Handler) callerUser(c *fiber.Ctx) (string, error) {
	if h.renders == nil {
		return "", fiber.NewError(fiber.StatusServiceUnavailable, "Object storage is not configured")
	}
	requested := c.Query("user_id")
	if bound := middleware.TokenUserID(c); bound != "" {
		if requested != "" && requested != bound {
			return "", fiber.NewError(fiber.StatusForbidden, "user_id does not match API key")
		}
		return bound, nil
	}
	if requested == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "user_id is required")
	}
	if !domain.ValidID(requested) {
		return "", fiber.NewError(fiber.StatusBadRequest, "Invalid user_id")
	}
	return requested, nil
}

// ListRenders lists the caller's stored renders.
func (h *Handler) ListRenders(c *fiber.Ctx) error {
	user, err := h.callerUser(c)
	if err != nil {
		return err
	}
	objects, err := h.renders.List(c.UserContext(), user)
	if err != nil {
		logging.Error("Failed to list renders", "user_id", user, "error", err)
		return fiber.NewError(fiber.StatusBadGateway, "Cannot list renders")
	}
	if objects == nil {
		objects = []s3store.Object{}
	}
	return c.JSON(fiber.Map{"user_id": user, "count": len(objects), "renders": objects})
}

// RenderURL issues a new presigned URL for an owned key.
func (h *Handler) RenderURL(c *fiber.Ctx) error {
	user, err := h.callerUser(c)
	if err != nil {
		return err
	}
	key := c.Query("key")
	if key == "" {
		return fiber.NewError(fiber.StatusBadRequest, "key is required")
	}
	expiry := time.Duration(c.QueryInt("expires_in", 0)) * time.Second
	if expiry < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "expires_in must not be negative")
	}

	url, err := h.renders.Presign(c.UserContext(), user, key, expiry)
	if errors.Is(err, s3store.ErrForbiddenKey) {
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	}
	if err != nil {
		logging.Error("Failed to presign render", "key", key, "error", err)
		return fiber.NewError(fiber.StatusBadGateway, "Cannot sign URL")
	}
	return c.JSON(fiber.Map{"key": key, "url": url})
}

// DeleteRender removes an owned key.
func (h *Handler) DeleteRender(c *fiber.Ctx) error {
	user, err := h.callerUser(c)
	if err != nil {
		return err
	}
	key := c.Query("key")
	if key == "" {
		return fiber.NewError(fiber.StatusBadRequest, "key is required")
	}
	err = h.renders.Delete(c.UserContext(), user, key)
	if errors.Is(err, s3store.ErrForbiddenKey) {
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	}
	if err != nil {
		logging.Error("Failed to delete render", "key", key, "error", err)
		return fiber.NewError(fiber.StatusBadGateway, "Cannot delete render")
	}
	return c.JSON(fiber.Map{"deleted": key})
}

// Stats reports render slot usage.
func (h *Handler) Stats(c *fiber.Ctx) error {
	st := blender.Stats{}
	if h.slots != nil {
		st = h.slots.Stats()
	}
	return c.JSON(fiber.Map{"slots": st})
}
