package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/labrecord-api/internal/dto"
	"github.com/noah-isme/labrecord-api/internal/service"
	"github.com/noah-isme/labrecord-api/internal/utils"
)

// NotificationHandler exposes the caller's notification inbox. Live delivery goes through the realtime socket.
type NotificationHandler struct {
	service service.NotificationService
	logger  zerolog.Logger
}

// NewNotificationHandler constructs a handler instance.
func NewNotificationHandler(service service.NotificationService, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger.With().Str("component", "notification_handler").Logger(),
	}
}

// Register binds the notification routes.
func (h *NotificationHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("/:id/read", h.markRead)
	router.Patch("/:id/read", h.markRead)
}

func (h *NotificationHandler) list(c *fiber.Ctx) error {
	principal, err := principalFromContext(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil || limit < 0 {
		return badRequest(c, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil || offset < 0 {
		return badRequest(c, "invalid offset")
	}

	notifications, err := h.service.List(withRequestContext(c), principal, dto.NotificationListQuery{Limit: limit, Offset: offset})
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.OK(c, notifications, "notifications", fiber.Map{"limit": limit, "offset": offset})
}

func (h *NotificationHandler) markRead(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	notification, err := h.service.MarkRead(withRequestContext(c), principal, id)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "notification updated", notification)
}
