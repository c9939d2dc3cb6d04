package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/labrecord-api/internal/dto"
	"github.com/noah-isme/labrecord-api/internal/service"
	"github.com/noah-isme/labrecord-api/internal/utils"
)

// VivaHandler exposes viva scheduling and examination endpoints.
type VivaHandler struct {
	service service.VivaService
	logger  zerolog.Logger
}

// NewVivaHandler constructs the handler.
func NewVivaHandler(service service.VivaService, logger zerolog.Logger) *VivaHandler {
	return &VivaHandler{
		service: service,
		logger:  logger.With().Str("component", "viva_handler").Logger(),
	}
}

// Register attaches viva endpoints.
func (h *VivaHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("", h.schedule)
	router.Post("/standalone", h.scheduleStandalone)
	router.Get("/:id", h.get)
	router.Post("/:id/start", h.start)
	router.Post("/:id/complete", h.complete)
}

func (h *VivaHandler) list(c *fiber.Ctx) error {
	principal, err := principalFromContext(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var query dto.VivaListQuery
	if err := c.QueryParser(&query); err != nil {
		return badRequest(c, "invalid query parameters")
	}

	vivas, err := h.service.List(withRequestContext(c), principal, query)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.OK(c, vivas, "vivas retrieved", fiber.Map{"count": len(vivas)})
}

func (h *VivaHandler) get(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	viva, err := h.service.Get(withRequestContext(c), principal, id)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "viva retrieved", viva)
}

func (h *VivaHandler) schedule(c *fiber.Ctx) error {
	principal, err := principalFromContext(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var payload dto.VivaScheduleRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	viva, err := h.service.Schedule(withRequestContext(c), principal, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "viva scheduled", viva)
}

func (h *VivaHandler) scheduleStandalone(c *fiber.Ctx) error {
	principal, err := principalFromContext(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var payload dto.VivaStandaloneRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	viva, err := h.service.ScheduleStandalone(withRequestContext(c), principal, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "viva scheduled", viva)
}

func (h *VivaHandler) start(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	viva, err := h.service.Start(withRequestContext(c), principal, id)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "viva started", viva)
}

func (h *VivaHandler) complete(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var payload dto.VivaCompleteRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	viva, err := h.service.Complete(withRequestContext(c), principal, id, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "viva completed", viva)
}
