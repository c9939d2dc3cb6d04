package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/labrecord-api/internal/dto"
	"github.com/noah-isme/labrecord-api/internal/service"
	"github.com/noah-isme/labrecord-api/internal/utils"
)

// AssignmentHandler wires assignment HTTP routes.
type AssignmentHandler struct {
	service service.AssignmentService
	logger  zerolog.Logger
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(service service.AssignmentService, logger zerolog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		service: service,
		logger:  logger.With().Str("component", "assignment_handler").Logger(),
	}
}

// Register attaches assignment endpoints to the router group.
func (h *AssignmentHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("", h.create)
	router.Get("/:id", h.get)
	router.Put("/:id", h.update)
	router.Patch("/:id", h.update)
	router.Delete("/:id", h.delete)
	router.Post("/:id/publish", h.publish)
	router.Post("/:id/archive", h.archive)
	router.Get("/:id/targets", h.listTargets)
	router.Post("/:id/targets", h.addTarget)
	router.Delete("/:id/targets/:targetId", h.removeTarget)
}

func (h *AssignmentHandler) list(c *fiber.Ctx) error {
	principal, err := principalFromContext(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var query dto.AssignmentListQuery
	if err := c.QueryParser(&query); err != nil {
		return badRequest(c, "invalid query parameters")
	}

	assignments, err := h.service.List(withRequestContext(c), principal, query)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.OK(c, assignments, "assignments retrieved", fiber.Map{"count": len(assignments)})
}

func (h *AssignmentHandler) get(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	assignment, err := h.service.Get(withRequestContext(c), principal, id)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment retrieved", assignment)
}

func (h *AssignmentHandler) create(c *fiber.Ctx) error {
	principal, err := principalFromContext(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var payload dto.AssignmentCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	assignment, err := h.service.Create(withRequestContext(c), principal, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().Uint("assignment_id", assignment.ID).Msg("assignment created")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "assignment created", assignment)
}

func (h *AssignmentHandler) update(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var payload dto.AssignmentUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	assignment, err := h.service.Update(withRequestContext(c), principal, id, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment updated", assignment)
}

func (h *AssignmentHandler) delete(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	if err := h.service.Delete(withRequestContext(c), principal, id); err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment deleted", nil)
}

func (h *AssignmentHandler) publish(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	assignment, err := h.service.Publish(withRequestContext(c), principal, id)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment published", assignment)
}

func (h *AssignmentHandler) archive(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	assignment, err := h.service.Archive(withRequestContext(c), principal, id)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assignment archived", assignment)
}

func (h *AssignmentHandler) listTargets(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	targets, err := h.service.ListTargets(withRequestContext(c), principal, id)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "targets retrieved", targets)
}

func (h *AssignmentHandler) addTarget(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var payload dto.TargetRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	target, err := h.service.AddTarget(withRequestContext(c), principal, id, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "target added", target)
}

func (h *AssignmentHandler) removeTarget(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}
	targetID, err := parseUintParam(c, "targetId")
	if err != nil {
		return handleError(c, h.logger, err)
	}

	if err := h.service.RemoveTarget(withRequestContext(c), principal, id, targetID); err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "target removed", nil)
}
