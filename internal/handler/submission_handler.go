package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/labrecord-api/internal/dto"
	"github.com/noah-isme/labrecord-api/internal/service"
	"github.com/noah-isme/labrecord-api/internal/utils"
)

// SubmissionHandler exposes submission endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches submission endpoints.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("", h.create)
	router.Get("/:id", h.get)
	router.Put("/:id", h.update)
	router.Patch("/:id", h.update)
	router.Patch("/:id/status", h.transition)
	router.Get("/:id/revisions", h.revisions)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	principal, err := principalFromContext(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var query dto.SubmissionListQuery
	if err := c.QueryParser(&query); err != nil {
		return badRequest(c, "invalid query parameters")
	}

	submissions, err := h.service.List(withRequestContext(c), principal, query)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.OK(c, submissions, "submissions retrieved", fiber.Map{"count": len(submissions)})
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	submission, err := h.service.Get(withRequestContext(c), principal, id)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	principal, err := principalFromContext(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var payload dto.SubmissionCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	submission, err := h.service.Create(withRequestContext(c), principal, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("submission_id", submission.ID).
		Int("submission_number", submission.SubmissionNumber).
		Msg("submission created")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission created", submission)
}

func (h *SubmissionHandler) update(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var payload dto.SubmissionUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	submission, err := h.service.Update(withRequestContext(c), principal, id, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission updated", submission)
}

func (h *SubmissionHandler) transition(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var payload dto.SubmissionStatusRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	submission, err := h.service.Transition(withRequestContext(c), principal, id, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "submission status updated", submission)
}

func (h *SubmissionHandler) revisions(c *fiber.Ctx) error {
	principal, id, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	revisions, err := h.service.Revisions(withRequestContext(c), principal, id)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "revisions retrieved", revisions)
}
