package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/labrecord-api/internal/dto"
	"github.com/noah-isme/labrecord-api/internal/service"
	"github.com/noah-isme/labrecord-api/internal/utils"
)

// GradingHandler exposes grades, their history and the school grade scale.
type GradingHandler struct {
	service service.GradingService
	logger  zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(service service.GradingService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service: service,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// RegisterSubmissionRoutes attaches grade endpoints nested under a submission.
func (h *GradingHandler) RegisterSubmissionRoutes(router fiber.Router) {
	router.Post("/:id/grade", h.create)
	router.Get("/:id/grade", h.getBySubmission)
}

// Register attaches grade endpoints addressed by grade id.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Put("/:id", h.update)
	router.Get("/:id/history", h.history)
}

// RegisterScaleRoutes attaches the grade scale endpoints.
func (h *GradingHandler) RegisterScaleRoutes(router fiber.Router) {
	router.Get("", h.getScale)
	router.Put("", h.putScale)
}

func (h *GradingHandler) create(c *fiber.Ctx) error {
	principal, submissionID, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var payload dto.GradeCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	grade, err := h.service.Create(withRequestContext(c), principal, submissionID, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Uint("submission_id", submissionID).
		Uint("grade_id", grade.ID).
		Float64("final_marks", grade.FinalMarks).
		Msg("submission graded")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "grade recorded", grade)
}

func (h *GradingHandler) getBySubmission(c *fiber.Ctx) error {
	principal, submissionID, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	grade, err := h.service.GetBySubmission(withRequestContext(c), principal, submissionID)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "grade retrieved", grade)
}

func (h *GradingHandler) update(c *fiber.Ctx) error {
	principal, gradeID, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var payload dto.GradeUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	grade, err := h.service.Update(withRequestContext(c), principal, gradeID, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "grade updated", grade)
}

func (h *GradingHandler) history(c *fiber.Ctx) error {
	principal, gradeID, err := principalAndID(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	history, err := h.service.History(withRequestContext(c), principal, gradeID)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "grade history retrieved", history)
}

func (h *GradingHandler) getScale(c *fiber.Ctx) error {
	principal, err := principalFromContext(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	scale, err := h.service.GetScale(withRequestContext(c), principal)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "grade scale retrieved", scale)
}

func (h *GradingHandler) putScale(c *fiber.Ctx) error {
	principal, err := principalFromContext(c)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	var payload dto.GradeScaleRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	scale, err := h.service.PutScale(withRequestContext(c), principal, payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "grade scale updated", scale)
}
