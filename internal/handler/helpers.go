package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/labrecord-api/internal/grading"
	"github.com/noah-isme/labrecord-api/internal/middleware"
	"github.com/noah-isme/labrecord-api/internal/service"
	"github.com/noah-isme/labrecord-api/internal/targeting"
	"github.com/noah-isme/labrecord-api/internal/utils"
)

const reasonAlreadyGraded = "already_graded"

var (
	errUnauthenticated   = errors.New("authentication required")
	errInvalidIdentifier = errors.New("invalid identifier")
)

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	value := strings.TrimSpace(c.Params(name))
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, errInvalidIdentifier
	}
	return uint(parsed), nil
}

func localUint(c *fiber.Ctx, key string) uint {
	switch v := c.Locals(key).(type) {
	case uint:
		return v
	case int:
		if v < 0 {
			return 0
		}
		return uint(v)
	}
	return 0
}

// principalFromContext reads the identity the JWT middleware stored on the request.
func principalFromContext(c *fiber.Ctx) (service.Principal, error) {
	userID := localUint(c, "user_id")
	if userID == 0 {
		return service.Principal{}, errUnauthenticated
	}
	role, _ := c.Locals("user_role").(string)
	return service.Principal{
		UserID:   userID,
		Role:     strings.ToLower(strings.TrimSpace(role)),
		SchoolID: localUint(c, "school_id"),
	}, nil
}

func withRequestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

func validationDetails(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	details := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[strings.ToLower(fieldErr.Field())] = fieldErr.Tag()
	}
	return details
}

// handleError maps service error kinds onto HTTP responses. Integrity failures are the only kind
// logged at error level.
func handleError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	if isValidationError(err) {
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	}
	if rejection, ok := service.AsPrecondition(err); ok {
		return utils.SendRejection(c, fiber.StatusUnprocessableEntity, rejection.Message, rejection.Reason)
	}

	switch {
	case errors.Is(err, errInvalidIdentifier):
		return badRequest(c, err.Error())
	case errors.Is(err, errUnauthenticated):
		return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrNotTargeted):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrAlreadyGraded):
		return utils.SendRejection(c, fiber.StatusConflict, "submission already graded", reasonAlreadyGraded)
	case errors.Is(err, service.ErrConflict):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrAssignmentNotFound),
		errors.Is(err, service.ErrTargetNotFound),
		errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, service.ErrGradeNotFound),
		errors.Is(err, service.ErrVivaNotFound),
		errors.Is(err, service.ErrNotificationNotFound),
		errors.Is(err, service.ErrStudentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, targeting.ErrIntegrity), errors.Is(err, grading.ErrScaleMissingFloor):
		requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("data integrity violation")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}

	requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}

// principalAndID resolves the caller together with the :id route parameter.
func principalAndID(c *fiber.Ctx) (service.Principal, uint, error) {
	principal, err := principalFromContext(c)
	if err != nil {
		return service.Principal{}, 0, err
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		return service.Principal{}, 0, err
	}
	return principal, id, nil
}

func badRequest(c *fiber.Ctx, message string) error {
	return utils.SendError(c, fiber.StatusBadRequest, message)
}

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}
