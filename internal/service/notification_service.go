package service

import (
	"context"
	"errors"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/labrecord-api/internal/dto"
	"github.com/noah-isme/labrecord-api/internal/middleware"
	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/observability"
	"github.com/noah-isme/labrecord-api/internal/realtime"
	"github.com/noah-isme/labrecord-api/internal/repository"
)

// Notification types.
const (
	NotificationSubmissionReceived = "submission_received"
	NotificationSubmissionStatus   = "submission_status"
	NotificationGradePublished     = "grade_published"
	NotificationGradeUpdated       = "grade_updated"
	NotificationVivaScheduled      = "viva_scheduled"
	NotificationVivaStarted        = "viva_started"
)

const defaultNotificationPageLimit = 20

// Notifier stores an inbox row and pushes it to the user's realtime room.
type Notifier interface {
	Notify(ctx context.Context, userID uint, kind, message string) (dto.NotificationResponse, error)
}

// NotificationService exposes the inbox to its owner.
type NotificationService interface {
	Notifier
	List(ctx context.Context, principal Principal, query dto.NotificationListQuery) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, principal Principal, id uint) (dto.NotificationResponse, error)
}

type notificationService struct {
	repo        repository.NotificationRepository
	broadcaster realtime.Broadcaster
	sanitizer   *bluemonday.Policy
	pageLimit   int
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewNotificationService constructs a notification service. pageLimit caps List when the caller
// sends no limit.
func NewNotificationService(repo repository.NotificationRepository, broadcaster realtime.Broadcaster, pageLimit int, logger zerolog.Logger) NotificationService {
	if pageLimit <= 0 {
		pageLimit = defaultNotificationPageLimit
	}
	return &notificationService{
		repo:        repo,
		broadcaster: broadcaster,
		sanitizer:   bluemonday.StrictPolicy(),
		pageLimit:   pageLimit,
		logger:      logger.With().Str("component", "notification_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/labrecord-api/internal/service/notification"),
	}
}

func (s *notificationService) Notify(ctx context.Context, userID uint, kind, message string) (dto.NotificationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.notify", trace.WithAttributes(
		attribute.Int64("notification.user_id", int64(userID)),
		attribute.String("notification.type", kind),
	))
	defer span.End()

	clean := strings.TrimSpace(s.sanitizer.Sanitize(message))
	if clean == "" {
		err := errors.New("notification message empty after sanitization")
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty_message")
		return dto.NotificationResponse{}, err
	}

	model := models.Notification{UserID: userID, Type: kind, Message: clean}
	if err := s.repo.Create(spanCtx, &model); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "notification_insert_failed")
		return dto.NotificationResponse{}, err
	}

	response := dto.NewNotificationResponse(model)
	if s.broadcaster != nil {
		if err := s.broadcaster.EmitToUser(spanCtx, userID, realtime.EventNotification, response); err != nil {
			observability.SideEffectFailures().WithLabelValues("notification_emit").Inc()
			s.logger.Warn().Err(err).Uint("user_id", userID).Msg("failed to push notification")
		}
	}

	return response, nil
}

func (s *notificationService) List(ctx context.Context, principal Principal, query dto.NotificationListQuery) ([]dto.NotificationResponse, error) {
	limit := query.Limit
	if limit <= 0 || limit > s.pageLimit {
		limit = s.pageLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	items, err := s.repo.ListByUser(ctx, principal.UserID, limit, offset)
	if err != nil {
		return nil, err
	}
	return dto.NewNotificationResponseSlice(items), nil
}

func (s *notificationService) MarkRead(ctx context.Context, principal Principal, id uint) (dto.NotificationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.Int64("notification.user_id", int64(principal.UserID)),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, principal.UserID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NotificationResponse{}, ErrNotificationNotFound
		}
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

// notifyQuietly runs a notification as a side effect: failures are counted and logged only.
func notifyQuietly(ctx context.Context, notifier Notifier, logger zerolog.Logger, userID uint, kind, message string) {
	if notifier == nil {
		return
	}
	if _, err := notifier.Notify(ctx, userID, kind, message); err != nil {
		observability.SideEffectFailures().WithLabelValues("notification").Inc()
		logger.Warn().Err(err).
			Str("correlation_id", middleware.CorrelationIDFromContext(ctx)).
			Uint("user_id", userID).
			Str("type", kind).
			Msg("notification side effect failed")
	}
}

// emitQuietly pushes a realtime event as a side effect.
func emitQuietly(ctx context.Context, broadcaster realtime.Broadcaster, logger zerolog.Logger, room, event string, data interface{}) {
	if broadcaster == nil {
		return
	}
	if err := broadcaster.EmitToRoom(ctx, room, event, data); err != nil {
		observability.SideEffectFailures().WithLabelValues("realtime_emit").Inc()
		logger.Warn().Err(err).
			Str("correlation_id", middleware.CorrelationIDFromContext(ctx)).
			Str("room", room).
			Str("event", event).
			Msg("realtime side effect failed")
	}
}
