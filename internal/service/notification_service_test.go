package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/labrecord-api/internal/dto"
	"github.com/noah-isme/labrecord-api/internal/realtime"
	"github.com/noah-isme/labrecord-api/internal/targeting"
	"github.com/noah-isme/labrecord-api/internal/workflow"
)

func TestNotificationServiceNotifySanitizesAndPushes(t *testing.T) {
	fx := newFixture(t)
	svc := fx.notifications()

	created, err := svc.Notify(context.Background(), fx.student.ID, NotificationGradePublished, "<script>x</script>Graded <b>A</b>")
	require.NoError(t, err)
	require.Equal(t, "Graded A", created.Message)

	emits := fx.recorder.Find(realtime.UserRoom(fx.student.ID), realtime.EventNotification)
	require.Len(t, emits, 1)

	_, err = svc.Notify(context.Background(), fx.student.ID, NotificationGradePublished, "<script>only</script>")
	require.Error(t, err)
}

func TestNotificationServiceMarkReadIsOwnerOnly(t *testing.T) {
	fx := newFixture(t)
	svc := fx.notifications()

	created, err := svc.Notify(context.Background(), fx.student.ID, NotificationVivaScheduled, "viva tomorrow")
	require.NoError(t, err)

	_, err = svc.MarkRead(context.Background(), fx.teacher, created.ID)
	require.ErrorIs(t, err, ErrNotificationNotFound)

	read, err := svc.MarkRead(context.Background(), fx.pupil, created.ID)
	require.NoError(t, err)
	require.True(t, read.Read)

	list, err := svc.List(context.Background(), fx.pupil, dto.NotificationListQuery{Limit: 500})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestSideEffectFailuresDoNotFailTheWorkflow(t *testing.T) {
	fx := newFixture(t)
	fx.recorder.Err = errors.New("hub unavailable")
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	assignment := fx.publishedAssignment(t, now.Add(time.Hour), nil, targeting.ClassTarget(fx.class.ID))
	svc := fx.submissions(now)

	created, err := svc.Create(context.Background(), fx.pupil, dto.SubmissionCreateRequest{AssignmentID: assignment.ID})
	require.NoError(t, err)

	moved, err := svc.Transition(context.Background(), fx.teacher, created.ID, dto.SubmissionStatusRequest{Status: string(workflow.StatusNeedsRevision)})
	require.NoError(t, err)
	require.Equal(t, string(workflow.StatusNeedsRevision), moved.Status)

	notifications, err := fx.repos.Notifications.ListByUser(context.Background(), fx.student.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1, "the inbox row is written even when the push fails")
}
