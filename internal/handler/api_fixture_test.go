package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/labrecord-api/internal/config"
	"github.com/noah-isme/labrecord-api/internal/grading"
	"github.com/noah-isme/labrecord-api/internal/handler"
	"github.com/noah-isme/labrecord-api/internal/middleware"
	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/realtime"
	"github.com/noah-isme/labrecord-api/internal/repository"
	"github.com/noah-isme/labrecord-api/internal/router"
	"github.com/noah-isme/labrecord-api/internal/service"
)

const (
	testSecret        = "test-secret"
	testSchool   uint = 1
	teacherID    uint = 100
	adminID      uint = 101
	testScaleRaw      = "90:A+,80:A,70:B,60:C,50:D,0:F"
)

type apiEnv struct {
	app     *fiber.App
	db      *gorm.DB
	hub     *realtime.Hub
	notify  service.NotificationService
	class   models.Class
	student models.Student
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())
	repos := repository.NewRepositories(db)
	tx := repository.NewTransactor(db)
	scale, err := grading.ParseScale(testScaleRaw)
	require.NoError(t, err)

	hub := realtime.NewHub(realtime.Options{
		Directory: repos.Enrollments,
		Vivas:     repos.Vivas,
		NodeID:    "test-node",
		Logger:    logger,
	})

	activity := service.NewActivityService(repos.Activity, validate, logger)
	notifications := service.NewNotificationService(repos.Notifications, hub, 50, logger)
	assignments := service.NewAssignmentService(repos, tx, hub, activity, validate, logger)
	submissions := service.NewSubmissionService(repos, tx, hub, notifications, activity, validate, 3, logger)
	grades := service.NewGradingService(repos, tx, nil, service.ScaleSettings{Default: scale}, hub, notifications, activity, validate, logger)
	vivas := service.NewVivaService(repos, tx, hub, notifications, activity, validate, true, logger)

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, config.Config{AppName: "Test", AppEnv: "test", JWTSecret: testSecret}, router.Dependencies{
		AssignmentHandler:   handler.NewAssignmentHandler(assignments, logger),
		SubmissionHandler:   handler.NewSubmissionHandler(submissions, logger),
		GradingHandler:      handler.NewGradingHandler(grades, logger),
		VivaHandler:         handler.NewVivaHandler(vivas, logger),
		NotificationHandler: handler.NewNotificationHandler(notifications, logger),
		ActivityHandler:     handler.NewActivityHandler(activity, logger),
		RealtimeHandler:     handler.NewRealtimeHandler(context.Background(), hub, logger),
		Hub:                 hub,
		JWTMiddleware:       middleware.JWTProtected(testSecret),
	})

	env := &apiEnv{app: app, db: db, hub: hub, notify: notifications}
	env.class = models.Class{SchoolID: testSchool, Name: "CS-A"}
	require.NoError(t, db.Create(&env.class).Error)
	env.student = models.Student{SchoolID: testSchool, Name: "ana", Email: "ana@school.test"}
	require.NoError(t, db.Create(&env.student).Error)
	require.NoError(t, db.Create(&models.ClassEnrollment{
		ClassID:   env.class.ID,
		StudentID: env.student.ID,
		Status:    models.EnrollmentStatusActive,
	}).Error)
	return env
}

func token(t *testing.T, userID uint, role string) string {
	t.Helper()
	return schoolToken(t, userID, role, testSchool)
}

func schoolToken(t *testing.T, userID uint, role string, schoolID uint) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       fmt.Sprintf("%d", userID),
		"role":      role,
		"school_id": float64(schoolID),
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *apiEnv) teacherToken(t *testing.T) string { return token(t, teacherID, service.RoleTeacher) }
func (e *apiEnv) adminToken(t *testing.T) string   { return token(t, adminID, service.RoleAdmin) }
func (e *apiEnv) studentToken(t *testing.T) string { return token(t, e.student.ID, service.RoleStudent) }

// call issues a request and decodes the envelope. bearer may be empty.
func (e *apiEnv) call(t *testing.T, method, path, bearer string, body interface{}) (int, apiResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded apiResponse
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(payload) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(payload, &decoded), string(payload))
	}
	return resp.StatusCode, decoded
}

func decodeData(t *testing.T, resp apiResponse, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

// publishedAssignment creates and publishes a class-targeted 50/30/20 assignment over HTTP.
func (e *apiEnv) publishedAssignment(t *testing.T) uint {
	t.Helper()

	status, resp := e.call(t, http.MethodPost, "/api/v1/assignments", e.teacherToken(t), map[string]interface{}{
		"title":           "Linked lists",
		"description":     "Implement <b>insert</b><script>x</script>",
		"due_date":        time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
		"max_marks":       100,
		"practical_marks": 50,
		"output_marks":    30,
		"viva_marks":      20,
		"passing_marks":   40,
		"targets":         []map[string]interface{}{{"type": "class", "id": e.class.ID}},
	})
	require.Equal(t, http.StatusCreated, status, resp.Message)

	var created struct {
		ID uint `json:"id"`
	}
	decodeData(t, resp, &created)

	status, resp = e.call(t, http.MethodPost, fmt.Sprintf("/api/v1/assignments/%d/publish", created.ID), e.teacherToken(t), nil)
	require.Equal(t, http.StatusOK, status, resp.Message)
	return created.ID
}

func (e *apiEnv) submit(t *testing.T, assignmentID uint) uint {
	t.Helper()
	status, resp := e.call(t, http.MethodPost, "/api/v1/submissions", e.studentToken(t), map[string]interface{}{
		"assignment_id": assignmentID,
		"content":       "my work",
	})
	require.Equal(t, http.StatusCreated, status, resp.Message)

	var created struct {
		ID uint `json:"id"`
	}
	decodeData(t, resp, &created)
	return created.ID
}
