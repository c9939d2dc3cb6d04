package handler_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/service"
)

func TestHealthIsPublic(t *testing.T) {
	env := setupAPI(t)

	status, resp := env.call(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)
	require.Contains(t, string(resp.Data), "test-node")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := setupAPI(t)

	status, resp := env.call(t, http.MethodGet, "/api/v1/assignments", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.False(t, resp.Success)

	status, _ = env.call(t, http.MethodGet, "/api/v1/assignments", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestAssignmentVisibilityFollowsPublication(t *testing.T) {
	env := setupAPI(t)

	status, resp := env.call(t, http.MethodPost, "/api/v1/assignments", env.studentToken(t), map[string]interface{}{"title": "nope"})
	require.Equal(t, http.StatusForbidden, status, resp.Message)

	status, resp = env.call(t, http.MethodPost, "/api/v1/assignments", env.teacherToken(t), map[string]interface{}{"title": "x"})
	require.Equal(t, http.StatusBadRequest, status, resp.Message)

	id := env.publishedAssignment(t)
	path := fmt.Sprintf("/api/v1/assignments/%d", id)

	status, resp = env.call(t, http.MethodGet, path, env.studentToken(t), nil)
	require.Equal(t, http.StatusOK, status, resp.Message)

	var view struct {
		Description string `json:"description"`
		Status      string `json:"status"`
		Targets     []struct {
			Type string `json:"type"`
		} `json:"targets"`
	}
	decodeData(t, resp, &view)
	require.Equal(t, "published", view.Status)
	require.NotContains(t, view.Description, "<script>")
	require.Len(t, view.Targets, 1)

	status, _ = env.call(t, http.MethodGet, "/api/v1/assignments/abc", env.teacherToken(t), nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = env.call(t, http.MethodGet, "/api/v1/assignments/9999", env.teacherToken(t), nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestAssignmentDeleteRejectedOnceSubmitted(t *testing.T) {
	env := setupAPI(t)
	id := env.publishedAssignment(t)
	env.submit(t, id)

	status, resp := env.call(t, http.MethodDelete, fmt.Sprintf("/api/v1/assignments/%d", id), env.teacherToken(t), nil)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "assignment_has_submissions", resp.Reason)

	status, resp = env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/assignments/%d/archive", id), env.teacherToken(t), nil)
	require.Equal(t, http.StatusOK, status, resp.Message)

	status, resp = env.call(t, http.MethodPatch, fmt.Sprintf("/api/v1/assignments/%d", id), env.teacherToken(t), map[string]interface{}{"title": "Renamed"})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "assignment_archived", resp.Reason)
}

func TestAssignmentTargetsCanBeManaged(t *testing.T) {
	env := setupAPI(t)
	id := env.publishedAssignment(t)
	base := fmt.Sprintf("/api/v1/assignments/%d/targets", id)

	status, resp := env.call(t, http.MethodPost, base, env.teacherToken(t), map[string]interface{}{
		"type": "student",
		"id":   env.student.ID,
	})
	require.Equal(t, http.StatusCreated, status, resp.Message)

	var target struct {
		ID uint `json:"id"`
	}
	decodeData(t, resp, &target)

	status, resp = env.call(t, http.MethodGet, base, env.teacherToken(t), nil)
	require.Equal(t, http.StatusOK, status)
	var targets []map[string]interface{}
	decodeData(t, resp, &targets)
	require.Len(t, targets, 2)

	status, _ = env.call(t, http.MethodDelete, fmt.Sprintf("%s/%d", base, target.ID), env.teacherToken(t), nil)
	require.Equal(t, http.StatusOK, status)

	foreign := models.Class{SchoolID: testSchool + 1, Name: "CS-Z"}
	require.NoError(t, env.db.Create(&foreign).Error)
	status, resp = env.call(t, http.MethodPost, base, env.teacherToken(t), map[string]interface{}{
		"type": "class",
		"id":   foreign.ID,
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, service.ReasonUnknownTarget, resp.Reason)
}
