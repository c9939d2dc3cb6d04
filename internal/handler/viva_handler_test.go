package handler_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVivaLifecycleOverHTTP(t *testing.T) {
	env := setupAPI(t)
	submissionID := env.submit(t, env.publishedAssignment(t))
	slot := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)

	status, resp := env.call(t, http.MethodPost, "/api/v1/vivas", env.teacherToken(t), map[string]interface{}{
		"submission_id": submissionID,
		"scheduled_at":  slot,
		"meeting_link":  "https://meet.example.com/room",
	})
	require.Equal(t, http.StatusCreated, status, resp.Message)
	var viva struct {
		ID     uint   `json:"id"`
		Status string `json:"status"`
		Room   string `json:"room"`
	}
	decodeData(t, resp, &viva)
	require.Equal(t, "scheduled", viva.Status)
	require.Equal(t, fmt.Sprintf("viva-%d", viva.ID), viva.Room)
	base := fmt.Sprintf("/api/v1/vivas/%d", viva.ID)

	status, resp = env.call(t, http.MethodPost, "/api/v1/vivas", env.teacherToken(t), map[string]interface{}{
		"submission_id": submissionID,
		"scheduled_at":  slot,
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "invalid_transition", resp.Reason)

	status, _ = env.call(t, http.MethodPost, base+"/start", env.adminToken(t), nil)
	require.Equal(t, http.StatusForbidden, status)

	status, resp = env.call(t, http.MethodPost, base+"/start", env.teacherToken(t), nil)
	require.Equal(t, http.StatusOK, status, resp.Message)

	status, resp = env.call(t, http.MethodPost, base+"/complete", env.teacherToken(t), map[string]interface{}{
		"marks_obtained": 12, "max_marks": 10,
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "invalid_viva_marks", resp.Reason)

	status, resp = env.call(t, http.MethodPost, base+"/complete", env.teacherToken(t), map[string]interface{}{
		"marks_obtained": 8, "max_marks": 10, "rating": 4, "remarks": "clear answers",
	})
	require.Equal(t, http.StatusOK, status, resp.Message)

	status, resp = env.call(t, http.MethodGet, fmt.Sprintf("/api/v1/submissions/%d", submissionID), env.studentToken(t), nil)
	require.Equal(t, http.StatusOK, status)
	var submission struct {
		Status string `json:"status"`
	}
	decodeData(t, resp, &submission)
	require.Equal(t, "viva_completed", submission.Status)

	status, resp = env.call(t, http.MethodGet, "/api/v1/vivas", env.studentToken(t), nil)
	require.Equal(t, http.StatusOK, status)
	var listed []map[string]interface{}
	decodeData(t, resp, &listed)
	require.Len(t, listed, 1)
}

func TestStandaloneVivaForUnknownStudentIsNotFound(t *testing.T) {
	env := setupAPI(t)
	slot := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)

	status, _ := env.call(t, http.MethodPost, "/api/v1/vivas/standalone", env.teacherToken(t), map[string]interface{}{
		"student_id":   4242,
		"scheduled_at": slot,
	})
	require.Equal(t, http.StatusNotFound, status)

	status, resp := env.call(t, http.MethodPost, "/api/v1/vivas/standalone", env.teacherToken(t), map[string]interface{}{
		"student_id":   env.student.ID,
		"scheduled_at": slot,
		"mode":         "offline",
	})
	require.Equal(t, http.StatusCreated, status, resp.Message)
	var viva struct {
		SubmissionID *uint  `json:"submission_id"`
		Mode         string `json:"mode"`
	}
	decodeData(t, resp, &viva)
	require.NotNil(t, viva.SubmissionID)
	require.Equal(t, "offline", viva.Mode)

	status, _ = env.call(t, http.MethodPost, "/api/v1/vivas/standalone", env.studentToken(t), map[string]interface{}{
		"student_id":   env.student.ID,
		"scheduled_at": slot,
	})
	require.Equal(t, http.StatusForbidden, status)
}
