package handler_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGradeCreateConflictsOnSecondAttempt(t *testing.T) {
	env := setupAPI(t)
	submissionID := env.submit(t, env.publishedAssignment(t))
	path := fmt.Sprintf("/api/v1/submissions/%d/grade", submissionID)
	marks := map[string]interface{}{"practical_marks": 40, "output_marks": 25, "viva_marks": 18}

	status, _ := env.call(t, http.MethodPost, path, env.studentToken(t), marks)
	require.Equal(t, http.StatusForbidden, status)

	status, resp := env.call(t, http.MethodPost, path, env.teacherToken(t), map[string]interface{}{"practical_marks": 51})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "marks_exceed_breakdown", resp.Reason)

	status, resp = env.call(t, http.MethodPost, path, env.teacherToken(t), marks)
	require.Equal(t, http.StatusCreated, status, resp.Message)
	var grade struct {
		ID          uint    `json:"id"`
		FinalMarks  float64 `json:"final_marks"`
		GradeLetter string  `json:"grade_letter"`
		Version     int     `json:"version"`
	}
	decodeData(t, resp, &grade)
	require.InDelta(t, 83, grade.FinalMarks, 1e-9)
	require.Equal(t, "A", grade.GradeLetter)

	status, resp = env.call(t, http.MethodPost, path, env.adminToken(t), marks)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "already_graded", resp.Reason)

	status, resp = env.call(t, http.MethodGet, path, env.studentToken(t), nil)
	require.Equal(t, http.StatusOK, status, resp.Message)
}

func TestGradeUpdateWritesHistory(t *testing.T) {
	env := setupAPI(t)
	submissionID := env.submit(t, env.publishedAssignment(t))

	status, resp := env.call(t, http.MethodPost, fmt.Sprintf("/api/v1/submissions/%d/grade", submissionID), env.teacherToken(t),
		map[string]interface{}{"practical_marks": 40, "output_marks": 25, "viva_marks": 18})
	require.Equal(t, http.StatusCreated, status, resp.Message)
	var grade struct {
		ID uint `json:"id"`
	}
	decodeData(t, resp, &grade)
	gradePath := fmt.Sprintf("/api/v1/grades/%d", grade.ID)

	status, resp = env.call(t, http.MethodPut, gradePath, env.teacherToken(t), map[string]interface{}{
		"practical_marks": 45, "output_marks": 25, "viva_marks": 18, "reason": "recount", "version": 1,
	})
	require.Equal(t, http.StatusOK, status, resp.Message)

	status, _ = env.call(t, http.MethodPut, gradePath, env.teacherToken(t), map[string]interface{}{
		"practical_marks": 1, "version": 1,
	})
	require.Equal(t, http.StatusConflict, status)

	status, resp = env.call(t, http.MethodGet, gradePath+"/history", env.teacherToken(t), nil)
	require.Equal(t, http.StatusOK, status)
	var history []struct {
		Reason string `json:"reason"`
	}
	decodeData(t, resp, &history)
	require.Len(t, history, 1)
	require.Equal(t, "recount", history[0].Reason)

	status, _ = env.call(t, http.MethodGet, gradePath+"/history", env.studentToken(t), nil)
	require.Equal(t, http.StatusForbidden, status)
}

func TestGradeScaleIsAdminManaged(t *testing.T) {
	env := setupAPI(t)
	scale := map[string]interface{}{"entries": []map[string]interface{}{
		{"min_percent": 0, "letter": "Fail"},
		{"min_percent": 50, "letter": "Pass"},
	}}

	status, _ := env.call(t, http.MethodPut, "/api/v1/grade-scale", env.teacherToken(t), scale)
	require.Equal(t, http.StatusForbidden, status)

	status, resp := env.call(t, http.MethodPut, "/api/v1/grade-scale", env.adminToken(t), map[string]interface{}{
		"entries": []map[string]interface{}{{"min_percent": 50, "letter": "P"}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "invalid_grade_scale", resp.Reason)

	status, resp = env.call(t, http.MethodPut, "/api/v1/grade-scale", env.adminToken(t), scale)
	require.Equal(t, http.StatusOK, status, resp.Message)

	status, resp = env.call(t, http.MethodGet, "/api/v1/grade-scale", env.studentToken(t), nil)
	require.Equal(t, http.StatusOK, status)
	var current struct {
		Source  string `json:"source"`
		Entries []struct {
			Letter string `json:"letter"`
		} `json:"entries"`
	}
	decodeData(t, resp, &current)
	require.Equal(t, "school", current.Source)
	require.Len(t, current.Entries, 2)
}
