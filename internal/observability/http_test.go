package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, app *fiber.App, bearer string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMetricsHandlerExposesLabCollectors(t *testing.T) {
	Submissions().WithLabelValues("true").Inc()
	StatusTransitions().WithLabelValues("viva", "complete").Inc()

	app := fiber.New()
	app.Get("/metrics", MetricsHandler(""))

	status, body := scrape(t, app, "")
	require.Equal(t, fiber.StatusOK, status)
	require.Contains(t, body, `lab_submissions_total{late="true"}`)
	require.Contains(t, body, `lab_status_transitions_total{entity="viva",event="complete"}`)
}

func TestMetricsHandlerRequiresConfiguredToken(t *testing.T) {
	app := fiber.New()
	app.Get("/metrics", MetricsHandler("scrape-secret"))

	status, _ := scrape(t, app, "")
	require.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = scrape(t, app, "guess")
	require.Equal(t, fiber.StatusUnauthorized, status)

	Requests().WithLabelValues(http.MethodGet, "/metrics", "200").Inc()
	status, body := scrape(t, app, "scrape-secret")
	require.Equal(t, fiber.StatusOK, status)
	require.Contains(t, body, "lab_requests_total")
}
