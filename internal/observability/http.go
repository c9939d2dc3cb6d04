package observability

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/labrecord-api/internal/utils"
)

// MetricsHandler serves the lab collectors in the OpenMetrics format. A non-empty token must be
// presented as a bearer token by the scraper.
func MetricsHandler(token string) fiber.Handler {
	RegisterMetrics()
	scrape := adaptor.HTTPHandler(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	if token == "" {
		return scrape
	}

	expected := []byte(token)
	return func(c *fiber.Ctx) error {
		presented := strings.TrimSpace(strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))
		if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			return utils.SendError(c, fiber.StatusUnauthorized, "metrics token required")
		}
		return scrape(c)
	}
}
