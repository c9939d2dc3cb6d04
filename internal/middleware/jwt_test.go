package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const jwtTestSecret = "unit-secret"

func signed(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func principalApp() *fiber.App {
	app := fiber.New()
	app.Use(JWTProtected(jwtTestSecret))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id":   c.Locals("user_id"),
			"user_role": c.Locals("user_role"),
			"school_id": c.Locals("school_id"),
		})
	})
	return app
}

func TestJWTProtectedStoresPrincipal(t *testing.T) {
	app := principalApp()
	token := signed(t, jwt.SigningMethodHS256, []byte(jwtTestSecret), jwt.MapClaims{
		"sub":       "42",
		"role":      []interface{}{" Teacher "},
		"school_id": float64(9),
		"exp":       time.Now().Add(time.Minute).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		UserID   uint   `json:"user_id"`
		UserRole string `json:"user_role"`
		SchoolID uint   `json:"school_id"`
	}
	require.NoError(t, decodeJSON(resp, &body))
	require.Equal(t, uint(42), body.UserID)
	require.Equal(t, "teacher", body.UserRole)
	require.Equal(t, uint(9), body.SchoolID)
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	app := principalApp()
	expired := signed(t, jwt.SigningMethodHS256, []byte(jwtTestSecret), jwt.MapClaims{
		"sub": "1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	wrongKey := signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "1"})
	unsigned := signed(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "1"})
	schoolless := signed(t, jwt.SigningMethodHS256, []byte(jwtTestSecret), jwt.MapClaims{"sub": "1", "role": "teacher"})
	zeroSchool := signed(t, jwt.SigningMethodHS256, []byte(jwtTestSecret), jwt.MapClaims{"sub": "1", "role": "teacher", "school_id": float64(0)})

	cases := map[string]string{
		"missing":   "",
		"scheme":    "Basic abc",
		"empty":     "Bearer ",
		"expired":   "Bearer " + expired,
		"wrong key": "Bearer " + wrongKey,
		"none alg":  "Bearer " + unsigned,
		"no school": "Bearer " + schoolless,
		"school 0":  "Bearer " + zeroSchool,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestJWTProtectedAcceptsQueryTokenOnlyForUpgrades(t *testing.T) {
	app := principalApp()
	token := signed(t, jwt.SigningMethodHS256, []byte(jwtTestSecret), jwt.MapClaims{"sub": "7", "role": "student", "school_id": float64(1)})
	target := fmt.Sprintf("/me?token=%s", token)

	req := httptest.NewRequest(http.MethodGet, target, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func decodeJSON(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
