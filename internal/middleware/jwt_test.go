package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func protectedApp() *fiber.App {
	app := fiber.New()
	app.Get("/", JWTProtected(testSecret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user": c.Locals("user_id"), "role": c.Locals("user_role")})
	})
	return app
}

func TestJWTProtectedAcceptsValidToken(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub":  "12",
		"role": "Teacher",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := protectedApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	expired := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "12",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "12"})
	unsigned := signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "12"})

	for name, header := range map[string]string{
		"missing":   "",
		"scheme":    "Basic abc",
		"expired":   "Bearer " + expired,
		"wrong key": "Bearer " + wrongKey,
		"none alg":  "Bearer " + unsigned,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := protectedApp().Test(req)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestClaimsNormalisation(t *testing.T) {
	id, ok := subjectFromClaims(jwt.MapClaims{"user_id": float64(7)})
	require.True(t, ok)
	require.Equal(t, uint(7), id)

	_, ok = subjectFromClaims(jwt.MapClaims{"sub": "abc"})
	require.False(t, ok)

	require.Equal(t, "admin", roleFromClaims(jwt.MapClaims{"roles": []interface{}{" ", "Admin"}}))
	require.Empty(t, roleFromClaims(jwt.MapClaims{}))
}

func TestTraceIDPropagatesIncomingHeader(t *testing.T) {
	app := fiber.New()
	app.Use(TraceID())
	app.Get("/", func(c *fiber.Ctx) error {
		if GetTraceID(c) != TraceIDFromContext(c.UserContext()) {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(GetTraceID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "abc-123", resp.Header.Get(TraceHeader))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Len(t, resp.Header.Get(TraceHeader), 36)
}
