package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"net/http" // HTTP status codes for responses
	"strings"  // string utilities for prefix checking and trimming

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/qurbani/slot-allocation/internal/utils" // token parsing shared with cmd/token
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject and role claims into the request context.
// Handlers read them back through UserID and Role.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return authenticate(secret, true)
}

// OptionalJWTAuth is JWTAuth for routes that also serve guests.  A request
// without a token passes through anonymously; a request with a bad token is
// still rejected.
func OptionalJWTAuth(secret string) echo.MiddlewareFunc {
	return authenticate(secret, false)
}

func authenticate(secret string, required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				if required {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing bearer token"})
				}
				return next(c)
			}
			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid token"})
			}
			// Store the subject (user ID) and role claims in the context.
			c.Set(ctxUserID, claims.Subject)
			c.Set(ctxRole, claims.Role)
			return next(c)
		}
	}
}

// bearerToken reads the token from the Authorization header.  Browsers
// cannot set headers on a websocket handshake, so the token query parameter
// is accepted as well.
func bearerToken(c echo.Context) string {
	if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(c.QueryParam("token"))
}
