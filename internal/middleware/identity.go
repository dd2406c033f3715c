package middleware

// identity.go holds the accessors for the identity JWTAuth stores in the
// Echo context.  Handlers use the exported ones; the rate limiter and the
// response cache key on identityKey, which is "guest" for anonymous calls.

import (
	"github.com/labstack/echo/v4"

	"github.com/qurbani/slot-allocation/internal/utils"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(c echo.Context) string {
	v, _ := c.Get(ctxUserID).(string)
	return v
}

// Role returns the authenticated role, or "" for anonymous requests.
func Role(c echo.Context) string {
	v, _ := c.Get(ctxRole).(string)
	return v
}

// IsAdmin reports whether the request carries an ADMIN token.
func IsAdmin(c echo.Context) bool {
	return Role(c) == utils.RoleAdmin
}

func identityKey(c echo.Context) string {
	if id := UserID(c); id != "" {
		return id
	}
	return "guest"
}
