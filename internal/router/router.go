package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/qurbani/slot-allocation/internal/handler"    // import the handlers that translate HTTP to service calls
	"github.com/qurbani/slot-allocation/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterPublic registers the unauthenticated read endpoints.  cache wraps
// each of them; it is a pass-through when caching is disabled.
func RegisterPublic(e *echo.Echo, s *handler.SlotHandler, l *handler.LedgerHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/slots/available", s.Available, cache)
	e.GET("/v1/share-limits", l.Limits, cache)
}

// RegisterRealtime registers the websocket endpoint.  Guests get the public
// room; a token in the Authorization header or the token query parameter
// adds the caller's own room and, for admins, the admin room.
func RegisterRealtime(e *echo.Echo, r *handler.RealtimeHandler, jwtSecret string) {
	e.GET("/v1/ws", r.Serve, middleware.OptionalJWTAuth(jwtSecret))
}
