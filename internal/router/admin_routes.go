package router

import (
	"github.com/labstack/echo/v4"

	"github.com/qurbani/slot-allocation/internal/handler"
	"github.com/qurbani/slot-allocation/internal/middleware"
	"github.com/qurbani/slot-allocation/internal/utils"
)

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin.
// All routes require a valid JWT and the ADMIN role.
func RegisterAdmin(e *echo.Echo, p *handler.ParticipationHandler, s *handler.SlotHandler, l *handler.LedgerHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleAdmin),
	)

	// ---- Participations ----
	g.GET("/participations", p.List)
	g.PATCH("/participations/:id/payment", p.SetPayment)

	// ---- Share limits ----
	g.PUT("/share-limits/:quality", l.SetLimit)

	// ---- Slots ----
	g.GET("/slots", s.List)
	g.POST("/slots/merge", s.Merge)
	g.POST("/slots/undo-merge", s.Undo)
	g.GET("/slots/:id", s.Get)
	g.DELETE("/slots/:id", s.DeleteSlot)
	g.POST("/slots/:id/undo-merge", s.Undo)
	g.POST("/slots/:id/move", s.Move)
	g.POST("/slots/:id/shuffle", s.Shuffle)
	g.POST("/slots/:id/complete", s.Complete)
	g.PUT("/slots/:id/participants/:pid/names/:index", s.Rename)
	g.DELETE("/slots/:id/participants/:pid/names/:index", s.DeleteParticipant)
}
