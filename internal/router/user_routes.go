package router

import (
	"github.com/labstack/echo/v4"

	"github.com/qurbani/slot-allocation/internal/handler"
	"github.com/qurbani/slot-allocation/internal/middleware"
	"github.com/qurbani/slot-allocation/internal/utils"
)

// RegisterUser registers the endpoints of signed-in users under /v1.  Admins
// may call them too; participations they submit are their own.
func RegisterUser(e *echo.Echo, p *handler.ParticipationHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleUser, utils.RoleAdmin),
	)
	g.POST("/participations", p.Submit)
	g.GET("/participations/:id", p.Get)
	g.GET("/my-participations", p.Mine)
	g.GET("/my-completions", p.MyCompletions)
}
