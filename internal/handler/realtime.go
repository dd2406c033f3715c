package handler

import (
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/qurbani/slot-allocation/internal/middleware"
	"github.com/qurbani/slot-allocation/internal/realtime"
)

// RealtimeHandler upgrades GET /v1/ws to a websocket subscribed to the
// rooms the caller may see: public always, user:<id> with a token and admin
// with an ADMIN token.
type RealtimeHandler struct {
	Hub      *realtime.Hub
	Upgrader *websocket.Upgrader
	Log      *slog.Logger
}

// NewRealtimeHandler constructs a RealtimeHandler.
func NewRealtimeHandler(hub *realtime.Hub, up *websocket.Upgrader, log *slog.Logger) *RealtimeHandler {
	if hub == nil || up == nil || log == nil {
		panic("nil dependency passed to NewRealtimeHandler")
	}
	return &RealtimeHandler{Hub: hub, Upgrader: up, Log: log}
}

// Rooms returns the rooms of a connection for the given identity.
func Rooms(userID string, admin bool) []string {
	rooms := []string{realtime.RoomPublic}
	if userID != "" {
		rooms = append(rooms, realtime.UserRoom(userID))
	}
	if admin {
		rooms = append(rooms, realtime.RoomAdmin)
	}
	return rooms
}

// Serve handles GET /v1/ws.
func (h *RealtimeHandler) Serve(c echo.Context) error {
	userID := middleware.UserID(c)
	err := h.Hub.ServeWS(h.Upgrader, c.Response(), c.Request(), userID, Rooms(userID, middleware.IsAdmin(c)))
	switch {
	case err == nil:
	case errors.Is(err, realtime.ErrHubStopped):
		h.Log.Warn("websocket refused, hub stopped")
	default:
		// the upgrader has already written the HTTP error
		h.Log.Debug("websocket upgrade failed", "err", err)
	}
	return nil
}
