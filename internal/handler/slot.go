package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/service"
)

// SlotHandler serves slot availability and the admin slot editor.
type SlotHandler struct {
	Allocator   *service.Allocator
	Editor      *service.Editor
	Completions *service.CompletionTracker
	Log         *slog.Logger
}

// NewSlotHandler constructs a SlotHandler.
func NewSlotHandler(svc *service.Services, log *slog.Logger) *SlotHandler {
	if svc == nil || log == nil {
		panic("nil dependency passed to NewSlotHandler")
	}
	return &SlotHandler{Allocator: svc.Allocator, Editor: svc.Editor, Completions: svc.Completions, Log: log}
}

// Available handles GET /v1/slots/available?day=&quality=.
func (h *SlotHandler) Available(c echo.Context) error {
	day, ok := dayQuery(c)
	if !ok || day == 0 {
		return badRequest(c, "day is required")
	}
	var q model.Quality
	if raw := c.QueryParam("quality"); raw != "" {
		if q, ok = model.ParseQuality(raw); !ok {
			return badRequest(c, "unknown quality")
		}
	}
	items, err := h.Allocator.Available(c.Request().Context(), day, q)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return list(c, items)
}

// List handles GET /v1/admin/slots?day=.  Without a day every slot is listed.
func (h *SlotHandler) List(c echo.Context) error {
	day, ok := dayQuery(c)
	if !ok {
		return badRequest(c, "day must be a number")
	}
	items, err := h.Allocator.ListSlots(c.Request().Context(), day)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return list(c, items)
}

// Get handles GET /v1/admin/slots/:id.
func (h *SlotHandler) Get(c echo.Context) error {
	s, err := h.Allocator.GetSlot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, s)
}

// Merge handles POST /v1/admin/slots/merge.
func (h *SlotHandler) Merge(c echo.Context) error {
	var req service.MergeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	res, err := h.Editor.Merge(c.Request().Context(), req)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Undo handles POST /v1/admin/slots/:id/undo-merge and, without an id, POST
// /v1/admin/slots/undo-merge which reverts the most recent merge.
func (h *SlotHandler) Undo(c echo.Context) error {
	res, err := h.Editor.Undo(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

type moveRequest struct {
	ParticipationID string `json:"participation_id"`
	TargetSlotID    string `json:"target_slot_id"`
}

// Move handles POST /v1/admin/slots/:id/move.
func (h *SlotHandler) Move(c echo.Context) error {
	var req moveRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	res, err := h.Editor.MoveToSlot(c.Request().Context(), c.Param("id"), req.ParticipationID, req.TargetSlotID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

type shuffleRequest struct {
	ParticipationID string `json:"participation_id"`
	TargetDay       int    `json:"target_day"`
}

// Shuffle handles POST /v1/admin/slots/:id/shuffle.
func (h *SlotHandler) Shuffle(c echo.Context) error {
	var req shuffleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	res, err := h.Editor.Shuffle(c.Request().Context(), c.Param("id"), req.ParticipationID, req.TargetDay)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

type renameRequest struct {
	Name string `json:"name"`
}

// Rename handles PUT /v1/admin/slots/:id/participants/:pid/names/:index.
func (h *SlotHandler) Rename(c echo.Context) error {
	index, ok := intParam(c, "index")
	if !ok {
		return badRequest(c, "index must be a number")
	}
	var req renameRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	p, err := h.Editor.RenameParticipant(c.Request().Context(), c.Param("id"), c.Param("pid"), index, req.Name)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, p)
}

// DeleteParticipant handles DELETE
// /v1/admin/slots/:id/participants/:pid/names/:index.
func (h *SlotHandler) DeleteParticipant(c echo.Context) error {
	index, ok := intParam(c, "index")
	if !ok {
		return badRequest(c, "index must be a number")
	}
	res, err := h.Editor.DeleteParticipant(c.Request().Context(), c.Param("id"), c.Param("pid"), index)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// DeleteSlot handles DELETE /v1/admin/slots/:id.
func (h *SlotHandler) DeleteSlot(c echo.Context) error {
	res, err := h.Editor.DeleteSlot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Complete handles POST /v1/admin/slots/:id/complete.  Repeating the call
// is harmless and reports already_completed.
func (h *SlotHandler) Complete(c echo.Context) error {
	res, err := h.Completions.MarkCompleted(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}
