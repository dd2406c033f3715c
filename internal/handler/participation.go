package handler

// This file defines the HTTP handlers for participations: users submit and
// follow their own purchases, admins confirm or reject payments.  The
// payment transition, the ledger reservation and the slot allocation all run
// inside the service's single transaction; the handlers only translate
// between HTTP and service calls.

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/qurbani/slot-allocation/internal/middleware"
	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/service"
)

// ParticipationHandler serves the participation and completion endpoints.
type ParticipationHandler struct {
	Participations *service.Participations
	Completions    *service.CompletionTracker
	Log            *slog.Logger
}

// NewParticipationHandler constructs a ParticipationHandler.  All
// dependencies must be non-nil.
func NewParticipationHandler(svc *service.Services, log *slog.Logger) *ParticipationHandler {
	if svc == nil || log == nil {
		panic("nil dependency passed to NewParticipationHandler")
	}
	return &ParticipationHandler{Participations: svc.Participations, Completions: svc.Completions, Log: log}
}

// Submit handles POST /v1/participations.  The shares are reserved in the
// ledger immediately; slots are only assigned once an admin confirms the
// payment.
func (h *ParticipationHandler) Submit(c echo.Context) error {
	var req service.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	p, err := h.Participations.Submit(c.Request().Context(), middleware.UserID(c), req)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// Mine handles GET /v1/my-participations.
func (h *ParticipationHandler) Mine(c echo.Context) error {
	items, err := h.Participations.List(c.Request().Context(), model.ParticipationFilter{UserID: middleware.UserID(c)})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return list(c, items)
}

// MyCompletions handles GET /v1/my-completions.
func (h *ParticipationHandler) MyCompletions(c echo.Context) error {
	items, err := h.Completions.ListForUser(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return list(c, items)
}

// Get handles GET /v1/participations/:id.  Users only see their own
// participations; admins see all.
func (h *ParticipationHandler) Get(c echo.Context) error {
	p, err := h.Participations.Get(c.Request().Context(), c.Param("id"), middleware.UserID(c), middleware.IsAdmin(c))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, p)
}

type paymentRequest struct {
	Status string `json:"status"`
}

// SetPayment handles PATCH /v1/admin/participations/:id/payment.  Moving
// to Completed allocates slots and the response lists where the shares
// landed.
func (h *ParticipationHandler) SetPayment(c echo.Context) error {
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	status, ok := model.ParsePaymentStatus(req.Status)
	if !ok {
		return badRequest(c, "status must be one of Pending, Completed, Rejected")
	}
	res, err := h.Participations.SetPaymentStatus(c.Request().Context(), c.Param("id"), status)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// List handles GET /v1/admin/participations with optional status, day and
// user_id filters.
func (h *ParticipationHandler) List(c echo.Context) error {
	f := model.ParticipationFilter{UserID: strings.TrimSpace(c.QueryParam("user_id"))}
	if raw := c.QueryParam("status"); raw != "" {
		s, ok := model.ParsePaymentStatus(raw)
		if !ok {
			return badRequest(c, "unknown payment status")
		}
		f.Status = s
	}
	day, ok := dayQuery(c)
	if !ok {
		return badRequest(c, "day must be a number")
	}
	f.Day = day
	items, err := h.Participations.List(c.Request().Context(), f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return list(c, items)
}
