package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/service"
)

// LedgerHandler exposes the per-tier share limits.
type LedgerHandler struct {
	Ledger *service.Ledger
	Log    *slog.Logger
}

// NewLedgerHandler constructs a LedgerHandler.
func NewLedgerHandler(svc *service.Services, log *slog.Logger) *LedgerHandler {
	if svc == nil || log == nil {
		panic("nil dependency passed to NewLedgerHandler")
	}
	return &LedgerHandler{Ledger: svc.Ledger, Log: log}
}

// Limits handles GET /v1/share-limits and returns max, participated and
// remaining per tier.
func (h *LedgerHandler) Limits(c echo.Context) error {
	l, err := h.Ledger.Limits(c.Request().Context())
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, l.View())
}

type limitRequest struct {
	MaxShares *int `json:"max_shares"`
}

// SetLimit handles PUT /v1/admin/share-limits/:quality.
func (h *LedgerHandler) SetLimit(c echo.Context) error {
	q, ok := model.ParseQuality(c.Param("quality"))
	if !ok {
		return badRequest(c, "unknown quality")
	}
	var req limitRequest
	if err := c.Bind(&req); err != nil || req.MaxShares == nil {
		return badRequest(c, "max_shares is required")
	}
	lim, err := h.Ledger.SetLimit(c.Request().Context(), q, *req.MaxShares)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, service.TierPayload{
		Quality:      lim.Quality,
		Max:          lim.Max,
		Participated: lim.Participated,
		Remaining:    lim.Remaining(),
	})
}
