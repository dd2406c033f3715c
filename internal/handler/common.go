package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/qurbani/slot-allocation/internal/service"
)

// statusByKind maps service error kinds onto HTTP statuses.
var statusByKind = map[service.Kind]int{
	service.KindCapacity:   http.StatusConflict,
	service.KindValidation: http.StatusBadRequest,
	service.KindConflict:   http.StatusConflict,
	service.KindNotFound:   http.StatusNotFound,
	service.KindForbidden:  http.StatusForbidden,
}

// respondError writes err as {"error": kind, "message": text}.  Errors the
// service did not classify are logged and reported as a bare 500.
func respondError(c echo.Context, log *slog.Logger, err error) error {
	var se *service.Error
	if errors.As(err, &se) {
		status, ok := statusByKind[se.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return c.JSON(status, echo.Map{"error": string(se.Kind), "message": se.Message})
	}
	log.Error("request failed", "method", c.Request().Method, "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "message": "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": string(service.KindValidation), "message": msg})
}

// intParam parses an integer path parameter.
func intParam(c echo.Context, name string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(c.Param(name)))
	return n, err == nil
}

// dayQuery parses the optional day query parameter; a missing value is 0.
func dayQuery(c echo.Context) (int, bool) {
	raw := strings.TrimSpace(c.QueryParam("day"))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

// list wraps a listing in the {"items", "count"} envelope.
func list[T any](c echo.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}
