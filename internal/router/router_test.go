package router

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/qurbani/slot-allocation/internal/config"
	"github.com/qurbani/slot-allocation/internal/handler"
	"github.com/qurbani/slot-allocation/internal/middleware"
	"github.com/qurbani/slot-allocation/internal/model"
	"github.com/qurbani/slot-allocation/internal/realtime"
	"github.com/qurbani/slot-allocation/internal/repository"
	"github.com/qurbani/slot-allocation/internal/service"
	"github.com/qurbani/slot-allocation/internal/utils"
)

const secret = "test-secret"

type api struct {
	t *testing.T
	e *echo.Echo
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(repository.NewMemoryStore(), nil, service.Options{
		DefaultTierMax: 20,
		Prices: map[model.Quality]decimal.Decimal{
			model.QualityStandard: decimal.NewFromInt(150),
			model.QualityMedium:   decimal.NewFromInt(200),
			model.QualityPremium:  decimal.NewFromInt(250),
		},
		Logger: log,
	})
	hub := realtime.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	slots := handler.NewSlotHandler(svc, log)
	ledger := handler.NewLedgerHandler(svc, log)
	parts := handler.NewParticipationHandler(svc, log)
	e := echo.New()
	RegisterRoutes(e)
	RegisterPublic(e, slots, ledger, middleware.NewRedisCache(config.CacheConfig{}, nil))
	RegisterRealtime(e, handler.NewRealtimeHandler(hub, realtime.NewUpgrader(nil), log), secret)
	RegisterUser(e, parts, secret)
	RegisterAdmin(e, parts, slots, ledger, secret)
	return &api{t: t, e: e}
}

func token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, user, role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok.Token
}

// call performs a request and decodes the JSON response into out when given.
func (a *api) call(method, path, tok string, body any, out any) int {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			a.t.Fatal(err)
		}
		r = bytes.NewReader(bs)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			a.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func submitBody(shares int) map[string]any {
	members := make([]string, shares)
	for i := range members {
		members[i] = "member"
	}
	return map[string]any{
		"collector_name": "Ahmed",
		"quality":        "Standard",
		"day":            1,
		"shares":         shares,
		"members":        members,
		"payment_proof":  "proof.jpg",
	}
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestParticipationLifecycle(t *testing.T) {
	a := newAPI(t)
	user := token(t, "u1", utils.RoleUser)
	admin := token(t, "a1", utils.RoleAdmin)

	if code := a.call(http.MethodPost, "/v1/participations", "", submitBody(3), nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous submit = %d", code)
	}

	var p model.Participation
	if code := a.call(http.MethodPost, "/v1/participations", user, submitBody(3), &p); code != http.StatusCreated {
		t.Fatalf("submit = %d", code)
	}
	if p.UserID != "u1" || p.PaymentStatus != model.PaymentPending {
		t.Fatalf("participation = %+v", p)
	}

	var mine struct {
		Count int `json:"count"`
	}
	a.call(http.MethodGet, "/v1/my-participations", user, nil, &mine)
	if mine.Count != 1 {
		t.Fatalf("my participations = %d", mine.Count)
	}

	payment := map[string]string{"status": "completed"}
	if code := a.call(http.MethodPatch, "/v1/admin/participations/"+p.ID+"/payment", user, payment, nil); code != http.StatusForbidden {
		t.Fatalf("user confirming payment = %d", code)
	}
	var res service.PaymentResult
	if code := a.call(http.MethodPatch, "/v1/admin/participations/"+p.ID+"/payment", admin, payment, &res); code != http.StatusOK {
		t.Fatalf("confirm payment = %d", code)
	}
	if len(res.Allocations) != 1 || res.Allocations[0].Shares != 3 || !res.Participation.SlotAssigned {
		t.Fatalf("payment result = %+v", res)
	}

	var avail struct {
		Items []model.SlotAvailability `json:"items"`
	}
	a.call(http.MethodGet, "/v1/slots/available?day=1&quality=standard", "", nil, &avail)
	if len(avail.Items) != 16 || avail.Items[0].Available != 4 {
		t.Fatalf("availability = %+v", avail.Items[:1])
	}

	var limits map[string]model.TierView
	a.call(http.MethodGet, "/v1/share-limits", "", nil, &limits)
	if got := limits["Standard"]; got.Participated != 3 || got.Remaining != 17 {
		t.Fatalf("share limits = %+v", limits)
	}

	var other errorBody
	if code := a.call(http.MethodGet, "/v1/participations/"+p.ID, token(t, "u2", utils.RoleUser), nil, &other); code != http.StatusForbidden || other.Error != "forbidden" {
		t.Fatalf("foreign participation = %d %+v", code, other)
	}

	slotID := res.Allocations[0].SlotID
	var done service.CompletionResult
	if code := a.call(http.MethodPost, "/v1/admin/slots/"+slotID+"/complete", admin, nil, &done); code != http.StatusOK || len(done.Records) != 1 {
		t.Fatalf("complete = %d %+v", code, done)
	}
	var completions struct {
		Items []model.CompletionRecord `json:"items"`
	}
	a.call(http.MethodGet, "/v1/my-completions", user, nil, &completions)
	if len(completions.Items) != 1 || completions.Items[0].SlotID != slotID {
		t.Fatalf("completions = %+v", completions.Items)
	}
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)
	user := token(t, "u1", utils.RoleUser)
	admin := token(t, "a1", utils.RoleAdmin)

	var body errorBody
	if code := a.call(http.MethodPost, "/v1/participations", user, submitBody(21), &body); code != http.StatusConflict || body.Error != "capacity" {
		t.Fatalf("over the ledger = %d %+v", code, body)
	}
	body = errorBody{}
	if code := a.call(http.MethodGet, "/v1/admin/slots/missing", admin, nil, &body); code != http.StatusNotFound || body.Error != "not_found" {
		t.Fatalf("missing slot = %d %+v", code, body)
	}
	body = errorBody{}
	bad := submitBody(2)
	bad["members"] = []string{"only one"}
	if code := a.call(http.MethodPost, "/v1/participations", user, bad, &body); code != http.StatusBadRequest || body.Error != "validation" {
		t.Fatalf("bad submission = %d %+v", code, body)
	}
	if code := a.call(http.MethodPut, "/v1/admin/share-limits/gold", admin, map[string]int{"max_shares": 3}, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown quality = %d", code)
	}
	if code := a.call(http.MethodPut, "/v1/admin/share-limits/premium", admin, map[string]int{"max_shares": 3}, nil); code != http.StatusOK {
		t.Fatalf("set limit = %d", code)
	}
	if code := a.call(http.MethodGet, "/v1/slots/available", "", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("availability without day = %d", code)
	}
	if code := a.call(http.MethodPost, "/v1/admin/slots/undo-merge", admin, nil, nil); code != http.StatusNotFound {
		t.Fatalf("undo without merges = %d", code)
	}
}

func TestAdminSlotEditing(t *testing.T) {
	a := newAPI(t)
	user := token(t, "u1", utils.RoleUser)
	admin := token(t, "a1", utils.RoleAdmin)

	var ids []string
	for _, slot := range []string{"08:00 AM - 08:30 AM", "08:30 AM - 09:00 AM"} {
		b := submitBody(2)
		b["preferred_time_slot"] = slot
		var p model.Participation
		a.call(http.MethodPost, "/v1/participations", user, b, &p)
		var res service.PaymentResult
		a.call(http.MethodPatch, "/v1/admin/participations/"+p.ID+"/payment", admin, map[string]string{"status": "Completed"}, &res)
		ids = append(ids, res.Allocations[0].SlotID)
	}

	var merged service.MergeResult
	if code := a.call(http.MethodPost, "/v1/admin/slots/merge", admin, service.MergeRequest{SourceSlotID: ids[1], DestSlotID: ids[0]}, &merged); code != http.StatusOK {
		t.Fatalf("merge = %d", code)
	}
	if merged.Source != nil || merged.Destination.TotalShares() != 4 {
		t.Fatalf("merge result = %+v", merged)
	}

	var slot model.Slot
	a.call(http.MethodGet, "/v1/admin/slots/"+ids[0], admin, nil, &slot)
	pid := slot.Participants[0].ParticipationID
	var p model.Participation
	if code := a.call(http.MethodPut, "/v1/admin/slots/"+ids[0]+"/participants/"+pid+"/names/0", admin, map[string]string{"name": "Yusuf"}, &p); code != http.StatusOK {
		t.Fatalf("rename = %d", code)
	}
	if p.Members[0] != "Yusuf" {
		t.Fatalf("members = %v", p.Members)
	}
	if code := a.call(http.MethodPut, "/v1/admin/slots/"+ids[0]+"/participants/"+pid+"/names/x", admin, map[string]string{"name": "Y"}, nil); code != http.StatusBadRequest {
		t.Fatalf("non-numeric index = %d", code)
	}

	var undo service.UndoResult
	if code := a.call(http.MethodPost, "/v1/admin/slots/"+ids[0]+"/undo-merge", admin, nil, &undo); code != http.StatusOK || undo.RestoredShares != 2 {
		t.Fatalf("undo = %d %+v", code, undo)
	}

	var del service.DeleteSlotResult
	if code := a.call(http.MethodDelete, "/v1/admin/slots/"+ids[1], admin, nil, &del); code != http.StatusOK || del.RemovedShares != 2 {
		t.Fatalf("delete slot = %d %+v", code, del)
	}
	var listing struct {
		Count int `json:"count"`
	}
	a.call(http.MethodGet, "/v1/admin/slots?day=1", admin, nil, &listing)
	if listing.Count != 1 {
		t.Fatalf("slots left = %d", listing.Count)
	}
}
