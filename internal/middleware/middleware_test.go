package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qurbani/slot-allocation/internal/config"
	"github.com/qurbani/slot-allocation/internal/utils"
)

func newEcho(secret string) *echo.Echo {
	e := echo.New()
	ok := func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"user": UserID(c), "role": Role(c), "admin": IsAdmin(c)})
	}
	e.GET("/me", ok, JWTAuth(secret))
	e.GET("/admin", ok, JWTAuth(secret), RequireRole(utils.RoleAdmin))
	e.GET("/ws", ok, OptionalJWTAuth(secret))
	return e
}

func do(e *echo.Echo, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := newEcho("s3cret")
	user, _ := utils.NewAccessToken("s3cret", "u1", utils.RoleUser, time.Hour)
	admin, _ := utils.NewAccessToken("s3cret", "a1", utils.RoleAdmin, time.Hour)
	forged, _ := utils.NewAccessToken("other", "a1", utils.RoleAdmin, time.Hour)

	cases := []struct {
		name, target, token string
		want                int
	}{
		{"no token", "/me", "", http.StatusUnauthorized},
		{"user token", "/me", user.Token, http.StatusOK},
		{"forged token", "/me", forged.Token, http.StatusUnauthorized},
		{"user on admin route", "/admin", user.Token, http.StatusForbidden},
		{"admin on admin route", "/admin", admin.Token, http.StatusOK},
		{"guest websocket", "/ws", "", http.StatusOK},
		{"websocket query token", "/ws?token=" + user.Token, "", http.StatusOK},
		{"websocket bad query token", "/ws?token=nope", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := do(e, tc.target, tc.token); rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestLocalTokenBucket(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "rl",
	}
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, NewTokenBucket(cfg, nil, nil))

	for i := 0; i < 2; i++ {
		if rec := do(e, "/x", ""); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := do(e, "/x", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}

func TestCachePayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"ok":true}`))
	if err != nil {
		t.Fatal(err)
	}
	r, ok := decodePayload(bs)
	if !ok || r.Status != http.StatusOK || r.Header.Get("Content-Type") != "application/json" || string(r.Body) != `{"ok":true}` {
		t.Fatalf("decoded %+v %v", r, ok)
	}
	if _, ok := decodePayload([]byte("{}")); ok {
		t.Fatal("empty payload decoded")
	}
	if _, ok := decodePayload([]byte{0, 0}); ok {
		t.Fatal("garbage decoded")
	}
}

func TestCacheKey(t *testing.T) {
	e := echo.New()
	key := func(strategy, target string) string {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		c.SetPath("/v1/slots/available")
		return cacheKeyFrom(config.CacheConfig{Prefix: "cache", KeyStrategy: strategy}, c)
	}
	if key("route_query", "/v1/slots/available?day=1") == key("route_query", "/v1/slots/available?day=2") {
		t.Fatal("query ignored by route_query")
	}
	if key("route", "/v1/slots/available?day=1") != key("route", "/v1/slots/available?day=2") {
		t.Fatal("query used by route")
	}
}
