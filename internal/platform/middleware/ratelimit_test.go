package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func newLimitedEcho(cfg RateLimitConfig) *echo.Echo {
	e := echo.New()
	e.Use(RateLimit(cfg))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/api/v1/patients", ok)
	e.GET("/health", ok)
	return e
}

func serve(e *echo.Echo, path, ip string, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":1234"
	if user != "" {
		req.SetBasicAuth(user, "secret")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_BlocksAfterBurst(t *testing.T) {
	e := newLimitedEcho(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if rec := serve(e, "/api/v1/patients", "10.0.0.1", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := serve(e, "/api/v1/patients", "10.0.0.1", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	if rec := serve(e, "/api/v1/patients", "10.0.0.2", ""); rec.Code != http.StatusOK {
		t.Errorf("expected other client to pass, got %d", rec.Code)
	}
}

func TestRateLimit_KeysPartnersByUsername(t *testing.T) {
	e := newLimitedEcho(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if rec := serve(e, "/api/v1/patients", "10.0.0.1", "partner-a"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := serve(e, "/api/v1/patients", "10.0.0.1", "partner-b"); rec.Code != http.StatusOK {
		t.Errorf("expected separate bucket for partner-b, got %d", rec.Code)
	}
	if rec := serve(e, "/api/v1/patients", "10.0.0.1", "partner-a"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 for partner-a, got %d", rec.Code)
	}
}

func TestRateLimit_SkipsHealth(t *testing.T) {
	e := newLimitedEcho(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
	for i := 0; i < 5; i++ {
		if rec := serve(e, "/health", "10.0.0.1", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRequestTimeout_Exceeded(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := RequestTimeout(10 * time.Millisecond)(func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	})(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func TestRequestTimeout_Fast(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := RequestTimeout(time.Second)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected a deadline on the request context")
		}
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil || rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", rec.Code, err)
	}
}
