package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shanemeister/ChicagoDataPortal/internal/middleware"
)

// call wraps a simple 200-OK inner handler in the provided middleware and
// returns the recorded response.
func call(t *testing.T, mw func(http.Handler) http.Handler, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/incidents", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyMiddleware_OpenWhenUnconfigured(t *testing.T) {
	t.Setenv("API_KEYS", "")

	rec := call(t, middleware.APIKeyMiddleware, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when no keys configured", rec.Code)
	}
}

func TestAPIKeyMiddleware_MissingKey(t *testing.T) {
	t.Setenv("API_KEYS", "alpha,beta")

	rec := call(t, middleware.APIKeyMiddleware, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for missing key", rec.Code)
	}
}

func TestAPIKeyMiddleware_InvalidKey(t *testing.T) {
	t.Setenv("API_KEYS", "alpha,beta")

	rec := call(t, middleware.APIKeyMiddleware, func(r *http.Request) {
		r.Header.Set("x-api-key", "gamma")
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for wrong key", rec.Code)
	}
}

func TestAPIKeyMiddleware_ValidKey(t *testing.T) {
	// second key in the list, with surrounding whitespace in the env
	t.Setenv("API_KEYS", "alpha, beta")

	rec := call(t, middleware.APIKeyMiddleware, func(r *http.Request) {
		r.Header.Set("x-api-key", "beta")
	})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for valid key", rec.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPS", "1")
	t.Setenv("RATE_LIMIT_BURST", "3")

	h := middleware.RateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	status := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/incidents", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		if got := status("10.0.0.1:1234"); got != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200 within burst", i+1, got)
		}
	}
	rec := call(t, func(http.Handler) http.Handler { return h }, func(r *http.Request) {
		r.RemoteAddr = "10.0.0.1:1234"
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 past burst", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header on 429")
	}

	// a different client IP gets its own bucket
	if got := status("10.0.0.2:1234"); got != http.StatusOK {
		t.Errorf("status = %d, want 200 for a fresh client", got)
	}
}

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	rec := call(t, middleware.CORSMiddleware, func(r *http.Request) {
		r.Header.Set("Origin", "http://localhost:5173")
	})

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if rec.Header().Get("Vary") != "Origin" {
		t.Error("missing Vary: Origin")
	}
}

func TestCORSMiddleware_UnknownOrigin(t *testing.T) {
	t.Setenv("CORS_ALLOW_ORIGINS", "")

	rec := call(t, middleware.CORSMiddleware, func(r *http.Request) {
		r.Header.Set("Origin", "https://evil.example")
	})

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want unset for unknown origin", got)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, request itself should still pass", rec.Code)
	}
}

func TestCORSMiddleware_ExtraOriginFromEnv(t *testing.T) {
	t.Setenv("CORS_ALLOW_ORIGINS", "https://maps.example.com, https://staging.maps.example.com")

	rec := call(t, middleware.CORSMiddleware, func(r *http.Request) {
		r.Header.Set("Origin", "https://staging.maps.example.com")
	})

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://staging.maps.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	h := middleware.CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/incidents", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 for preflight", rec.Code)
	}
}
