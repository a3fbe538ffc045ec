package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var allowed = map[string]struct{}{
	"http://localhost:5173": {},
	"http://localhost:5174": {},
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Echo the origin back only if it's on our allow-list; extra origins
		// come from CORS_ALLOW_ORIGINS.
		if originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin") // important for caches
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-api-key")
		}

		w.Header().Set("Access-Control-Expose-Headers", "Retry-After, Cache-Control")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	if _, ok := allowed[origin]; ok {
		return true
	}
	for _, extra := range strings.Split(os.Getenv("CORS_ALLOW_ORIGINS"), ",") {
		if extra != "" && strings.TrimSpace(extra) == origin {
			return true
		}
	}
	return false
}

// APIKeyMiddleware gates requests on the x-api-key header against the
// comma-separated API_KEYS env. An empty key list leaves the API open (dev
// escape hatch). Comparison is constant-time.
func APIKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys := apiKeys()
		if len(keys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get("x-api-key")
		if provided == "" {
			http.Error(w, "Missing API key", http.StatusUnauthorized)
			return
		}
		for _, expected := range keys {
			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		http.Error(w, "Invalid API key", http.StatusForbidden)
	})
}

func apiKeys() []string {
	raw := os.Getenv("API_KEYS")
	if raw == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// RateLimitMiddleware applies a per-client-IP token bucket. Limits come from
// RATE_LIMIT_RPS / RATE_LIMIT_BURST (defaults 2 rps, burst 120).
func RateLimitMiddleware(next http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)

	rps := envFloat("RATE_LIMIT_RPS", 2)
	burst := envInt("RATE_LIMIT_BURST", 120)

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		lim, ok := limiters[ip]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[ip] = lim
		}
		return lim
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !limiterFor(ip).Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func envFloat(name string, def float64) float64 {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func envInt(name string, def int) int {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}
