package http

import (
	"net/http"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	apperrors "coursesmith/internal/errors"
)

// RateLimit bounds the request rate on brute-forceable endpoints.
// Key guessing is only an 8-hex-digit space, so the validate endpoint
// must not be free to hammer.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				problem := apperrors.NewProblemDetails(
					http.StatusTooManyRequests, "/problems/rate-limited", "Too Many Requests",
					"validation attempts are rate limited, try again shortly", r.URL.Path)
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, problem)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
