package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/fraudflow/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits requests per client IP. Ingest traffic from
// upstream producers shares this budget.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded(rps, "client IP")),
	)
}

// AuthRateLimiter keys operator traffic by the token subject.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if actorID := ActorIDFromContext(r.Context()); actorID != "" {
				return "actor:" + actorID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded(rps, "operator")),
	)
}

func limitExceeded(rps int, scope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"), "",
			fmt.Sprintf("Rate limit of %d req/s exceeded for this %s", rps, scope))
	}
}
