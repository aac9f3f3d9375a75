package middleware

import (
	"log/slog"
	"net/http"
)

// IdentityConnectionCounter reports how many live local connections an
// identity currently holds.
type IdentityConnectionCounter func(userID string) int

// NewConnectionLimiter rejects upgrades from identities that already hold
// maxPerIdentity connections on this process. It must run after the
// session middleware, which fills in the identity. A limit of zero
// disables it.
func NewConnectionLimiter(logger *slog.Logger, counter IdentityConnectionCounter, maxPerIdentity int) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxPerIdentity <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			count := counter(reqMeta.Identity.UserID)
			if count >= maxPerIdentity {
				logger.Warn("Identity connection limit reached",
					slog.String("userID", reqMeta.Identity.UserID),
					slog.Int("count", count),
				)
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
