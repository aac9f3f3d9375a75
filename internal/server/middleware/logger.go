package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger logs each upgrade request with whatever the chain has
// resolved so far. It runs after the session middleware, so the line
// already carries the identity the connection will be attached under.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ip, userID string
			var authenticated bool
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = reqMeta.IP
				userID = reqMeta.Identity.UserID
				authenticated = reqMeta.Identity.Authenticated
			}

			logger.Info("Incoming HTTP request",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
				slog.String("userID", userID),
				slog.Bool("authenticated", authenticated),
			)
			next.ServeHTTP(w, r)
		})
	}
}
