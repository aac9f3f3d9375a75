package middleware

import (
	"log/slog"
	"net/http"

	"github.com/cybernetics/hackify-server/pkg/session"
)

const sessionCookie = "hackify-session"

// NewSessionMiddleware resolves the web session token into an identity and
// records it in the request metadata. Unlike a conventional auth gate it
// never rejects: a missing or invalid token yields an anonymous identity,
// because anyone may watch a room without logging in.
func NewSessionMiddleware(logger *slog.Logger, bridge *session.Bridge) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Session middleware could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			var tokenString string
			if cookie, err := r.Cookie(sessionCookie); err == nil {
				tokenString = cookie.Value
			} else if qt := r.URL.Query().Get("token"); qt != "" {
				tokenString = qt
			}

			reqMeta.Identity = bridge.Resolve(tokenString)
			if !reqMeta.Identity.Authenticated {
				logger.Debug("connection resolved to anonymous identity",
					slog.String("ip", reqMeta.IP),
					slog.String("userID", reqMeta.Identity.UserID),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}
