package middleware

import (
	"log/slog"
	"net/http"

	"github.com/busihe/chat-for-telemed/pkg/config"
)

type UserConnectionCounter func(userID string) int
type UserConnectionCycler func(userID string)

// NewConnectionLimiter caps the number of live connections per user. In
// "cycle" mode the oldest connection is closed to make room, which is how
// a single-device deployment (maxPerUser=1) gets the
// newest-login-wins behavior.
// Must run after the auth middleware: it needs the identity.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter UserConnectionCounter,
	cycler UserConnectionCycler,
	cfg config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxPerUser <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("connection limiter could not find request metadata in context. Check middleware order.")
				writeAuthError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			userID := reqMeta.Identity.UserID
			if userID == "" {
				logger.Warn("connection limiter could not determine userID; blocking request for safety.")
				writeAuthError(w, http.StatusForbidden, "Forbidden")
				return
			}

			count := counter(userID)
			if count < cfg.MaxPerUser {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("user connection limit reached", slog.String("userID", userID), slog.Int("count", count))
			switch cfg.Mode {
			case "reject":
				writeAuthError(w, http.StatusTooManyRequests, "Too Many Active Connections")
			case "cycle":
				cycler(userID)
				next.ServeHTTP(w, r)
			default:
				logger.Error("invalid connection limit mode configured", slog.String("mode", cfg.Mode))
				writeAuthError(w, http.StatusInternalServerError, "internal server error")
			}
		})
	}
}
