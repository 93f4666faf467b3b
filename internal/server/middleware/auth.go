package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/busihe/chat-for-telemed/pkg/model"
	"github.com/busihe/chat-for-telemed/pkg/presence"
)

// AppClaims defines our custom JWT claims structure. The subject carries
// the user id; name and role ride alongside so the relay never has to look
// the user up just to authenticate.
type AppClaims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func NewAuthMiddleware(logger *slog.Logger, jwtSecret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong
			// with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				writeAuthError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			tokenString := extractToken(r)
			if tokenString == "" {
				logger.Warn("request missing credentials", slog.String("ip", reqMeta.IP))
				writeAuthError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			// Parse and validate the JWT token with HMAC signing.
			token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Warn("invalid token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				writeAuthError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			claims, ok := token.Claims.(*AppClaims)
			if !ok || claims.Subject == "" {
				logger.Warn("valid token missing 'sub' claim", slog.String("ip", reqMeta.IP))
				writeAuthError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			reqMeta.Identity = presence.Identity{
				UserID: claims.Subject,
				Name:   claims.Name,
				Role:   model.Role(claims.Role),
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken checks the Authorization header first, then the token query
// parameter (browsers cannot set headers on websocket upgrades), then the
// session cookie.
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if cookie, err := r.Cookie("session-token"); err == nil {
		return cookie.Value
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
