package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AppClaims defines the JWT claims the identity issuer puts in its tokens.
type AppClaims struct {
	Name  string `json:"name,omitempty"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware validates the handshake credential before the connection
// is admitted. It fails closed: any verification error rejects the request
// before any registry state exists. Browser WebSocket clients cannot set
// headers, so the token is also accepted as a query parameter.
func NewAuthMiddleware(logger *slog.Logger, jwtSecret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				// Metadata middleware did not run; check middleware order.
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := bearerToken(r)
			if tokenString == "" {
				logger.Warn("Handshake missing credential", slog.String("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Warn("Invalid handshake credential", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(*AppClaims)
			if !ok {
				logger.Error("Failed to parse custom JWT claims", slog.String("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if claims.Subject == "" {
				logger.Warn("Valid token missing 'sub' claim", slog.String("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.User.ID = claims.Subject
			reqMeta.User.DisplayName = claims.Name
			reqMeta.User.IsAdmin = claims.Admin
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
