package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"cashier-board/internal/auth"
)

type contextKey string

const authContextKey contextKey = "authContext"

type AuthContext struct {
	OperatorID string
	Role       auth.UserRole
	Name       string
	Terminal   string
}

func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	value := ctx.Value(authContextKey)
	if value == nil {
		return nil, false
	}
	ac, ok := value.(*AuthContext)
	return ac, ok
}

func writeAuthError(w http.ResponseWriter, status int, code, message, debug string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload := map[string]any{
		"success": false,
		"error":   code,
		"message": message,
	}
	if os.Getenv("APP_ENV") == "development" && strings.TrimSpace(debug) != "" {
		payload["debug"] = debug
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// OperatorAuth requires a CASHIER or ADMIN bearer token. With an empty secret
// the board runs as an unattended kiosk and every request passes.
func OperatorAuth(jwtSecret string) func(http.Handler) http.Handler {
	secret := strings.TrimSpace(jwtSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := auth.ParseBearerToken(r.Header.Get("Authorization"))
			claims, err := auth.VerifyAccessToken(token, secret)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization token required", err.Error())
				return
			}
			if !claims.Role.CanOperate() {
				writeAuthError(w, http.StatusForbidden, "FORBIDDEN", "Cashier access required", "")
				return
			}

			authCtx := &AuthContext{OperatorID: claims.OperatorID, Role: claims.Role}
			if claims.Name != nil {
				authCtx.Name = *claims.Name
			}
			if claims.Terminal != nil {
				authCtx.Terminal = *claims.Terminal
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), authCtx)))
		})
	}
}
