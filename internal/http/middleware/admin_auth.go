package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/conduitcrm/messaging-engine/internal/tenancy"
)

type contextKey string

const adminClaimsKey contextKey = "adminClaims"

// Claims are the JWT claims admin and inbox tokens carry. TenantID scopes
// the token to one tenant; tokens without it are platform-operator tokens.
type Claims struct {
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// AdminJWT enforces a simple HMAC-signed JWT. When the token carries a
// tenant_id claim, downstream handlers see it in the tenancy context.
func AdminJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "admin auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := Claims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), adminClaimsKey, claims)
			if claims.TenantID != "" {
				ctx = tenancy.WithTenantID(ctx, claims.TenantID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminClaimsFromContext returns admin JWT claims if present.
func AdminClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(Claims)
	return claims, ok
}

// RequireTenantScope rejects requests whose token carries no tenant claim.
// Platform-operator tokens pass through admin routes but not tenant routes.
func RequireTenantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := tenancy.TenantIDFromContext(r.Context()); !ok {
			http.Error(w, "tenant scope required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
