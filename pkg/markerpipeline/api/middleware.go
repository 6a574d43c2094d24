package api

import (
	"context"
	"net/http"

	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

type contextKey string

const ownerContextKey contextKey = "owner"

// OwnerFromContext returns the authenticated owner id set by
// RequireOwner.
func OwnerFromContext(ctx context.Context) (uuid.UUID, bool) {
	owner, ok := ctx.Value(ownerContextKey).(uuid.UUID)
	return owner, ok
}

// RequireOwner verifies the request's JWT and resolves its subject
// claim into the owner id every downstream operation is scoped to.
func RequireOwner(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		verify := jwtauth.Verifier(ja)
		return verify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, claims, err := jwtauth.FromContext(r.Context())
			if err != nil {
				unauthorized(w, r, "invalid token")
				return
			}
			sub, _ := claims["sub"].(string)
			owner, err := uuid.Parse(sub)
			if err != nil {
				unauthorized(w, r, "token subject is not a valid owner id")
				return
			}
			ctx := context.WithValue(r.Context(), ownerContextKey, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		}))
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]string{"error": msg})
}
