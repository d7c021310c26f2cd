package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/kalambet/jobmatch/internal/recruit"
)

const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
)

func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ResolveActor reads the caller identity from the X-Actor-ID and
// X-Actor-Role headers and stores it in the request context.
func ResolveActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerActorID))
		if id == "" {
			httpError(w, http.StatusUnauthorized, "authentication_error", "missing %s header", headerActorID)
			return
		}
		role, err := recruit.ParseRole(r.Header.Get(headerActorRole))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s: %v", headerActorRole, err)
			return
		}
		ctx := recruit.WithActor(r.Context(), recruit.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorFrom returns the actor resolved by ResolveActor.
func actorFrom(r *http.Request) recruit.Actor {
	a, _ := recruit.ActorFrom(r.Context())
	return a
}
