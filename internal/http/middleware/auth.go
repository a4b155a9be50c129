package middleware

import (
	"context"
	"net/http"

	"github.com/hirekarma/feature-access-service/internal/domain"
	"github.com/hirekarma/feature-access-service/internal/http/response"
	"github.com/hirekarma/feature-access-service/internal/security"
)

type contextKey string

const (
	callerContextKey contextKey = "caller"
	actorContextKey  contextKey = "actor"
)

// CallerContext derives the caller identity from the access token and
// stores it on the request context. Requests without a valid token
// proceed as anonymous; route guards decide whether that is acceptable.
func CallerContext(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := domain.Anonymous()
			actor := ""
			if jwtMgr != nil {
				if raw := rawAccessToken(r); raw != "" {
					if claims, err := jwtMgr.ParseAccessToken(raw); err == nil && claims != nil {
						caller = domain.Caller{
							IsAuthenticated: true,
							UserType:        claims.UserType,
							Roles:           claims.Roles,
						}
						actor = claims.Subject
					}
				}
			}
			ctx := context.WithValue(r.Context(), callerContextKey, caller)
			ctx = context.WithValue(ctx, actorContextKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromContext returns the caller stored by CallerContext, or the
// anonymous caller when the middleware did not run.
func CallerFromContext(ctx context.Context) domain.Caller {
	if caller, ok := ctx.Value(callerContextKey).(domain.Caller); ok {
		return caller
	}
	return domain.Anonymous()
}

// ActorFromContext returns the authenticated subject for audit logs,
// or "" for anonymous requests.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey).(string); ok {
		return actor
	}
	return ""
}

// RequireAdmin guards the management surface. Only admin users or
// callers holding the feature_admin role may pass.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := CallerFromContext(r.Context())
		if !caller.IsAuthenticated {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid access token", nil)
			return
		}
		if caller.UserType != domain.UserTypeAdmin && !hasRole(caller, "feature_admin") {
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthenticated guards endpoints that accept any signed-in user.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !CallerFromContext(r.Context()).IsAuthenticated {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid access token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hasRole(caller domain.Caller, role string) bool {
	for _, r := range caller.Roles {
		if r == role {
			return true
		}
	}
	return false
}
