package rbac

import (
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/forgeline-erp/forgeline-erp/internal/platform/httpx"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// Middleware wires authorization helpers for HTTP handlers. ResolveActor
// loads the capability set once per request; Require* gate on it.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// ResolveActor reads the session user, loads their capabilities and stores
// the resulting actor in the request context. Requests without a logged-in
// user pass through without an actor; Require* reject those later.
func (m Middleware) ResolveActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := m.currentUserID(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := m.Service.Actor(r.Context(), userID)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("rbac resolve actor", slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "could not resolve permissions")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireAny ensures the current actor holds at least one of the capabilities.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
				return
			}
			for _, p := range normalized {
				if actor.Can(p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing required permission")
		})
	}
}

// RequireAll ensures the current actor holds every listed capability.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
				return
			}
			for _, p := range normalized {
				if !actor.Can(p) {
					httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing required permission")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac parse user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}
