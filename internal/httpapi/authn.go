package httpapi

import (
	"errors"
	"net/http"

	"actorgate.org/internal/audit"
	"actorgate.org/internal/auth"
	"actorgate.org/internal/obs"
)

const authHeader = "Authorization"

// requireAuth resolves the bearer token and attaches the caller Payload.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok := a.authenticate(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate returns r carrying the caller identity, or writes 401.
func (a *API) authenticate(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	token, ok := auth.BearerToken(r.Header.Get(authHeader))
	if !ok {
		writeAuthError(w, r, auth.ErrAuthentication)
		return r, false
	}
	p, err := a.auth.Guard().Resolve(r.Context(), token)
	if err != nil {
		writeAuthError(w, r, err)
		return r, false
	}
	return r.WithContext(auth.ContextWithPayload(r.Context(), p)), true
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := auth.PayloadFromContext(r.Context())
			if err := auth.Authorize(p, roles...); err != nil {
				writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError maps auth sentinels onto HTTP status codes. Messages are
// fixed so responses do not reveal which check failed.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		payload := map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusUnprocessableEntity, payload)
	case errors.Is(err, auth.ErrValidation):
		writeError(w, r, http.StatusUnprocessableEntity, "validation failed")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "account could not be created")
	case errors.Is(err, auth.ErrAuthentication):
		w.Header().Set("WWW-Authenticate", `Bearer realm="actorgate"`)
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrAuthorization):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		obs.Error("request_failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
	if errors.Is(err, auth.ErrTokenReplayed) {
		_ = audit.LogFailure(r.Context(), "auth.refresh.replayed", err, map[string]any{"path": r.URL.Path})
	}
}
