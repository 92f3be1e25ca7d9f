package httpapi

import (
	"net/http"
	"strings"

	"actorgate.org/internal/audit"
	"actorgate.org/internal/auth"
)

type sessionResponse struct {
	Actor *auth.Actor    `json:"actor"`
	Token auth.TokenPair `json:"token"`
}

type tokenResponse struct {
	Token auth.TokenPair `json:"token"`
}

type loginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Provider  string `json:"provider"`
	Assertion string `json:"assertion"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type linkRequest struct {
	Provider  string `json:"provider"`
	Assertion string `json:"assertion"`
}

type roleHandler func(w http.ResponseWriter, r *http.Request, ra *auth.RoleAuth)

// roleRoute checks the method and resolves {role} before calling fn.
func (a *API) roleRoute(method string, fn roleHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			methodNotAllowed(w, r, method)
			return
		}
		role, ok := auth.ParseRole(r.PathValue("role"))
		if !ok {
			role = auth.Role(r.PathValue("role"))
		}
		ra, err := a.auth.For(role)
		if err != nil {
			writeError(w, r, http.StatusNotFound, "unknown role")
			return
		}
		fn(w, r, ra)
	}
}

func (a *API) handleJoin(w http.ResponseWriter, r *http.Request, ra *auth.RoleAuth) {
	var req auth.JoinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := ra.Join(r.Context(), req)
	if err != nil {
		_ = audit.LogFailure(r.Context(), "auth.join", err, map[string]any{"role": string(ra.Descriptor().Role)})
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.join", map[string]any{
		"actor_id":  sess.Actor.ID,
		"role":      string(sess.Actor.Role),
		"tenant_id": sess.Actor.TenantID,
		"provider":  strings.TrimSpace(req.Provider),
	})
	writeJSON(w, http.StatusCreated, sessionResponse{Actor: sess.Actor, Token: sess.Tokens})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request, ra *auth.RoleAuth) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var (
		sess *auth.Session
		err  error
	)
	provider := strings.TrimSpace(req.Provider)
	if provider == "" || provider == auth.ProviderLocal {
		sess, err = ra.Login(r.Context(), req.Email, req.Password)
	} else {
		sess, err = ra.LoginFederated(r.Context(), provider, req.Assertion)
	}
	if err != nil {
		_ = audit.LogFailure(r.Context(), "auth.login", err, map[string]any{
			"role":      string(ra.Descriptor().Role),
			"remote_ip": clientIP(r),
		})
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"actor_id": sess.Actor.ID,
		"role":     string(sess.Actor.Role),
	})
	writeJSON(w, http.StatusOK, sessionResponse{Actor: sess.Actor, Token: sess.Tokens})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request, ra *auth.RoleAuth) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := ra.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: pair})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request, ra *auth.RoleAuth) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := ra.Logout(r.Context(), req.RefreshToken); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request, ra *auth.RoleAuth) {
	r, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	p, _ := auth.PayloadFromContext(r.Context())
	actor, err := ra.Me(r.Context(), p)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (a *API) handleLink(w http.ResponseWriter, r *http.Request, ra *auth.RoleAuth) {
	r, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	var req linkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := auth.PayloadFromContext(r.Context())
	if err := ra.Link(r.Context(), p, req.Provider, req.Assertion); err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.link", map[string]any{"provider": strings.TrimSpace(req.Provider)})
	w.WriteHeader(http.StatusNoContent)
}
