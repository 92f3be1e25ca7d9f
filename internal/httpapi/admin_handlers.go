package httpapi

import (
	"net/http"

	"actorgate.org/internal/audit"
	"actorgate.org/internal/auth"
)

type actorsResponse struct {
	Items []*auth.Actor `json:"items"`
}

type credentialsResponse struct {
	Items []auth.CredentialInfo `json:"items"`
}

func (a *API) handleActors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, _ := auth.PayloadFromContext(r.Context())
	filter := auth.Filter{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			filter[k] = v[0]
		}
	}
	actors, err := a.auth.ListActors(r.Context(), p, filter)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	if actors == nil {
		actors = []*auth.Actor{}
	}
	writeJSON(w, http.StatusOK, actorsResponse{Items: actors})
}

func (a *API) handleActor(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PayloadFromContext(r.Context())
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		actor, err := a.auth.Actor(r.Context(), p, id)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, actor)
	case http.MethodDelete:
		if err := a.auth.DeleteActor(r.Context(), p, id); err != nil {
			writeAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "actor.delete", map[string]any{"target": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleActorAction(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	if action == "credentials" {
		a.handleActorCredentials(w, r)
		return
	}
	if action != "suspend" && action != "reinstate" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, _ := auth.PayloadFromContext(r.Context())
	id := r.PathValue("id")

	var (
		actor *auth.Actor
		err   error
	)
	if action == "suspend" {
		actor, err = a.auth.Suspend(r.Context(), p, id)
	} else {
		actor, err = a.auth.Reinstate(r.Context(), p, id)
	}
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "actor."+action, map[string]any{"target": id})
	writeJSON(w, http.StatusOK, actor)
}

func (a *API) handleActorCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, _ := auth.PayloadFromContext(r.Context())
	creds, err := a.auth.ActorCredentials(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialsResponse{Items: creds})
}
