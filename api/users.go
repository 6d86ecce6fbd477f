package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mercury-pubsub/mercury/internal/logging"
	"github.com/mercury-pubsub/mercury/store"
)

type credentialsRequest struct {
	Name     string `json:"name" validate:"min=4,max=16"`
	Password string `json:"password" validate:"min=8"`
}

type renameRequest struct {
	Name string `json:"name" validate:"min=4,max=16"`
}

type changePasswordRequest struct {
	Password string `json:"password" validate:"min=8"`
}

func (a *API) userRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/", handlerFunc(a.listUsers))
	r.Method(http.MethodPost, "/", handlerFunc(a.createUser))
	r.Method(http.MethodPatch, "/rename", handlerFunc(a.renameUser))
	r.Method(http.MethodPatch, "/change-password", handlerFunc(a.changePassword))
	r.Method(http.MethodDelete, "/", handlerFunc(a.deleteSelf))
	r.Method(http.MethodDelete, "/{id}", handlerFunc(a.deleteUser))
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) error {
	users, err := a.store.ListUsers(r.Context(), userFrom(r.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, users)
	return nil
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) error {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	self := userFrom(r.Context())
	u, err := a.store.CreateUser(r.Context(), req.Name, req.Password, self.Rank+1)
	if errors.Is(err, store.ErrDuplicateName) {
		return errDuplicateUser
	}
	if err != nil {
		return err
	}
	logging.Ctx(r.Context()).Info().Str("user", u.Name).Str("by", self.Name).Msg("user created")
	writeJSON(w, r, http.StatusCreated, u)
	return nil
}

func (a *API) renameUser(w http.ResponseWriter, r *http.Request) error {
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	u, err := a.store.RenameUser(r.Context(), userFrom(r.Context()).ID, req.Name)
	if errors.Is(err, store.ErrDuplicateName) {
		return errDuplicateUser
	}
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, u)
	return nil
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) error {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	u, err := a.store.ChangePassword(r.Context(), userFrom(r.Context()).ID, req.Password)
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, u)
	return nil
}

func (a *API) deleteSelf(w http.ResponseWriter, r *http.Request) error {
	self := userFrom(r.Context())
	if err := a.store.DeleteUser(r.Context(), self.ID); err != nil {
		return err
	}
	a.endSessions(r, self)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	target, err := a.store.GetUser(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return errUserNotFound
	}
	if err != nil {
		return err
	}
	self := userFrom(r.Context())
	if !self.Outranks(target) {
		return errDeleteHigherRank
	}
	if err := a.store.DeleteUser(r.Context(), target.ID); err != nil {
		return err
	}
	a.endSessions(r, target)
	logging.Ctx(r.Context()).Info().Str("user", target.Name).Str("by", self.Name).Msg("user deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// endSessions logs a deleted user out everywhere.
func (a *API) endSessions(r *http.Request, u *store.User) {
	n, err := a.sessions.DeleteForUser(r.Context(), u.ID)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("user", u.Name).Msg("failed to end sessions")
		return
	}
	logging.Ctx(r.Context()).Debug().Str("user", u.Name).Int("sessions", n).Msg("sessions ended")
}
