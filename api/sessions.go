package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mercury-pubsub/mercury/internal/logging"
	"github.com/mercury-pubsub/mercury/sessions"
	"github.com/mercury-pubsub/mercury/store"
)

// sessionResponse is what the dashboard keeps in memory. AccessToken is null
// when the session was looked up rather than issued.
type sessionResponse struct {
	AccessToken *string     `json:"accessToken"`
	Expires     time.Time   `json:"expires"`
	User        sessionUser `json:"user"`
}

type sessionUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newSessionResponse(sess *sessions.Session, u *store.User) sessionResponse {
	resp := sessionResponse{
		Expires: sess.Expires,
		User:    sessionUser{ID: u.ID.String(), Name: u.Name},
	}
	if sess.AccessToken != "" {
		token := sess.AccessToken
		resp.AccessToken = &token
	}
	return resp
}

func (a *API) authRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/session", handlerFunc(a.getSession))
	r.Method(http.MethodPost, "/login", handlerFunc(a.login))
	r.Method(http.MethodPost, "/refresh", handlerFunc(a.refresh))
	r.Method(http.MethodPost, "/logout", handlerFunc(a.logout))
	r.Method(http.MethodPost, "/create-user", handlerFunc(a.createUserSession))
	r.Method(http.MethodGet, "/user-count", handlerFunc(a.userCount))
}

func (a *API) cookieName() string {
	if a.conf.SecureCookies {
		return "__Host-refreshToken"
	}
	return "refreshToken"
}

func (a *API) setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// getSession answers null rather than 401 so the dashboard can check for a session.
func (a *API) getSession(w http.ResponseWriter, r *http.Request) error {
	token, ok := bearerToken(r)
	if !ok {
		writeJSON(w, r, http.StatusOK, nil)
		return nil
	}
	sess, err := a.sessions.Get(r.Context(), token)
	if errors.Is(err, sessions.ErrNotFound) {
		writeJSON(w, r, http.StatusOK, nil)
		return nil
	}
	if err != nil {
		return err
	}
	u, err := a.store.GetUser(r.Context(), sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, r, http.StatusOK, nil)
		return nil
	}
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, newSessionResponse(sess, u))
	return nil
}

// loginRequest is not held to the password rules, which may have changed
// since the password was set.
type loginRequest struct {
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	u, err := a.store.Authenticate(r.Context(), req.Name, req.Password)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrWrongPassword) {
		return errInvalidCreds
	}
	if err != nil {
		return err
	}
	return a.startSession(w, r, u, http.StatusOK)
}

func (a *API) startSession(w http.ResponseWriter, r *http.Request, u *store.User, status int) error {
	sess, refresh, err := a.sessions.Create(r.Context(), u.ID)
	if err != nil {
		return err
	}
	a.setRefreshCookie(w, refresh, sess.Expires)
	logging.Ctx(r.Context()).Info().Str("user", u.Name).Msg("logged in")
	writeJSON(w, r, status, newSessionResponse(sess, u))
	return nil
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(a.cookieName())
	if err != nil || cookie.Value == "" {
		return errMissingRefresh
	}
	sess, err := a.sessions.Refresh(r.Context(), cookie.Value)
	if errors.Is(err, sessions.ErrNotFound) {
		a.clearRefreshCookie(w)
		return errSessionNotFound
	}
	if err != nil {
		return err
	}
	u, err := a.store.GetUser(r.Context(), sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		a.clearRefreshCookie(w)
		return errSessionNotFound
	}
	if err != nil {
		return err
	}
	a.setRefreshCookie(w, cookie.Value, sess.Expires)
	writeJSON(w, r, http.StatusOK, newSessionResponse(sess, u))
	return nil
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(a.cookieName()); err == nil && cookie.Value != "" {
		if err := a.sessions.Delete(r.Context(), cookie.Value); err != nil {
			return err
		}
	}
	a.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// createUserSession bootstraps the root user on an empty database and logs
// them in. Once any user exists it behaves like POST /api/users for the
// session holder.
func (a *API) createUserSession(w http.ResponseWriter, r *http.Request) error {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	n, err := a.store.CountUsers(r.Context())
	if err != nil {
		return err
	}
	if n == 0 {
		u, err := a.store.CreateUser(r.Context(), req.Name, req.Password, store.RootRank)
		if err != nil {
			return err
		}
		logging.Ctx(r.Context()).Info().Str("user", u.Name).Msg("root user created")
		return a.startSession(w, r, u, http.StatusOK)
	}

	token, ok := bearerToken(r)
	if !ok {
		return errUnauthorized
	}
	self, err := a.sessionUser(r.Context(), token)
	if err != nil {
		return err
	}
	_, err = a.store.CreateUser(r.Context(), req.Name, req.Password, self.Rank+1)
	if errors.Is(err, store.ErrDuplicateName) {
		return errDuplicateUser
	}
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (a *API) userCount(w http.ResponseWriter, r *http.Request) error {
	n, err := a.store.CountUsers(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, n)
	return nil
}
