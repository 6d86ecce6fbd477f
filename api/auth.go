package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mercury-pubsub/mercury/internal/logging"
	"github.com/mercury-pubsub/mercury/sessions"
	"github.com/mercury-pubsub/mercury/store"
)

type contextKey string

const userKey contextKey = "user"

func withUser(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// userFrom returns the user authenticated by requireUser.
func userFrom(ctx context.Context) *store.User {
	u, _ := ctx.Value(userKey).(*store.User)
	return u
}

// bearerToken extracts the credential of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// requireUser authenticates the caller with Basic credentials or a session
// access token and stores the user in the request context.
func (a *API) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := a.authenticate(r)
		if err != nil {
			if !errors.Is(err, errUnauthorized) {
				logging.Ctx(r.Context()).Error().Err(err).Msg("authentication failed")
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="mercury"`)
			http.Error(w, errUnauthorized.Message, errUnauthorized.Status)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

// authenticate returns errUnauthorized for bad or missing credentials and
// any other error for backend failures.
func (a *API) authenticate(r *http.Request) (*store.User, error) {
	if name, password, ok := r.BasicAuth(); ok {
		u, err := a.store.Authenticate(r.Context(), name, password)
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrWrongPassword) {
			return nil, errUnauthorized
		}
		return u, err
	}
	if token, ok := bearerToken(r); ok {
		return a.sessionUser(r.Context(), token)
	}
	return nil, errUnauthorized
}

// sessionUser resolves an access token to its user.
func (a *API) sessionUser(ctx context.Context, accessToken string) (*store.User, error) {
	sess, err := a.sessions.Get(ctx, accessToken)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil, errUnauthorized
	}
	if err != nil {
		return nil, err
	}
	u, err := a.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errUnauthorized
	}
	return u, err
}
