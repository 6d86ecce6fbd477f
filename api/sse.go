package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mercury-pubsub/mercury"
	"github.com/mercury-pubsub/mercury/internal/logging"
	"github.com/mercury-pubsub/mercury/store"
)

func (a *API) sseRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/{channel}", handlerFunc(a.subscribe))
	r.Method(http.MethodPost, "/{channel}", handlerFunc(a.publish))
}

// authorizeKey checks that the request's key has type typ and is granted on
// the channel named in the URL.
func (a *API) authorizeKey(r *http.Request, typ store.KeyType) (*store.Key, *store.Channel, error) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, nil, errMissingKey
	}
	key, err := a.store.VerifyKey(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, errKeyNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if key.Type != typ {
		return nil, nil, errWrongKeyType
	}

	ch, err := a.store.GetChannelByName(r.Context(), chi.URLParam(r, "channel"))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, errChannelNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	ok, err = a.store.Authorizes(r.Context(), key.ID, ch.ID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errUnauthorizedChan
	}
	return key, ch, nil
}

// subscribe streams a channel to a subscriber key holder.
func (a *API) subscribe(w http.ResponseWriter, r *http.Request) error {
	key, ch, err := a.authorizeKey(r, store.Subscriber)
	if err != nil {
		return err
	}
	err = a.hub.Subscribe(w, r, ch.ID, key.ID)
	if errors.Is(err, mercury.ErrServerClosed) {
		return errServerUnavailable
	}
	return err
}

// publish validates the body against the channel schema and fans it out.
// The response is the number of subscribers it was queued to.
func (a *API) publish(w http.ResponseWriter, r *http.Request) error {
	_, ch, err := a.authorizeKey(r, store.Publisher)
	if err != nil {
		return err
	}
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	data, err := ch.Validate(body)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Str("channel", ch.Name).Msg("rejected message")
		return errInvalidData
	}
	n, err := a.hub.Publish(r.Context(), mercury.Message{Channel: ch.ID, Data: data})
	if err != nil {
		return err
	}
	writeText(w, http.StatusOK, strconv.Itoa(n))
	return nil
}
