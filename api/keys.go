package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mercury-pubsub/mercury/internal/logging"
	"github.com/mercury-pubsub/mercury/store"
)

type createKeyRequest struct {
	Type     string      `json:"type" validate:"oneof=publisher subscriber"`
	Channels []uuid.UUID `json:"channels"`
}

func (a *API) keyRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/", handlerFunc(a.listKeys))
	r.Method(http.MethodPost, "/", handlerFunc(a.createKey))
	r.Method(http.MethodGet, "/{id}", handlerFunc(a.keyChannels))
	r.Method(http.MethodPatch, "/{id}", handlerFunc(a.setKeyChannels))
	r.Method(http.MethodDelete, "/{id}", handlerFunc(a.deleteKey))
}

func (a *API) listKeys(w http.ResponseWriter, r *http.Request) error {
	keys, err := a.store.ListKeys(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, keys)
	return nil
}

// createKey answers with the one-time "<id>;<secret>" token as plain text.
func (a *API) createKey(w http.ResponseWriter, r *http.Request) error {
	var req createKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	k, secret, err := a.store.CreateKey(r.Context(), store.KeyType(req.Type), req.Channels)
	if err != nil {
		return err
	}
	logging.Ctx(r.Context()).Info().
		Str("key_id", k.ID.String()).
		Str("type", string(k.Type)).
		Int("channels", len(req.Channels)).
		Msg("key created")
	writeText(w, http.StatusOK, store.Token(k.ID, secret))
	return nil
}

func (a *API) keyChannels(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	channels, err := a.store.KeyChannels(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return errKeyNotFound
	}
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, channels)
	return nil
}

// setKeyChannels replaces the key's grants. Open subscriptions made with the
// key are closed so that clients reconnect under the new grants.
func (a *API) setKeyChannels(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	var channels []uuid.UUID
	if err := json.Unmarshal(body, &channels); err != nil {
		return errInvalidJSON
	}
	err = a.store.SetKeyChannels(r.Context(), id, channels)
	if errors.Is(err, store.ErrNotFound) {
		return errKeyNotFound
	}
	if err != nil {
		return err
	}
	a.hub.CloseKey(id)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *API) deleteKey(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	err = a.store.DeleteKey(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return errKeyNotFound
	}
	if err != nil {
		return err
	}
	a.hub.CloseKey(id)
	logging.Ctx(r.Context()).Info().Str("key_id", id.String()).Msg("key deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}
