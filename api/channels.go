package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/mercury-pubsub/mercury/internal/logging"
	"github.com/mercury-pubsub/mercury/store"
)

type createChannelRequest struct {
	Name   string          `json:"name" validate:"min=4,max=16"`
	Schema json.RawMessage `json:"schema" validate:"required"`
}

type changeSchemaRequest struct {
	Schema json.RawMessage `json:"schema" validate:"required"`
}

func (a *API) channelRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/", handlerFunc(a.listChannels))
	r.Method(http.MethodPost, "/", handlerFunc(a.createChannel))
	r.Method(http.MethodPatch, "/rename/{id}", handlerFunc(a.renameChannel))
	r.Method(http.MethodPatch, "/change-schema/{id}", handlerFunc(a.changeSchema))
	r.Method(http.MethodDelete, "/{id}", handlerFunc(a.deleteChannel))
}

func (a *API) listChannels(w http.ResponseWriter, r *http.Request) error {
	channels, err := a.store.ListChannels(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, channels)
	return nil
}

func (a *API) createChannel(w http.ResponseWriter, r *http.Request) error {
	var req createChannelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	ch, err := a.store.CreateChannel(r.Context(), req.Name, req.Schema)
	if errors.Is(err, store.ErrDuplicateName) {
		return errDuplicateChannel
	}
	if err != nil {
		return err
	}
	logging.Ctx(r.Context()).Info().Str("channel", ch.Name).Msg("channel created")
	writeJSON(w, r, http.StatusOK, ch)
	return nil
}

func (a *API) renameChannel(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	ch, err := a.store.RenameChannel(r.Context(), id, req.Name)
	switch {
	case errors.Is(err, store.ErrDuplicateName):
		return errDuplicateChannel
	case errors.Is(err, store.ErrNotFound):
		return errChannelNotFound
	case err != nil:
		return err
	}
	writeJSON(w, r, http.StatusOK, ch)
	return nil
}

func (a *API) changeSchema(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	var req changeSchemaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	ch, err := a.store.ChangeSchema(r.Context(), id, req.Schema)
	if errors.Is(err, store.ErrNotFound) {
		return errChannelNotFound
	}
	if err != nil {
		return err
	}
	writeJSON(w, r, http.StatusOK, ch)
	return nil
}

func (a *API) deleteChannel(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	err = a.store.DeleteChannel(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return errChannelNotFound
	}
	if err != nil {
		return err
	}
	a.hub.CloseChannel(id)
	logging.Ctx(r.Context()).Info().Str("channel_id", id.String()).Msg("channel deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}
