package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type User struct {
	ID   uuid.UUID `json:"id" validate:"required"`
	Name string    `json:"name" validate:"required"`
	Rank int       `json:"rank" validate:"min=0"`
}

type Channel struct {
	ID     uuid.UUID       `json:"id" validate:"required"`
	Name   string          `json:"name" validate:"required"`
	Schema json.RawMessage `json:"schema" validate:"required"`
}

type KeyType string

const (
	Publisher  KeyType = "publisher"
	Subscriber KeyType = "subscriber"
)

type Key struct {
	ID   uuid.UUID `json:"id" validate:"required"`
	Type KeyType   `json:"type" validate:"oneof=publisher subscriber"`
}

// Users manages the authenticated user and the users ranked below them.
type Users struct{ c *Client }

func (u *Users) List(ctx context.Context) ([]User, error) {
	var users []User
	if err := u.c.doJSON(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, check(users...)
}

func (u *Users) Create(ctx context.Context, name, password string) (*User, error) {
	var user User
	body := map[string]string{"name": name, "password": password}
	if err := u.c.doJSON(ctx, http.MethodPost, "/api/users", body, &user); err != nil {
		return nil, err
	}
	return &user, check(user)
}

// Rename renames the authenticated user. The client uses the new name from
// then on.
func (u *Users) Rename(ctx context.Context, name string) error {
	if _, err := u.c.do(ctx, http.MethodPatch, "/api/users/rename", map[string]string{"name": name}); err != nil {
		return err
	}
	u.c.setName(name)
	return nil
}

// ChangePassword changes the authenticated user's password. The client uses
// the new password from then on.
func (u *Users) ChangePassword(ctx context.Context, password string) error {
	body := map[string]string{"password": password}
	if _, err := u.c.do(ctx, http.MethodPatch, "/api/users/change-password", body); err != nil {
		return err
	}
	u.c.setPassword(password)
	return nil
}

func (u *Users) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := u.c.do(ctx, http.MethodDelete, "/api/users/"+id.String(), nil)
	return err
}

type Channels struct{ c *Client }

func (ch *Channels) List(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	if err := ch.c.doJSON(ctx, http.MethodGet, "/api/channels", nil, &channels); err != nil {
		return nil, err
	}
	return channels, check(channels...)
}

// Create makes a channel whose messages must match schema, a JSON Schema
// document.
func (ch *Channels) Create(ctx context.Context, name string, schema json.RawMessage) (*Channel, error) {
	var channel Channel
	body := map[string]any{"name": name, "schema": schema}
	if err := ch.c.doJSON(ctx, http.MethodPost, "/api/channels", body, &channel); err != nil {
		return nil, err
	}
	return &channel, check(channel)
}

func (ch *Channels) Rename(ctx context.Context, id uuid.UUID, name string) (*Channel, error) {
	var channel Channel
	body := map[string]string{"name": name}
	if err := ch.c.doJSON(ctx, http.MethodPatch, "/api/channels/rename/"+id.String(), body, &channel); err != nil {
		return nil, err
	}
	return &channel, check(channel)
}

func (ch *Channels) ChangeSchema(ctx context.Context, id uuid.UUID, schema json.RawMessage) (*Channel, error) {
	var channel Channel
	body := map[string]any{"schema": schema}
	if err := ch.c.doJSON(ctx, http.MethodPatch, "/api/channels/change-schema/"+id.String(), body, &channel); err != nil {
		return nil, err
	}
	return &channel, check(channel)
}

func (ch *Channels) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := ch.c.do(ctx, http.MethodDelete, "/api/channels/"+id.String(), nil)
	return err
}

type Keys struct{ c *Client }

func (k *Keys) List(ctx context.Context) ([]Key, error) {
	var keys []Key
	if err := k.c.doJSON(ctx, http.MethodGet, "/api/keys", nil, &keys); err != nil {
		return nil, err
	}
	return keys, check(keys...)
}

// Create makes a key granted on channels and returns its "<id>;<secret>"
// token. The secret cannot be retrieved again.
func (k *Keys) Create(ctx context.Context, typ KeyType, channels ...uuid.UUID) (string, error) {
	if channels == nil {
		channels = []uuid.UUID{}
	}
	body := map[string]any{"type": typ, "channels": channels}
	raw, err := k.c.do(ctx, http.MethodPost, "/api/keys", body)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(raw))
	idPart, secret, ok := strings.Cut(token, ";")
	if !ok || secret == "" {
		return "", fmt.Errorf("%w: malformed key token", ErrInvalidResponse)
	}
	if _, err := uuid.Parse(idPart); err != nil {
		return "", fmt.Errorf("%w: malformed key id", ErrInvalidResponse)
	}
	return token, nil
}

// ListChannels returns the channels key id is granted on.
func (k *Keys) ListChannels(ctx context.Context, id uuid.UUID) ([]Channel, error) {
	var channels []Channel
	if err := k.c.doJSON(ctx, http.MethodGet, "/api/keys/"+id.String(), nil, &channels); err != nil {
		return nil, err
	}
	return channels, check(channels...)
}

// SetChannels replaces the channels key id is granted on.
func (k *Keys) SetChannels(ctx context.Context, id uuid.UUID, channels ...uuid.UUID) error {
	if channels == nil {
		channels = []uuid.UUID{}
	}
	_, err := k.c.do(ctx, http.MethodPatch, "/api/keys/"+id.String(), channels)
	return err
}

func (k *Keys) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := k.c.do(ctx, http.MethodDelete, "/api/keys/"+id.String(), nil)
	return err
}
