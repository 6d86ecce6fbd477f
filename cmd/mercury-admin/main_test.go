package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mercury-pubsub/mercury"
	"github.com/mercury-pubsub/mercury/api"
	"github.com/mercury-pubsub/mercury/client"
	"github.com/mercury-pubsub/mercury/sessions"
	"github.com/mercury-pubsub/mercury/store"
)

func startBroker(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "mercury.db"), store.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	_, err = st.EnsureRootUser(ctx, "admin", "rootpassword")
	require.NoError(t, err)

	ss, err := sessions.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	hub, err := mercury.NewServer()
	require.NoError(t, err)

	srv := httptest.NewServer(api.New(st, ss, hub, api.Config{}).Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Shutdown)

	t.Setenv("URL", srv.URL)
	t.Setenv("NAME", "admin")
	t.Setenv("PASSWORD", "rootpassword")
}

// run executes the CLI and returns its standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadEnv(t *testing.T) {
	var testcases = []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"complete", map[string]string{"URL": "http://localhost:8080", "NAME": "admin", "PASSWORD": "pw"}, false},
		{"missing password", map[string]string{"URL": "http://localhost:8080", "NAME": "admin", "PASSWORD": ""}, true},
		{"relative url", map[string]string{"URL": "localhost", "NAME": "admin", "PASSWORD": "pw"}, true},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := loadEnv()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "admin", cfg.Name)
		})
	}
}

func TestParseSchema(t *testing.T) {
	for _, arg := range []string{`null`, `[1]`, `3`, `"object"`, `{`} {
		_, err := parseSchema(arg)
		assert.ErrorContains(t, err, "schema must be a JSON object", arg)
	}
	schema, err := parseSchema(`{"type":"string"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"string"}`, string(schema))

	schema, err = parseSchema(`{}`)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(schema))
}

func TestChannelAndKeyCommands(t *testing.T) {
	startBroker(t)

	out, err := run(t, "channels", "create", "chat", `{"type":"object"}`)
	require.NoError(t, err)
	var ch client.Channel
	require.NoError(t, json.Unmarshal([]byte(out), &ch))
	assert.Equal(t, "chat", ch.Name)
	assert.Contains(t, out, "\n  \"name\"", "output is indented")

	_, err = run(t, "channels", "create", "list", `[1,2]`)
	assert.ErrorContains(t, err, "schema must be a JSON object")
	_, err = run(t, "channels", "create", "nothing", `null`)
	assert.ErrorContains(t, err, "schema must be a JSON object")

	_, err = run(t, "keys", "create", "publisher")
	assert.Error(t, err, "at least one channel is required")
	_, err = run(t, "keys", "create", "admin", ch.ID.String())
	assert.ErrorContains(t, err, "key type must be")
	_, err = run(t, "keys", "create", "publisher", "not-an-id")
	assert.ErrorContains(t, err, "not a valid id")

	out, err = run(t, "keys", "create", "publisher", ch.ID.String())
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	id, _, ok := strings.Cut(token, ";")
	require.True(t, ok)

	out, err = run(t, "keys", "list-channels", id)
	require.NoError(t, err)
	var granted []client.Channel
	require.NoError(t, json.Unmarshal([]byte(out), &granted))
	require.Len(t, granted, 1)
	assert.Equal(t, ch.ID, granted[0].ID)

	_, err = run(t, "keys", "set-channels", id)
	require.NoError(t, err)
	out, err = run(t, "keys", "list-channels", id)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	_, err = run(t, "keys", "delete", id)
	require.NoError(t, err)
	_, err = run(t, "channels", "delete", ch.ID.String())
	require.NoError(t, err)

	out, err = run(t, "channels", "list")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestUserCommands(t *testing.T) {
	startBroker(t)

	out, err := run(t, "users", "create", "alice", "password1")
	require.NoError(t, err)
	var alice client.User
	require.NoError(t, json.Unmarshal([]byte(out), &alice))

	out, err = run(t, "users", "list")
	require.NoError(t, err)
	var users []client.User
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	assert.Len(t, users, 2)

	_, err = run(t, "users", "delete", alice.ID.String())
	require.NoError(t, err)

	var apiErr *client.APIError
	_, err = run(t, "users", "delete", alice.ID.String())
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestMissingEnvironment(t *testing.T) {
	t.Setenv("URL", "")
	t.Setenv("NAME", "")
	t.Setenv("PASSWORD", "")
	_, err := run(t, "channels", "list")
	assert.ErrorContains(t, err, "URL, NAME and PASSWORD must be set")
}
