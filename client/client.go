// Package client is the Go SDK for the mercury admin API. It authenticates
// with a user's name and password.
//
//	c, err := client.New("http://localhost:8080", "admin", "secret-password")
//	ch, err := c.Channels().Create(ctx, "chat", json.RawMessage(`{"type":"object"}`))
//	token, err := c.Keys().Create(ctx, client.Publisher, ch.ID)
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/mercury-pubsub/mercury/internal/logging"
)

// DefaultPassword is the password the root user starts out with.
const DefaultPassword = "mercury"

// ErrInvalidResponse is returned when the server answers with something the
// client cannot make sense of.
var ErrInvalidResponse = errors.New("invalid response")

// APIError is a non-2xx answer from the server. Body holds the server's
// message.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercury: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

type Client struct {
	baseURL *url.URL
	http    *http.Client

	mu       sync.RWMutex
	name     string
	password string
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the server at rawURL, which must be absolute.
func New(rawURL, name, password string, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("url %q is not absolute", rawURL)
	}
	if password == DefaultPassword {
		logging.Warn().Str("user", name).
			Msg("you are using the default password for the admin user, you should change it")
	}
	c := &Client{
		baseURL:  u,
		http:     &http.Client{Timeout: 30 * time.Second},
		name:     name,
		password: password,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Users() *Users       { return &Users{c: c} }
func (c *Client) Channels() *Channels { return &Channels{c: c} }
func (c *Client) Keys() *Keys         { return &Keys{c: c} }

func (c *Client) setName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

func (c *Client) setPassword(password string) {
	c.mu.Lock()
	c.password = password
	c.mu.Unlock()
}

// do sends body as JSON and returns the raw response body of a 2xx answer.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	req.SetBasicAuth(c.name, c.password)
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(out))}
	}
	return out, nil
}

// doJSON is do followed by decoding the answer into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	raw, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// check validates decoded response structs against their tags.
func check[T any](items ...T) error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	for _, item := range items {
		if err := validate.Struct(item); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}
	return nil
}
