// Package subscriber streams messages from mercury channels with a
// subscriber key.
//
//	s, err := subscriber.New("http://localhost:8080", token)
//	err = s.Subscribe(ctx, "chat", subscriber.Handlers{
//		OnData: func(data json.RawMessage) { fmt.Println(string(data)) },
//	})
//
// Subscribe reconnects with exponential backoff when the stream drops and
// returns once ctx is cancelled or the broker rejects the subscription.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/r3labs/sse/v2"
	backoffv1 "gopkg.in/cenkalti/backoff.v1"

	"github.com/mercury-pubsub/mercury/internal/logging"
)

// maxEventSize bounds a single event on the wire.
const maxEventSize = 1 << 20

var errStreamEnded = errors.New("stream ended")

// Error is a non-200 answer to a subscription request.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("mercury: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Handlers never run concurrently with each other. Any of them may be nil.
type Handlers struct {
	// OnOpen fires each time a stream is established.
	OnOpen func()
	// OnData receives the JSON payload of every message.
	OnData func(data json.RawMessage)
	// OnClose fires each time an established stream ends.
	OnClose func()
}

type Subscriber struct {
	baseURL *url.URL
	key     string
	http    *http.Client

	initialInterval time.Duration
	maxInterval     time.Duration
}

type Option func(*Subscriber)

// WithHTTPClient replaces the default client. It must not set a Timeout,
// which would cut long-lived streams.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Subscriber) { s.http = hc }
}

// WithBackOff sets the first and the largest delay between reconnects.
// The defaults are 500ms and 30s.
func WithBackOff(initial, longest time.Duration) Option {
	return func(s *Subscriber) {
		s.initialInterval = initial
		s.maxInterval = longest
	}
}

// New returns a subscriber for the broker at rawURL using the "id;secret"
// token of a subscriber key.
func New(rawURL, key string, opts ...Option) (*Subscriber, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("url %q is not absolute", rawURL)
	}
	s := &Subscriber{
		baseURL:         u,
		key:             key,
		http:            &http.Client{},
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Subscriber) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval
	b.MaxInterval = s.maxInterval
	b.MaxElapsedTime = 0
	return b
}

// Subscribe streams channel until ctx is cancelled, in which case it
// returns nil. A 4xx answer from the broker is returned as an *Error
// without retrying.
func (s *Subscriber) Subscribe(ctx context.Context, channel string, h Handlers) error {
	b := backoff.WithContext(s.newBackOff(), ctx)
	op := func() error {
		opened, err := s.stream(ctx, channel, h)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if opened {
			b.Reset()
		}
		var serr *Error
		if errors.As(err, &serr) && serr.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		if err == nil {
			return errStreamEnded
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		logging.Ctx(ctx).Debug().Err(err).Str("channel", channel).Dur("retry_in", d).
			Msg("subscription interrupted")
	}
	err := backoff.RetryNotify(op, b, notify)
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("subscribe to %s: %w", channel, err)
}

// stream runs a single connection attempt. It reports whether the stream
// was established before it ended.
func (s *Subscriber) stream(ctx context.Context, channel string, h Handlers) (bool, error) {
	c := sse.NewClient(s.baseURL.JoinPath("sse", channel).String(), sse.ClientMaxBufferSize(maxEventSize))
	c.Connection = s.http
	c.Headers["Authorization"] = "Bearer " + s.key
	// retries are ours, one attempt per call
	c.ReconnectStrategy = &backoffv1.StopBackOff{}
	c.ResponseValidator = validateResponse

	// the broker opens every stream with a comment, so this fires on
	// connect rather than on the first message.
	var opened bool
	c.OnConnect(func(*sse.Client) {
		opened = true
		if h.OnOpen != nil {
			h.OnOpen()
		}
	})

	err := c.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if h.OnData != nil {
			h.OnData(json.RawMessage(msg.Data))
		}
	})
	if opened && h.OnClose != nil {
		h.OnClose()
	}
	return opened, err
}

func validateResponse(_ *sse.Client, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	return &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
