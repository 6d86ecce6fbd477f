// Package publisher sends messages to mercury channels with a publisher key.
//
//	p, err := publisher.New("http://localhost:8080", token)
//	n, err := p.Publish(ctx, "chat", map[string]string{"text": "hi"})
//
// Requests go through a circuit breaker. Once the broker keeps failing,
// Publish fails fast with gobreaker.ErrOpenState until the breaker's timeout
// has passed.
package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mercury-pubsub/mercury/internal/logging"
	"github.com/mercury-pubsub/mercury/internal/metrics"
)

// Error is a non-2xx answer from the broker.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("mercury: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

type Publisher struct {
	baseURL *url.URL
	key     string
	http    *http.Client

	maxFailures uint32
	openFor     time.Duration
	cb          *gobreaker.CircuitBreaker[int]
}

type Option func(*Publisher)

// WithHTTPClient replaces the default client, which times out after 10s.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Publisher) { p.http = hc }
}

// WithBreaker opens the breaker after maxFailures consecutive failures and
// keeps it open for openFor. The defaults are 5 and 30s.
func WithBreaker(maxFailures uint32, openFor time.Duration) Option {
	return func(p *Publisher) {
		p.maxFailures = maxFailures
		p.openFor = openFor
	}
}

// New returns a publisher for the broker at rawURL using the "id;secret"
// token of a publisher key.
func New(rawURL, key string, opts ...Option) (*Publisher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("url %q is not absolute", rawURL)
	}
	p := &Publisher{
		baseURL:     u,
		key:         key,
		http:        &http.Client{Timeout: 10 * time.Second},
		maxFailures: 5,
		openFor:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cb = p.newBreaker("publisher " + u.Host)
	return p, nil
}

func (p *Publisher) newBreaker(name string) *gobreaker.CircuitBreaker[int] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     p.openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= p.maxFailures
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

// isSuccessful counts only server errors and transport failures against
// the broker. A rejected key or message is the caller's problem.
func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.StatusCode < http.StatusInternalServerError
	}
	return false
}

// outcome labels a Publish result. "rejected" means the breaker refused the
// call; "rejected_by_broker" is a 4xx answer, which the breaker does not
// count as a failure.
func outcome(err error) string {
	var perr *Error
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	case errors.As(err, &perr) && perr.StatusCode < http.StatusInternalServerError:
		return "rejected_by_broker"
	default:
		return "failure"
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Publish sends data as JSON to channel and returns the number of
// subscribers it was delivered to.
func (p *Publisher) Publish(ctx context.Context, channel string, data any) (int, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}
	n, err := p.cb.Execute(func() (int, error) {
		return p.post(ctx, channel, body)
	})
	metrics.CircuitBreakerRequests.WithLabelValues(p.cb.Name(), outcome(err)).Inc()
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", channel, err)
	}
	return n, nil
}

func (p *Publisher) post(ctx context.Context, channel string, body []byte) (int, error) {
	u := p.baseURL.JoinPath("sse", channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+p.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(b))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &Error{StatusCode: resp.StatusCode, Body: text}
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("unexpected receiver count %q", text)
	}
	return n, nil
}
