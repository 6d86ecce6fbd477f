package mercury

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultConnBufferSize is the number of messages a subscriber may fall behind
// before the hub drops it.
const DefaultConnBufferSize = 256

// DefaultKeepaliveInterval is how often an idle stream gets a comment line.
const DefaultKeepaliveInterval = 15 * time.Second

// ErrServerClosed is returned by Publish and Subscribe after Shutdown.
var ErrServerClosed = errors.New("mercury: server closed")

// Server fans messages published to a channel out to every SSE connection
// subscribed to that channel.
//
// Server does no authentication of its own: callers decide which channel and
// key a request belongs to before handing it to Subscribe.
type Server struct {
	hub  *hub
	conf serverConfig
}

// serverConfig defines configurable options that can be customized for a Server.
type serverConfig struct {
	CORSAllowOrigin string        // Access-Control-Allow-Origin header value (dont send header if blank)
	ConnBufSize     uint          // message buffer count for new connections
	Keepalive       time.Duration // interval between :keepalive comments on a stream
}

// NewServer creates a new Server with optional ServerOptions for configuration.
func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		hub: newHub(),
		conf: serverConfig{
			ConnBufSize: DefaultConnBufferSize,
			Keepalive:   DefaultKeepaliveInterval,
		},
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.hub.Start()
	return s, nil
}

// ServerOption defines a high-level option that can be customized on a Server.
type ServerOption func(s *Server) error

// WithCORSAllowOrigin sets the Access-Control-Allow-Origin header value sent
// on event streams. If set to the zero value (""), the header will not be sent.
func WithCORSAllowOrigin(origin string) ServerOption {
	return func(s *Server) error {
		s.conf.CORSAllowOrigin = origin
		return nil
	}
}

// WithConnBufferSize sets how many messages each subscriber can buffer.
func WithConnBufferSize(n uint) ServerOption {
	return func(s *Server) error {
		if n == 0 {
			return errors.New("mercury: connection buffer size must be positive")
		}
		s.conf.ConnBufSize = n
		return nil
	}
}

// WithKeepaliveInterval sets how often idle streams get a :keepalive comment.
func WithKeepaliveInterval(d time.Duration) ServerOption {
	return func(s *Server) error {
		if d <= 0 {
			return errors.New("mercury: keepalive interval must be positive")
		}
		s.conf.Keepalive = d
		return nil
	}
}

// Publish delivers msg to every connection subscribed to msg.Channel and
// returns how many connections it was queued to.
func (s *Server) Publish(ctx context.Context, msg Message) (int, error) {
	d := delivery{msg: msg, result: make(chan int, 1)}
	select {
	case s.hub.broadcast <- d:
	case <-s.hub.done:
		return 0, ErrServerClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return <-d.result, nil
}

// Subscribe streams messages of channel to w until the client disconnects,
// the hub drops the connection, or the server shuts down. key identifies the
// credential used, so revoking it can end the stream.
//
// It returns ErrServerClosed without writing anything if the server is
// already shut down.
func (s *Server) Subscribe(w http.ResponseWriter, r *http.Request, channel, key uuid.UUID) error {
	c := newConnection(w, r, channel, key, s.conf.ConnBufSize)
	c.keepalive = s.conf.Keepalive
	return c.serve(s.hub, s.conf.CORSAllowOrigin)
}

// CloseChannel ends every subscription to channel.
func (s *Server) CloseChannel(channel uuid.UUID) {
	select {
	case s.hub.closeChannel <- channel:
	case <-s.hub.done:
	}
}

// CloseKey ends every subscription opened with key.
func (s *Server) CloseKey(key uuid.UUID) {
	select {
	case s.hub.closeKey <- key:
	case <-s.hub.done:
	}
}

// Shutdown a server gracefully, closing active connections.
//
// Connection writers notice the closed send channel and end their streams in
// the background; Shutdown only waits for the hub itself.
func (s *Server) Shutdown() {
	s.hub.Shutdown()
}

// Done is closed once the server has shut down.
func (s *Server) Done() <-chan struct{} {
	return s.hub.done
}

// Serve blocks until ctx is cancelled and then shuts the server down. It lets
// a Server run under a supervisor alongside the HTTP listener.
func (s *Server) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
		s.Shutdown()
		return ctx.Err()
	case <-s.hub.done:
		return ErrServerClosed
	}
}

func (s *Server) String() string {
	return "mercury-hub"
}
