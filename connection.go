package mercury

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/azer/debug"
	"github.com/google/uuid"

	"github.com/mercury-pubsub/mercury/internal/logging"
)

type connection struct {
	r        *http.Request       // The HTTP request
	w        http.ResponseWriter // The HTTP response
	created  time.Time           // Timestamp for when connection was opened
	send     chan []byte         // Buffered channel of outbound messages
	channel  uuid.UUID           // Channel the SSE client subscribed to
	key      uuid.UUID           // API key the client authenticated with
	msgsSent atomic.Uint64       // Msgs the connection has sent (all time)

	keepalive time.Duration // Interval between keepalive comments
}

func newConnection(w http.ResponseWriter, r *http.Request, channel, key uuid.UUID, bufsize uint) *connection {
	return &connection{
		send:    make(chan []byte, bufsize),
		w:       w,
		r:       r,
		created: time.Now(),
		channel: channel,
		key:     key,
	}
}

// ConnectionStatus describes one open subscription.
type ConnectionStatus struct {
	Path      string `json:"request_path"`
	Channel   string `json:"channel"`
	Key       string `json:"key"`
	Created   int64  `json:"created_at"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent"`
	MsgsSent  uint64 `json:"msgs_sent"`
}

func (c *connection) Status() ConnectionStatus {
	cs := ConnectionStatus{
		Channel:  c.channel.String(),
		Key:      c.key.String(),
		Created:  c.created.Unix(),
		MsgsSent: c.msgsSent.Load(),
	}
	if c.r != nil {
		cs.Path = c.r.URL.Path
		cs.ClientIP = c.r.RemoteAddr
		cs.UserAgent = c.r.UserAgent()
	}
	return cs
}

func (c *connection) flush() {
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
}

// writer is the event loop that attempts to send all messages on the active
// http connection. it will detect if the http connection is closed and autoexit.
// it will also exit if the connection's send channel is closed (indicating a
// shutdown, a dropped channel or key, or a stalled client).
func (c *connection) writer() {
	// any SSE line beginning with a colon is ignored by clients, so a comment
	// line keeps idle proxies from timing the stream out.
	interval := c.keepalive
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	keepaliveTickler := time.NewTicker(interval)
	keepaliveMsg := []byte(":keepalive\n")
	defer keepaliveTickler.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				debug.Debug("hub told us to shut down")
				return
			}
			if _, err := c.w.Write(msg); err != nil {
				debug.Debug("Error writing msg to client, closing")
				return
			}
			c.flush()
			c.msgsSent.Add(1)

		case <-keepaliveTickler.C:
			if _, err := c.w.Write(keepaliveMsg); err != nil {
				debug.Debug("Error writing keepalive to client, closing")
				return
			}
			c.flush()

		case <-c.r.Context().Done():
			debug.Debug("closer fired for conn")
			return
		}
	}
}

// serve registers c with the hub and streams until the client goes away or
// the hub drops it.
func (c *connection) serve(h *hub, corsOrigin string) error {
	select {
	case h.register <- c:
	case <-h.done:
		return ErrServerClosed
	}
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	log := logging.Ctx(c.r.Context())
	log.Info().Str("channel", c.channel.String()).Str("remote", c.r.RemoteAddr).Msg("CONNECT")
	defer func() {
		log.Info().Str("channel", c.channel.String()).Str("remote", c.r.RemoteAddr).
			Uint64("msgs_sent", c.msgsSent.Load()).Msg("DISCONNECT")
	}()

	headers := c.w.Header()
	if corsOrigin != "" {
		headers.Set("Access-Control-Allow-Origin", corsOrigin)
	}
	headers.Set("Content-Type", "text/event-stream; charset=utf-8")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.w.WriteHeader(http.StatusOK)

	// an initial comment gets headers through buffering proxies and lets
	// clients observe the open before the first message.
	if _, err := c.w.Write([]byte(":ok\n\n")); err != nil {
		return nil
	}
	c.flush()

	c.writer()
	return nil
}
