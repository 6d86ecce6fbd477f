package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/mercury-pubsub/mercury"
	"github.com/mercury-pubsub/mercury/internal/logging"
	"github.com/mercury-pubsub/mercury/internal/metrics"
)

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server until its context is cancelled, then
// shuts it down gracefully.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		name:            "http-server",
	}
}

func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}

		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string {
	return h.name
}

// Hub is the part of *mercury.Server the service drives.
type Hub interface {
	Serve(ctx context.Context) error
}

// HubService keeps the SSE hub alive for the lifetime of the tree. A hub
// that was shut down cannot be restarted, so that case is not retried.
type HubService struct {
	hub Hub
}

func NewHubService(hub Hub) *HubService {
	return &HubService{hub: hub}
}

func (h *HubService) Serve(ctx context.Context) error {
	err := h.hub.Serve(ctx)
	if errors.Is(err, mercury.ErrServerClosed) {
		return suture.ErrDoNotRestart
	}
	return err
}

func (h *HubService) String() string {
	return "sse-hub"
}

// GarbageCollector reclaims storage space.
type GarbageCollector interface {
	RunGC() error
}

// SessionGCService periodically runs value log GC on the session store.
type SessionGCService struct {
	store    GarbageCollector
	interval time.Duration
}

func NewSessionGCService(store GarbageCollector, interval time.Duration) *SessionGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &SessionGCService{store: store, interval: interval}
}

func (s *SessionGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.RunGC(); err != nil {
				metrics.SessionGCRuns.WithLabelValues("error").Inc()
				logging.Warn().Err(err).Msg("session store GC failed")
				continue
			}
			metrics.SessionGCRuns.WithLabelValues("ok").Inc()
		}
	}
}

func (s *SessionGCService) String() string {
	return "session-gc"
}
