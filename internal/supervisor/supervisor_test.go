package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"github.com/mercury-pubsub/mercury"
	"github.com/mercury-pubsub/mercury/internal/logging"
)

// mockHTTPServer is a test double for HTTPServer.
type mockHTTPServer struct {
	listenAndServeErr error
	shutdownCount     atomic.Int32
	started           chan struct{}
	stopCh            chan struct{}
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{
		started: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

func (m *mockHTTPServer) ListenAndServe() error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenAndServeErr != nil {
		return m.listenAndServeErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(ctx context.Context) error {
	m.shutdownCount.Add(1)
	close(m.stopCh)
	return nil
}

type countingGC struct {
	runs atomic.Int32
	err  error
}

func (g *countingGC) RunGC() error {
	g.runs.Add(1)
	return g.err
}

func TestHTTPServerServiceShutsDownOnCancel(t *testing.T) {
	srv := newMockHTTPServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-srv.started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
	assert.Equal(t, int32(1), srv.shutdownCount.Load())
	assert.Equal(t, "http-server", svc.String())
}

func TestHTTPServerServiceReportsListenError(t *testing.T) {
	srv := newMockHTTPServer()
	srv.listenAndServeErr = errors.New("address in use")
	svc := NewHTTPServerService(srv, 0)

	err := svc.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.Equal(t, 10*time.Second, svc.shutdownTimeout)
}

func TestHubService(t *testing.T) {
	s, err := mercury.NewServer()
	require.NoError(t, err)
	svc := NewHubService(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.Serve(ctx), context.Canceled)

	// the hub was shut down by the cancellation and must not be restarted
	assert.ErrorIs(t, svc.Serve(context.Background()), suture.ErrDoNotRestart)
}

func TestSessionGCService(t *testing.T) {
	gc := &countingGC{}
	svc := NewSessionGCService(gc, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Serve(ctx), context.DeadlineExceeded)
	assert.Greater(t, gc.runs.Load(), int32(1))

	failing := &countingGC{err: errors.New("disk full")}
	svc = NewSessionGCService(failing, 5*time.Millisecond)
	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Serve(ctx), context.DeadlineExceeded, "GC errors do not stop the service")
	assert.Greater(t, failing.runs.Load(), int32(1))
}

func TestTreeDefaults(t *testing.T) {
	tree := NewTree(slog.New(logging.NewSlogHandler()), TreeConfig{})
	assert.Equal(t, DefaultTreeConfig(), tree.config)
}

func TestTreeLifecycle(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{ShutdownTimeout: time.Second})

	srv := newMockHTTPServer()
	hub, err := mercury.NewServer()
	require.NoError(t, err)

	tree.AddDataService(NewSessionGCService(&countingGC{}, time.Hour))
	tree.AddBrokerService(NewHubService(hub))
	tree.AddAPIService(NewHTTPServerService(srv, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	select {
	case <-srv.started:
	case <-time.After(time.Second):
		t.Fatal("http service never started")
	}
	cancel()

	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	assert.Equal(t, int32(1), srv.shutdownCount.Load())

	select {
	case <-hub.Done():
	default:
		t.Error("hub was not shut down with the tree")
	}
}
