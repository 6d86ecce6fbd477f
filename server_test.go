package mercury

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestServer_Shutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := NewServer()
	if err != nil {
		t.Fatal(err)
	}

	// verify calling multiple times is safe and does not hang
	for i := 0; i < 5; i++ {
		s.Shutdown()
	}

	if _, err := s.Publish(context.Background(), Message{Channel: chFoo}); !errors.Is(err, ErrServerClosed) {
		t.Errorf("publish after shutdown: got %v want %v", err, ErrServerClosed)
	}
	if got := s.Status().Status; got != "CLOSED" {
		t.Errorf("unexpected status: got %v want CLOSED", got)
	}
	s.CloseChannel(chFoo) // must not block
	s.CloseKey(keyA)
}

// an active subscriber must not keep goroutines alive after shutdown
func TestServer_ShutdownWithSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := NewServer()
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/sse/chat", nil)
	done := make(chan struct{})
	go func() {
		_ = s.Subscribe(httptest.NewRecorder(), req, chFoo, keyA)
		close(done)
	}()
	waitForConns(t, s, 1)

	s.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber still streaming after shutdown")
	}
}

func TestServer_Options(t *testing.T) {
	if _, err := NewServer(WithConnBufferSize(0)); err == nil {
		t.Error("expected error for zero buffer size")
	}

	s, err := NewServer(WithConnBufferSize(4), WithCORSAllowOrigin("https://example.com"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()
	if s.conf.ConnBufSize != 4 || s.conf.CORSAllowOrigin != "https://example.com" {
		t.Errorf("options not applied: %+v", s.conf)
	}
}

func TestServer_PublishContextCancelled(t *testing.T) {
	s, err := NewServer()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	// nothing can accept the publish, it must return instead of blocking
	s.hub.Shutdown()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Publish(ctx, Message{Channel: chFoo}); err == nil {
		t.Error("expected an error from publish")
	}
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := NewServer()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx) }()
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected serve error: %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Error("server not shut down after serve returned")
	}
	if s.String() != "mercury-hub" {
		t.Errorf("unexpected service name %q", s.String())
	}
}

func TestServer_Status(t *testing.T) {
	s, err := NewServer()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	if _, err := s.Publish(context.Background(), Message{Channel: chFoo, Data: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	st := s.Status()
	if st.Status != "OK" || st.SentMsgs != 1 || len(st.Connections) != 0 {
		t.Errorf("unexpected status: %+v", st)
	}
}
