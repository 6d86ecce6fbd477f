// Command mercury-server runs the mercury broker: the admin REST API, login
// sessions, the SSE publish/subscribe endpoints and the dashboard.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mercury-pubsub/mercury"
	"github.com/mercury-pubsub/mercury/api"
	"github.com/mercury-pubsub/mercury/internal/config"
	"github.com/mercury-pubsub/mercury/internal/logging"
	"github.com/mercury-pubsub/mercury/internal/supervisor"
	"github.com/mercury-pubsub/mercury/sessions"
	"github.com/mercury-pubsub/mercury/store"
)

const sessionGCInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal().Err(err).Msg("server exited")
	}
	logging.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	created, err := db.EnsureRootUser(ctx, cfg.Root.Name, cfg.Root.Password)
	if err != nil {
		return err
	}
	if created {
		logging.Info().Str("user", cfg.Root.Name).Msg("created root user")
	}
	if cfg.UsesDefaultRootPassword() {
		logging.Warn().Msg("root user may still use the default password, change it")
	}

	sess, err := sessions.Open(cfg.SessionDir)
	if err != nil {
		return err
	}
	defer sess.Close()

	hub, err := mercury.NewServer(mercury.WithConnBufferSize(cfg.SSE.Buffer))
	if err != nil {
		return err
	}

	handler := api.New(db, sess, hub, api.Config{
		CORSOrigins:     cfg.CORS.Origins,
		RateLimit:       cfg.RateLimit.Requests,
		RateLimitWindow: cfg.RateLimit.Window,
		SecureCookies:   cfg.SecureCookies,
		AdminDisabled:   cfg.Admin.Disabled,
		TrustProxy:      cfg.TrustProxy,
		StaticDir:       cfg.StaticDir,
	}).Handler()

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	// streams hold their request open, so the hub must go first or the HTTP
	// shutdown waits out its whole timeout.
	httpServer.RegisterOnShutdown(hub.Shutdown)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddDataService(supervisor.NewSessionGCService(sess, sessionGCInterval))
	tree.AddBrokerService(supervisor.NewHubService(hub))
	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", cfg.Addr()).Str("database", cfg.DatabaseURL).Msg("mercury listening")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
