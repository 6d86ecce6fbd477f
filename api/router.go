// Package api is the broker's HTTP surface: the admin REST API used by the
// dashboard and SDKs, login sessions, and SSE publish/subscribe.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mercury-pubsub/mercury"
	"github.com/mercury-pubsub/mercury/admin"
	"github.com/mercury-pubsub/mercury/sessions"
	"github.com/mercury-pubsub/mercury/store"
)

// Config holds the knobs of the HTTP surface.
type Config struct {
	CORSOrigins     []string
	RateLimit       int
	RateLimitWindow time.Duration
	SecureCookies   bool
	AdminDisabled   bool
	// TrustProxy takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable it behind a proxy that overwrites them.
	TrustProxy bool
	// StaticDir names the dashboard box. Empty disables the dashboard.
	StaticDir string
}

type API struct {
	store    *store.Store
	sessions *sessions.Store
	hub      *mercury.Server
	conf     Config
}

func New(st *store.Store, ss *sessions.Store, hub *mercury.Server, conf Config) *API {
	if len(conf.CORSOrigins) == 0 {
		conf.CORSOrigins = []string{"*"}
	}
	return &API{store: st, sessions: ss, hub: hub, conf: conf}
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDWithLogging())
	if a.conf.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(Instrument)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(a.conf.CORSOrigins))

	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(RateLimit(a.conf.RateLimit, a.conf.RateLimitWindow))
			a.authRoutes(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(a.requireUser)
			r.Route("/users", a.userRoutes)
			r.Route("/channels", a.channelRoutes)
			r.Route("/keys", a.keyRoutes)
		})
	})
	r.Route("/sse", a.sseRoutes)

	adminHandler := admin.Handler(a.hub, admin.Options{Disabled: a.conf.AdminDisabled})
	r.Handle("/admin", adminHandler)
	r.Handle("/admin/*", adminHandler)

	if a.conf.StaticDir != "" {
		r.NotFound(admin.StaticHandler(a.conf.StaticDir).ServeHTTP)
	}
	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// health reports whether the database answers and is fully migrated.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Health(r.Context()); err != nil {
		writeJSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok"})
}
