// Package admin provides the HTML/JSON monitoring endpoints for a mercury
// broker, plus the handler serving the built dashboard.
package admin

import (
	"net/http"

	rice "github.com/GeertJohan/go.rice"
	"github.com/goccy/go-json"

	"github.com/mercury-pubsub/mercury"
	"github.com/mercury-pubsub/mercury/internal/logging"
)

// Options configures the admin endpoints.
type Options struct {
	// Disabled turns every admin endpoint into a 403.
	Disabled bool
}

// StatusPageHandler serves the static HTML status page.
func StatusPageHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// kinda ridiculous workaround for serving a single static file, sigh.
		box, err := rice.FindBox("views")
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("error opening rice.Box")
			http.Error(w, "500 status page unavailable", http.StatusInternalServerError)
			return
		}

		file, err := box.Open("admin.html")
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("could not open status page")
			http.Error(w, "500 status page unavailable", http.StatusInternalServerError)
			return
		}
		defer file.Close()

		fstat, err := file.Stat()
		if err != nil {
			http.Error(w, "500 status page unavailable", http.StatusInternalServerError)
			return
		}

		http.ServeContent(w, r, fstat.Name(), fstat.ModTime(), file)
	})
}

// StatusHandler serves the JSON status data, effectively the admin API
// endpoint.
func StatusHandler(s *mercury.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		b, err := json.MarshalIndent(s.Status(), "", "  ")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(b)
	})
}

// Handler routes /admin/ to the status page and /admin/status.json to the
// status data.
func Handler(s *mercury.Server, opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/admin/", StatusPageHandler())
	mux.Handle("/admin/status.json", StatusHandler(s))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.Disabled {
			http.Error(w, "403 admin endpoint disabled", http.StatusForbidden)
			return
		}
		mux.ServeHTTP(w, r)
	})
}
