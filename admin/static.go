package admin

import (
	"net/http"
	"path"
	"strings"

	rice "github.com/GeertJohan/go.rice"

	"github.com/mercury-pubsub/mercury/internal/logging"
)

// boxLocator finds the dashboard bundled into the binary first, then next to
// the working directory.
var boxLocator = rice.Config{
	LocateOrder: []rice.LocateMethod{
		rice.LocateEmbedded,
		rice.LocateAppended,
		rice.LocateWorkingDirectory,
	},
}

type staticHandler struct {
	box *rice.Box
}

// StaticHandler serves the exported dashboard found in the box named dir.
// A request for /foo is answered by foo, foo.html or foo/index.html, in that
// order. Anything else gets 404.html with a 404 status.
func StaticHandler(dir string) http.Handler {
	box, err := boxLocator.FindBox(dir)
	if err != nil {
		logging.Warn().Err(err).Str("dir", dir).Msg("dashboard assets not found")
		return http.NotFoundHandler()
	}
	return &staticHandler{box: box}
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "405 method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	for _, candidate := range []string{name, name + ".html", path.Join(name, "index.html")} {
		if candidate == "" || candidate == ".html" {
			continue
		}
		if h.serveFile(w, r, candidate) {
			return
		}
	}

	page, err := h.box.Bytes("404.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write(page)
}

// serveFile writes name if it exists and is a regular file.
func (h *staticHandler) serveFile(w http.ResponseWriter, r *http.Request, name string) bool {
	file, err := h.box.Open(name)
	if err != nil {
		return false
	}
	defer file.Close()

	fstat, err := file.Stat()
	if err != nil || fstat.IsDir() {
		return false
	}
	http.ServeContent(w, r, fstat.Name(), fstat.ModTime(), file)
	return true
}
