package http

import (
	"bytes"
	"net/http"

	"budget/internal/core"
	applog "budget/internal/log"
	appweb "budget/web"
)

// rootAssets are served from the static FS at the site root, where the
// cache service manifest expects them.
var rootAssets = map[string]string{
	"/manifest.json":    "application/manifest+json",
	"/icon-192x192.png": "image/png",
	"/icon-512x512.png": "image/png",
	"/favicon.ico":      "image/x-icon",
}

func rootAsset(path, contentType string) http.Handler {
	name := "static" + path
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeFileFS(w, r, appweb.StaticFS, name)
	})
}

// indexData only carries values that do not change at runtime. The page is
// precached and served cache-first, so live state is loaded by app.js from
// the API.
type indexData struct {
	Currencies      []core.Currency
	DefaultCategory string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.templates == nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Templates not loaded", applog.FieldPath, r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	s.render(w, r, "index.html", indexData{
		Currencies:      core.DefaultRates.Currencies(),
		DefaultCategory: core.DefaultCategory,
	})
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	s.render(w, r, "offline.html", nil)
}

// render executes into a buffer so a template error never leaves a
// half-written page behind.
func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		ctx := r.Context()
		applog.FromContext(ctx).ErrorContext(ctx, "Template execution failed",
			applog.FieldComponent, applog.ComponentTemplate,
			applog.FieldOperation, applog.OpRender,
			applog.FieldError, err,
			"template", name)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.Method != http.MethodHead {
		_, _ = w.Write(buf.Bytes())
	}
}
