package ui

import (
	"bytes"
	"html"
	"io"
	"log"
	"net/http"
	"path"
	"path/filepath"
	"strings"
)

// Handler serves the embedded status page.
//   - Serves static assets when present
//   - Falls back to index.html for unknown paths
type Handler struct {
	root  http.FileSystem
	title string
}

// NewHandler returns a status page handler without a title override.
func NewHandler(root http.FileSystem) *Handler {
	return NewHandlerWithTitle(root, "")
}

// NewHandlerWithTitle returns a handler that injects the provided title into
// index.html responses.
func NewHandlerWithTitle(root http.FileSystem, title string) *Handler {
	return &Handler{root: root, title: strings.TrimSpace(title)}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqPath := path.Clean(r.URL.Path)
	if reqPath == "/" {
		reqPath = "/index.html"
	}

	if h.serveIfExists(w, strings.TrimPrefix(reqPath, "/")) {
		return
	}
	if h.serveIfExists(w, "index.html") {
		return
	}
	http.NotFound(w, r)
}

func (h *Handler) serveIfExists(w http.ResponseWriter, rel string) bool {
	f, err := h.root.Open(rel)
	if err != nil {
		return false
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(rel)); ext {
	case ".js":
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	case ".css":
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
	case ".html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	case ".json":
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	case ".svg":
		w.Header().Set("Content-Type", "image/svg+xml; charset=utf-8")
	case ".ico":
		w.Header().Set("Content-Type", "image/x-icon")
	}

	// The page reflects live daemon state, so HTML must never be cached.
	if strings.HasSuffix(strings.ToLower(rel), ".html") {
		w.Header().Set("Cache-Control", "no-store")
	}

	if strings.EqualFold(rel, "index.html") && h.title != "" {
		data, err := io.ReadAll(f)
		if err != nil {
			log.Printf("ui: failed to read %s: %v", rel, err)
			return false
		}
		if _, err := w.Write(injectTitle(data, h.title)); err != nil {
			log.Printf("ui: failed to write %s: %v", rel, err)
		}
		return true
	}

	if _, err := io.Copy(w, f); err != nil {
		log.Printf("ui: failed to stream %s: %v", rel, err)
	}
	return true
}

func injectTitle(data []byte, title string) []byte {
	if len(data) == 0 {
		return data
	}
	titleTag := []byte("<title>" + html.EscapeString(title) + "</title>")

	needle := []byte("<title>OpenClaw Launcher</title>")
	if bytes.Contains(data, needle) {
		return bytes.Replace(data, needle, titleTag, 1)
	}
	if bytes.Contains(data, []byte("<head>")) {
		replacement := append([]byte("<head>"), titleTag...)
		return bytes.Replace(data, []byte("<head>"), replacement, 1)
	}
	return append(titleTag, data...)
}
