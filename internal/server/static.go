package server

import (
	"net/http"
	"path/filepath"
	"strings"
)

// mimeTypes is the fixed suffix table for served site content. Anything else
// is delivered as a generic binary stream.
var mimeTypes = map[string]string{
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
}

const fallbackMIME = "application/octet-stream"

func mimeTypeFor(path string) string {
	if mt, ok := mimeTypes[filepath.Ext(path)]; ok {
		return mt
	}
	return fallbackMIME
}

// handleRoot is the catch-all for "/": GET serves site content or the
// diagnostic page, POST feeds the diagnostic echo, everything else is 405.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleStaticGet(w, r)
	case http.MethodPost:
		s.handleDiagnosticPost(w, r)
	default:
		methodNotAllowed(w)
	}
}

// handleStaticGet resolves the URL path under the content root and serves
// the file. HTML gets its action="host" placeholder rewritten to the
// server's current base URL so shipped forms self-target without hardcoding.
func (s *Server) handleStaticGet(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/receivedData" {
		sendHTML(w, http.StatusOK, s.received.RenderHTML())
		return
	}

	filePath, err := s.layout.ContentPath(r.URL.Path)
	if err != nil {
		sendHTML(w, http.StatusNotFound, "<h1>404 Not Found</h1>")
		return
	}
	if !s.layout.FileExists(filePath) {
		sendHTML(w, http.StatusNotFound, "<h1>404 Not Found</h1>")
		return
	}

	data, err := s.layout.ReadFile(filePath)
	if err != nil {
		Error("static read failed", map[string]interface{}{"path": filePath}, err)
		sendText(w, http.StatusInternalServerError, "Failed to read file.")
		return
	}

	mimeType := mimeTypeFor(filePath)
	if mimeType == "text/html" {
		data = []byte(strings.ReplaceAll(string(data),
			`action="host"`, `action="`+s.HostURL()+`"`))
	}

	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
