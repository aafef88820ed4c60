package server

import (
	"fmt"
	"html"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// receivedLog is the in-memory diagnostic record of raw POST submissions to
// "/". It lives for the process only and is appended to from concurrent
// request workers.
type receivedLog struct {
	mu      sync.Mutex
	entries []map[string]string
}

func newReceivedLog() *receivedLog {
	return &receivedLog{}
}

func (l *receivedLog) Append(entry map[string]string) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

func (l *receivedLog) Snapshot() []map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]map[string]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// renderEntry formats one submission as "{k=v, k2=v2}" with sorted keys.
func renderEntry(entry map[string]string) string {
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+entry[k])
	}
	return "{" + strings.Join(pairs, ", ") + "}"
}

// RenderHTML synthesizes the /receivedData diagnostic page.
func (l *receivedLog) RenderHTML() string {
	var b strings.Builder
	b.WriteString("<h1>Received POST Data</h1><ul>")
	for _, entry := range l.Snapshot() {
		b.WriteString("<li>")
		b.WriteString(html.EscapeString(renderEntry(entry)))
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return b.String()
}

// handleDiagnosticPost handles POST /: parse the form body, remember it, and
// echo the parsed fields back.
func (s *Server) handleDiagnosticPost(w http.ResponseWriter, r *http.Request) {
	form, err := parseBody(r)
	if err != nil {
		sendText(w, http.StatusBadRequest, "Unreadable request body.")
		return
	}
	s.received.Append(form)
	sendText(w, http.StatusOK, fmt.Sprintf("Received POST data: %s", renderEntry(form)))
}
