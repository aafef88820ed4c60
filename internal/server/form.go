package server

import (
	"io"
	"net/http"
	"net/url"
	"strings"
)

// parseParams splits "k=v&k2=v2" input (query string or form-encoded body)
// into a map. A pair is kept only when splitting on "=" yields exactly two
// parts, so values holding a literal "=" are dropped; both halves are
// percent-decoded and pairs that fail decoding are dropped too.
func parseParams(data string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(data, "&") {
		kv := strings.Split(pair, "=")
		if len(kv) != 2 {
			continue
		}
		key, kerr := url.QueryUnescape(kv[0])
		value, verr := url.QueryUnescape(kv[1])
		if kerr != nil || verr != nil {
			continue
		}
		params[key] = value
	}
	return params
}

// parseBody reads the whole request body and parses it as form data.
func parseBody(r *http.Request) (map[string]string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return parseParams(string(body)), nil
}

// queryParams parses the raw query string of the request.
func queryParams(r *http.Request) map[string]string {
	return parseParams(r.URL.RawQuery)
}

// sendText writes a plain-text response with the given status.
func sendText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

// sendHTML writes an HTML response with the given status.
func sendHTML(w http.ResponseWriter, status int, markup string) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(markup))
}

// methodNotAllowed writes a bare 405, no body.
func methodNotAllowed(w http.ResponseWriter) {
	w.WriteHeader(http.StatusMethodNotAllowed)
}
