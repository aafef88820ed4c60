package server

import (
	"fmt"
	"log"
	"net/http"
)

// emit forwards a line to the registered log sink, if any.
func (s *Server) emit(line string) {
	if s.sink != nil {
		s.sink(line)
	}
}

// audit records a privileged action in the "who did what from where" shape
// expected by the control panel's activity view.
func (s *Server) audit(r *http.Request, email, action string) {
	line := fmt.Sprintf("Email: %s from IP: %s performed action: %s", email, clientIP(r), action)
	log.Printf("rid=%s %s", RequestIDFromContext(r.Context()), line)
	s.emit(line)
}
