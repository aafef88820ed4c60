package server

import "net/http"

// buildRoutes assembles the fixed route table once. Every path except "/"
// has exactly one handler; the handler itself rejects wrong methods with
// 405. "/" is the catch-all for static content and the diagnostic echo.
func (s *Server) buildRoutes() http.Handler {
	routes := map[string]http.HandlerFunc{
		"/register":           s.handleRegister,
		"/login":              s.handleLogin,
		"/logout":             s.handleLogout,
		"/getUserName":        s.handleGetUserName,
		"/listProjects":       s.handleListProjects,
		"/listFilesInProject": s.handleListFilesInProject,
		"/upload":             s.handleUpload,
		"/deleteFile":         s.handleDeleteFile,
		"/createProject":      s.handleCreateProject,
		"/deleteProject":      s.handleDeleteProject,
		"/checkFileExistence": s.handleCheckFileExistence,
	}

	mux := http.NewServeMux()
	for path, h := range routes {
		mux.Handle(path, h)
	}
	mux.HandleFunc("/", s.handleRoot)
	return mux
}
