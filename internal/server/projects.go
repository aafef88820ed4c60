package server

import (
	"errors"
	"net/http"
	"strings"

	"project-host/internal/store"
)

// Project existence is decided by the directory on disk: createProject
// conflicts when the directory is present, deleteProject 404s when it is
// absent. Metadata rows follow the directory, never the other way around.

// handleCreateProject handles POST /createProject: eagerly create the
// project directory, parents included.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	form, err := parseBody(r)
	if err != nil {
		sendText(w, http.StatusBadRequest, "Unreadable request body.")
		return
	}
	username, projectName, email := form["username"], form["projectName"], form["email"]
	if username == "" || projectName == "" || email == "" {
		sendText(w, http.StatusBadRequest, "Missing username, projectName, or email.")
		return
	}

	projectDir, err := s.layout.ProjectDir(username, projectName)
	if err != nil {
		sendText(w, http.StatusBadRequest, "Invalid username or projectName.")
		return
	}

	unlock := s.locks.Lock(projectKey(username, projectName))
	defer unlock()

	if s.layout.DirExists(projectDir) {
		sendText(w, http.StatusConflict, "Project already exists.")
		return
	}
	if err := s.layout.EnsureDir(projectDir); err != nil {
		Error("project directory create failed",
			map[string]interface{}{"user": username, "project": projectName}, err)
		sendText(w, http.StatusInternalServerError, "Failed to create project.")
		return
	}

	s.audit(r, email, "create project "+projectName)
	sendText(w, http.StatusOK, "Project created successfully!")
}

// handleListProjects handles GET /listProjects?username=...: the comma-joined
// names of the user's project directories.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	username := queryParams(r)["username"]
	if username == "" {
		sendText(w, http.StatusBadRequest, "Missing username parameter.")
		return
	}

	userDir, err := s.layout.UserDir(username)
	if err != nil {
		sendText(w, http.StatusBadRequest, "Invalid username.")
		return
	}
	if !s.layout.DirExists(userDir) {
		sendText(w, http.StatusNotFound, "User directory not found.")
		return
	}

	names, err := s.layout.ListSubdirs(userDir)
	if err != nil {
		Error("project listing failed", map[string]interface{}{"user": username}, err)
		sendText(w, http.StatusInternalServerError, "Failed to list projects.")
		return
	}

	sendText(w, http.StatusOK, strings.Join(names, ","))
}

// handleDeleteProject handles DELETE /deleteProject: purge the project's
// metadata rows, then remove the directory tree. A store failure leaves the
// directory in place (fails closed).
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}

	params := queryParams(r)
	username, projectName, email := params["username"], params["projectName"], params["email"]
	if username == "" || projectName == "" || email == "" {
		sendText(w, http.StatusBadRequest, "Missing username, projectName, or email parameter.")
		return
	}

	projectDir, err := s.layout.ProjectDir(username, projectName)
	if err != nil {
		sendText(w, http.StatusBadRequest, "Invalid username or projectName.")
		return
	}

	unlock := s.locks.Lock(projectKey(username, projectName))
	defer unlock()

	if !s.layout.DirExists(projectDir) {
		sendText(w, http.StatusNotFound, "Project not found on the server.")
		return
	}

	ctx := r.Context()
	owner, err := s.meta.FindUserByName(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// No user row, so no file rows to purge; the directory still goes.
	case err != nil:
		Error("delete project owner lookup failed",
			map[string]interface{}{"user": username, "project": projectName}, err)
		sendText(w, http.StatusInternalServerError, "Database error.")
		return
	default:
		if _, err := s.meta.DeleteProjectFiles(ctx, owner.ID, projectName); err != nil {
			Error("delete project rows failed",
				map[string]interface{}{"user": username, "project": projectName}, err)
			sendText(w, http.StatusInternalServerError, "Failed to delete project in database.")
			return
		}
	}

	if _, err := s.layout.RemoveTree(projectDir); err != nil {
		Error("delete project tree failed",
			map[string]interface{}{"user": username, "project": projectName}, err)
		sendText(w, http.StatusInternalServerError, "Failed to delete project files.")
		return
	}

	if s.mirror != nil {
		if err := s.mirror.RemovePrefix(ctx, mirrorKey(username, projectName, "")); err != nil {
			Warn("mirror prefix removal failed",
				map[string]interface{}{"user": username, "project": projectName, "err": err.Error()})
		}
	}

	s.audit(r, email, "delete project "+projectName)
	sendText(w, http.StatusOK, "Project deleted successfully.")
}
