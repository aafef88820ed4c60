package server

import (
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"project-host/internal/fsys"
	"project-host/internal/store"
)

// hashPassword generates a bcrypt hash of the password.
// Cost 12 is a good balance of security and performance.
func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyPassword compares a password with its hash.
func verifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// handleRegister handles POST /register: insert the user row and create the
// user's directory under the content root. Email is the unique identity key;
// the username names the directory, so it must be a safe path component.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	form, err := parseBody(r)
	if err != nil {
		sendText(w, http.StatusBadRequest, "Unreadable request body.")
		return
	}
	username, email, password := form["username"], form["email"], form["password"]
	if username == "" || email == "" || password == "" {
		sendText(w, http.StatusBadRequest, "Missing username, email, or password.")
		return
	}
	if err := fsys.CheckComponent(username); err != nil {
		sendText(w, http.StatusBadRequest, "Invalid username.")
		return
	}

	unlock := s.locks.Lock(userKey(email))
	defer unlock()

	ctx := r.Context()
	switch _, err := s.meta.FindUserByEmail(ctx, email); {
	case err == nil:
		sendText(w, http.StatusBadRequest, "Registration failed: User already exists.")
		return
	case !errors.Is(err, store.ErrNotFound):
		Error("register lookup failed", map[string]interface{}{"email": email}, err)
		sendText(w, http.StatusInternalServerError, "Database error.")
		return
	}

	hash, err := hashPassword(password)
	if err != nil {
		Error("password hash failed", nil, err)
		sendText(w, http.StatusInternalServerError, "Registration failed.")
		return
	}

	if _, err := s.meta.InsertUser(ctx, username, email, hash); err != nil {
		Error("register insert failed", map[string]interface{}{"email": email}, err)
		sendText(w, http.StatusInternalServerError, "Database error.")
		return
	}

	userDir, err := s.layout.UserDir(username)
	if err == nil {
		err = s.layout.EnsureDir(userDir)
	}
	if err != nil {
		Error("user directory create failed", map[string]interface{}{"user": username}, err)
		sendText(w, http.StatusInternalServerError, "Registration failed.")
		return
	}

	s.audit(r, email, "register")
	sendText(w, http.StatusOK, "success")
}

// handleLogin handles POST /login: verify the password hash for the email.
// No session is issued; credentials are checked per request.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	form, err := parseBody(r)
	if err != nil {
		sendText(w, http.StatusBadRequest, "Unreadable request body.")
		return
	}
	email, password := form["email"], form["password"]
	if email == "" || password == "" {
		sendText(w, http.StatusBadRequest, "Missing email or password.")
		return
	}

	user, err := s.meta.FindUserByEmail(r.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		sendText(w, http.StatusUnauthorized, "Invalid email or password.")
		return
	}
	if err != nil {
		Error("login lookup failed", map[string]interface{}{"email": email}, err)
		sendText(w, http.StatusInternalServerError, "Database error.")
		return
	}
	if !verifyPassword(password, user.PasswordHash) {
		sendText(w, http.StatusUnauthorized, "Invalid email or password.")
		return
	}

	s.audit(r, email, "login")
	sendText(w, http.StatusOK, "success")
}

// handleLogout handles /logout. There is no session state to discard; the
// operation exists for the audit trail and always succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	username := queryParams(r)["username"]
	s.audit(r, username, "logout")
	sendText(w, http.StatusOK, "Logout successful")
}

// handleGetUserName handles GET /getUserName?email=...: resolve the display
// name for an email address.
func (s *Server) handleGetUserName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	email := queryParams(r)["email"]
	if email == "" {
		sendText(w, http.StatusBadRequest, "Missing email parameter.")
		return
	}

	user, err := s.meta.FindUserByEmail(r.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		sendText(w, http.StatusNotFound, "User not found.")
		return
	}
	if err != nil {
		Error("getUserName lookup failed", map[string]interface{}{"email": email}, err)
		sendText(w, http.StatusInternalServerError, "Database error.")
		return
	}

	sendText(w, http.StatusOK, user.Name)
}
