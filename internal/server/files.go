package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"project-host/internal/store"
)

const mib = 1024 * 1024

// handleUpload handles POST /upload: stream the raw request body to disk,
// then upsert the metadata row. The stored size is the byte count actually
// written; the client-supplied fileSize is only checked against it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	params := queryParams(r)
	username, project, filename, email := params["username"], params["project"], params["filename"], params["email"]
	if username == "" || project == "" || filename == "" || email == "" {
		sendText(w, http.StatusBadRequest, "Missing username, project, filename, or email parameter.")
		return
	}
	claimedSize, err := strconv.ParseInt(params["fileSize"], 10, 64)
	if err != nil || claimedSize < 0 {
		sendText(w, http.StatusBadRequest, "Missing or invalid fileSize parameter.")
		return
	}

	filePath, err := s.layout.FilePath(username, project, filename)
	if err != nil {
		sendText(w, http.StatusBadRequest, "Invalid username, project, or filename.")
		return
	}

	owner, err := s.meta.FindUserByName(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		sendText(w, http.StatusNotFound, "User not found.")
		return
	}
	if err != nil {
		Error("upload owner lookup failed", map[string]interface{}{"user": username}, err)
		sendText(w, http.StatusInternalServerError, "Database error.")
		return
	}

	unlock := s.locks.Lock(projectKey(username, project))
	defer unlock()

	projectDir, _ := s.layout.ProjectDir(username, project)
	if err := s.layout.EnsureDir(projectDir); err != nil {
		Error("upload directory create failed",
			map[string]interface{}{"user": username, "project": project}, err)
		sendText(w, http.StatusInternalServerError, "File upload failed.")
		return
	}

	written, err := s.layout.WriteStream(filePath, r.Body)
	if err != nil {
		Error("upload write failed", map[string]interface{}{"path": filePath}, err)
		sendText(w, http.StatusInternalServerError, "File upload failed.")
		return
	}
	if written != claimedSize {
		Warn("upload size mismatch", map[string]interface{}{
			"path": filePath, "claimed": claimedSize, "written": written,
		})
	}

	if err := s.meta.UpsertFile(r.Context(), owner.ID, project, filename, written); err != nil {
		// Bytes are on disk but the row is stale; the client must re-check.
		Error("upload metadata upsert failed", map[string]interface{}{"path": filePath}, err)
		sendText(w, http.StatusInternalServerError, "Database error.")
		return
	}

	if s.mirror != nil {
		if err := s.mirror.PutFile(r.Context(), mirrorKey(username, project, filename), filePath); err != nil {
			Warn("mirror upload failed", map[string]interface{}{"path": filePath, "err": err.Error()})
		}
	}

	s.audit(r, email, "upload "+filename+" to "+project)
	sendText(w, http.StatusOK, "File uploaded successfully!")
}

// handleListFilesInProject handles GET /listFilesInProject: fixed-width
// "name size age" rows from the metadata store, comma-joined.
func (s *Server) handleListFilesInProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	params := queryParams(r)
	username, projectName := params["username"], params["projectName"]
	if username == "" || projectName == "" {
		sendText(w, http.StatusBadRequest, "Missing username or projectName parameter.")
		return
	}

	owner, err := s.meta.FindUserByName(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		sendText(w, http.StatusNotFound, "User not found.")
		return
	}
	if err != nil {
		Error("list files owner lookup failed", map[string]interface{}{"user": username}, err)
		sendText(w, http.StatusInternalServerError, "Database error.")
		return
	}

	files, err := s.meta.ListProjectFiles(r.Context(), owner.ID, projectName)
	if err != nil {
		Error("list files query failed",
			map[string]interface{}{"user": username, "project": projectName}, err)
		sendText(w, http.StatusInternalServerError, "Database error.")
		return
	}
	if len(files) == 0 {
		sendText(w, http.StatusNotFound, "No files found.")
		return
	}

	now := time.Now()
	rows := make([]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, fmt.Sprintf("%-30s %-15s %20s",
			f.Name, formatFileSize(f.SizeBytes), formatElapsed(now.Sub(f.UploadedAt))))
	}
	sendText(w, http.StatusOK, strings.Join(rows, ","))
}

// handleCheckFileExistence handles GET /checkFileExistence: reports whether
// a metadata row exists for the (user, project, filename) triple.
func (s *Server) handleCheckFileExistence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	params := queryParams(r)
	username, project, filename := params["username"], params["project"], params["filename"]
	if username == "" || project == "" || filename == "" {
		sendText(w, http.StatusBadRequest, "Missing username, project, or filename parameter.")
		return
	}

	owner, err := s.meta.FindUserByName(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		// No user row means no file row can exist.
		sendText(w, http.StatusOK, "not exists")
		return
	}
	if err != nil {
		Error("existence owner lookup failed", map[string]interface{}{"user": username}, err)
		sendText(w, http.StatusInternalServerError, "Database error.")
		return
	}

	exists, err := s.meta.FileExists(r.Context(), owner.ID, project, filename)
	if err != nil {
		Error("existence query failed", map[string]interface{}{"user": username}, err)
		sendText(w, http.StatusInternalServerError, "Database error.")
		return
	}
	if exists {
		sendText(w, http.StatusOK, "exists")
	} else {
		sendText(w, http.StatusOK, "not exists")
	}
}

// handleDeleteFile handles DELETE /deleteFile: remove the bytes from disk,
// then the metadata row. A store failure after the disk delete leaves the
// two out of step; the client re-checks via /checkFileExistence.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}

	params := queryParams(r)
	username, projectName, fileName, email := params["username"], params["projectName"], params["fileName"], params["email"]
	if username == "" || projectName == "" || fileName == "" || email == "" {
		sendText(w, http.StatusBadRequest, "Missing username, projectName, fileName, or email parameter.")
		return
	}

	filePath, err := s.layout.FilePath(username, projectName, fileName)
	if err != nil {
		sendText(w, http.StatusBadRequest, "Invalid username, projectName, or fileName.")
		return
	}

	unlock := s.locks.Lock(projectKey(username, projectName))
	defer unlock()

	if !s.layout.FileExists(filePath) {
		sendText(w, http.StatusNotFound, "File not found.")
		return
	}
	if err := s.layout.RemoveFile(filePath); err != nil {
		Error("file delete failed", map[string]interface{}{"path": filePath}, err)
		sendText(w, http.StatusInternalServerError, "Failed to delete file.")
		return
	}

	removedRow := false
	owner, err := s.meta.FindUserByName(r.Context(), username)
	if err == nil {
		removedRow, err = s.meta.DeleteFile(r.Context(), owner.ID, projectName, fileName)
	}
	if err != nil || !removedRow {
		Error("file row delete failed",
			map[string]interface{}{"user": username, "project": projectName, "file": fileName}, err)
		sendText(w, http.StatusInternalServerError, "Failed to delete file from database.")
		return
	}

	if s.mirror != nil {
		if err := s.mirror.Remove(r.Context(), mirrorKey(username, projectName, fileName)); err != nil {
			Warn("mirror removal failed", map[string]interface{}{"path": filePath, "err": err.Error()})
		}
	}

	s.audit(r, email, "delete "+fileName+" from "+projectName)
	sendText(w, http.StatusOK, "File deleted successfully.")
}

// formatFileSize renders a byte count in binary units, rounded down.
func formatFileSize(sizeBytes int64) string {
	switch {
	case sizeBytes >= mib:
		return fmt.Sprintf("%d MiB", sizeBytes/mib)
	case sizeBytes >= 1024:
		return fmt.Sprintf("%d KiB", sizeBytes/1024)
	default:
		return fmt.Sprintf("%d bytes", sizeBytes)
	}
}

// formatElapsed buckets an elapsed duration into the coarsest nonzero unit.
// Finer units are dropped entirely: 1h1m1s reads "1 hours ago".
func formatElapsed(d time.Duration) string {
	days := int64(d / (24 * time.Hour))
	hours := int64(d/time.Hour) % 24
	minutes := int64(d/time.Minute) % 60
	seconds := int64(d/time.Second) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%d days ago", days)
	case hours > 0:
		return fmt.Sprintf("%d hours ago", hours)
	case minutes > 0:
		return fmt.Sprintf("%d minutes ago", minutes)
	default:
		return fmt.Sprintf("%d seconds ago", seconds)
	}
}
