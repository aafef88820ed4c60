package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"project-host/internal/store"
)

// memStore is an in-memory Metadata implementation for handler tests.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	users  []store.User
	files  map[string]store.FileInfo // userID/project/name

	failDeleteFile error // injected fault
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string]store.FileInfo)}
}

func fileKey(userID int64, project, name string) string {
	return fmt.Sprintf("%d/%s/%s", userID, project, name)
}

func (m *memStore) FindUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) FindUserByName(_ context.Context, name string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Name == name {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) InsertUser(_ context.Context, name, email, passwordHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return 0, fmt.Errorf("duplicate email %q", email)
		}
	}
	m.nextID++
	m.users = append(m.users, store.User{
		ID: m.nextID, Name: name, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now(),
	})
	return m.nextID, nil
}

func (m *memStore) UpsertFile(_ context.Context, userID int64, project, name string, sizeBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[fileKey(userID, project, name)] = store.FileInfo{
		Name: name, SizeBytes: sizeBytes, UploadedAt: time.Now(),
	}
	return nil
}

func (m *memStore) DeleteFile(_ context.Context, userID int64, project, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeleteFile != nil {
		return false, m.failDeleteFile
	}
	key := fileKey(userID, project, name)
	if _, ok := m.files[key]; !ok {
		return false, nil
	}
	delete(m.files, key)
	return true, nil
}

func (m *memStore) DeleteProjectFiles(_ context.Context, userID int64, project string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := fmt.Sprintf("%d/%s/", userID, project)
	var n int64
	for key := range m.files {
		if strings.HasPrefix(key, prefix) {
			delete(m.files, key)
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountProjectFiles(_ context.Context, userID int64, project string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := fmt.Sprintf("%d/%s/", userID, project)
	var n int64
	for key := range m.files {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) FileExists(_ context.Context, userID int64, project, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[fileKey(userID, project, name)]
	return ok, nil
}

func (m *memStore) ListProjectFiles(_ context.Context, userID int64, project string) ([]store.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := fmt.Sprintf("%d/%s/", userID, project)
	var files []store.FileInfo
	for key, f := range m.files {
		if strings.HasPrefix(key, prefix) {
			files = append(files, f)
		}
	}
	return files, nil
}

var _ Metadata = (*memStore)(nil)

func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()
	ms := newMemStore()
	s := New(Config{
		Host:        "localhost",
		Port:        8000,
		ContentRoot: t.TempDir(),
		Store:       ms,
	})
	return s, ms
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestResourceLifecycleScenario(t *testing.T) {
	s, ms := newTestServer(t)

	// Register.
	rec := do(s, http.MethodPost, "/register", "username=alice&email=a%40x.com&password=p")
	if rec.Code != http.StatusOK || rec.Body.String() != "success" {
		t.Fatalf("register = %d %q, want 200 success", rec.Code, rec.Body.String())
	}
	userDir := filepath.Join(s.layout.Root, "alice")
	if _, err := os.Stat(userDir); err != nil {
		t.Fatalf("user directory not created: %v", err)
	}

	// Duplicate register leaves the original row untouched.
	rec = do(s, http.MethodPost, "/register", "username=alice2&email=a%40x.com&password=q")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate register = %d, want 400", rec.Code)
	}
	if u, err := ms.FindUserByEmail(context.Background(), "a@x.com"); err != nil || u.Name != "alice" {
		t.Fatalf("original user row changed: %+v %v", u, err)
	}

	// Login round trip.
	rec = do(s, http.MethodPost, "/login", "email=a%40x.com&password=p")
	if rec.Code != http.StatusOK || rec.Body.String() != "success" {
		t.Fatalf("login = %d %q, want 200 success", rec.Code, rec.Body.String())
	}
	rec = do(s, http.MethodPost, "/login", "email=a%40x.com&password=wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login = %d, want 401", rec.Code)
	}

	// getUserName resolves the display name.
	rec = do(s, http.MethodGet, "/getUserName?email=a%40x.com", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "alice" {
		t.Fatalf("getUserName = %d %q, want 200 alice", rec.Code, rec.Body.String())
	}

	// Create project, then conflict on the second attempt.
	rec = do(s, http.MethodPost, "/createProject", "username=alice&projectName=proj1&email=a%40x.com")
	if rec.Code != http.StatusOK {
		t.Fatalf("createProject = %d %q, want 200", rec.Code, rec.Body.String())
	}
	rec = do(s, http.MethodPost, "/createProject", "username=alice&projectName=proj1&email=a%40x.com")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second createProject = %d, want 409", rec.Code)
	}

	rec = do(s, http.MethodGet, "/listProjects?username=alice", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "proj1" {
		t.Fatalf("listProjects = %d %q, want 200 proj1", rec.Code, rec.Body.String())
	}

	// Upload.
	rec = do(s, http.MethodPost,
		"/upload?username=alice&project=proj1&filename=f.txt&email=a%40x.com&fileSize=10", "0123456789")
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d %q, want 200", rec.Code, rec.Body.String())
	}
	onDisk, err := os.ReadFile(filepath.Join(s.layout.Root, "alice", "proj1", "f.txt"))
	if err != nil || string(onDisk) != "0123456789" {
		t.Fatalf("uploaded bytes = %q, %v", onDisk, err)
	}

	rec = do(s, http.MethodGet, "/checkFileExistence?username=alice&project=proj1&filename=f.txt", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "exists" {
		t.Fatalf("checkFileExistence = %d %q, want 200 exists", rec.Code, rec.Body.String())
	}

	rec = do(s, http.MethodGet, "/listFilesInProject?username=alice&projectName=proj1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("listFilesInProject = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "f.txt") || !strings.Contains(rec.Body.String(), "10 bytes") {
		t.Fatalf("listFilesInProject body = %q, want f.txt with 10 bytes", rec.Body.String())
	}

	// Delete the file, then the project.
	rec = do(s, http.MethodDelete,
		"/deleteFile?username=alice&projectName=proj1&fileName=f.txt&email=a%40x.com", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("deleteFile = %d %q, want 200", rec.Code, rec.Body.String())
	}
	rec = do(s, http.MethodGet, "/checkFileExistence?username=alice&project=proj1&filename=f.txt", "")
	if rec.Body.String() != "not exists" {
		t.Fatalf("after delete, existence = %q, want not exists", rec.Body.String())
	}

	rec = do(s, http.MethodDelete, "/deleteProject?username=alice&projectName=proj1&email=a%40x.com", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("deleteProject = %d %q, want 200", rec.Code, rec.Body.String())
	}
	rec = do(s, http.MethodGet, "/listProjects?username=alice", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "" {
		t.Fatalf("listProjects after delete = %d %q, want 200 empty", rec.Code, rec.Body.String())
	}
}

func TestUploadOverwritesInsteadOfDuplicating(t *testing.T) {
	s, ms := newTestServer(t)
	do(s, http.MethodPost, "/register", "username=bob&email=b%40x.com&password=p")
	do(s, http.MethodPost, "/createProject", "username=bob&projectName=p1&email=b%40x.com")

	rec := do(s, http.MethodPost, "/upload?username=bob&project=p1&filename=f.txt&email=b%40x.com&fileSize=5", "first")
	if rec.Code != http.StatusOK {
		t.Fatalf("first upload = %d", rec.Code)
	}
	rec = do(s, http.MethodPost, "/upload?username=bob&project=p1&filename=f.txt&email=b%40x.com&fileSize=2", "v2")
	if rec.Code != http.StatusOK {
		t.Fatalf("second upload = %d", rec.Code)
	}

	u, _ := ms.FindUserByName(context.Background(), "bob")
	files, _ := ms.ListProjectFiles(context.Background(), u.ID, "p1")
	if len(files) != 1 {
		t.Fatalf("got %d metadata rows, want 1", len(files))
	}
	if files[0].SizeBytes != 2 {
		t.Errorf("row size = %d, want 2", files[0].SizeBytes)
	}
	onDisk, _ := os.ReadFile(filepath.Join(s.layout.Root, "bob", "p1", "f.txt"))
	if string(onDisk) != "v2" {
		t.Errorf("disk content = %q, want v2", onDisk)
	}
}

func TestUploadStoresServerCountedSize(t *testing.T) {
	s, ms := newTestServer(t)
	do(s, http.MethodPost, "/register", "username=bob&email=b%40x.com&password=p")

	// Client claims 999 bytes but sends 4; the row gets the real count.
	rec := do(s, http.MethodPost, "/upload?username=bob&project=p1&filename=f.txt&email=b%40x.com&fileSize=999", "abcd")
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d", rec.Code)
	}
	u, _ := ms.FindUserByName(context.Background(), "bob")
	files, _ := ms.ListProjectFiles(context.Background(), u.ID, "p1")
	if len(files) != 1 || files[0].SizeBytes != 4 {
		t.Fatalf("stored rows = %+v, want one row of 4 bytes", files)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s, _ := newTestServer(t)
	do(s, http.MethodPost, "/register", "username=bob&email=b%40x.com&password=p")

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"project dotdot", http.MethodPost, "/createProject", "username=bob&projectName=..&email=b%40x.com"},
		{"project slash", http.MethodPost, "/createProject", "username=bob&projectName=a%2Fb&email=b%40x.com"},
		{"upload traversal filename", http.MethodPost, "/upload?username=bob&project=p1&filename=..%2Fevil&email=b%40x.com&fileSize=1", "x"},
		{"delete traversal", http.MethodDelete, "/deleteFile?username=bob&projectName=p1&fileName=..&email=b%40x.com", ""},
		{"username traversal", http.MethodGet, "/listProjects?username=..%2F..", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, tt.method, tt.target, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("%s %s = %d, want 400", tt.method, tt.target, rec.Code)
			}
		})
	}
}

func TestConcurrentCreateProject(t *testing.T) {
	s, _ := newTestServer(t)
	do(s, http.MethodPost, "/register", "username=race&email=r%40x.com&password=p")

	const workers = 8
	codes := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := do(s, http.MethodPost, "/createProject", "username=race&projectName=only&email=r%40x.com")
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	var created, conflicted int
	for code := range codes {
		switch code {
		case http.StatusOK:
			created++
		case http.StatusConflict:
			conflicted++
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if created != 1 {
		t.Errorf("%d creations succeeded, want exactly 1", created)
	}
	if conflicted != workers-1 {
		t.Errorf("%d conflicts, want %d", conflicted, workers-1)
	}
}

func TestDeleteFileStoreFailureLeavesDiskRemoved(t *testing.T) {
	s, ms := newTestServer(t)
	do(s, http.MethodPost, "/register", "username=bob&email=b%40x.com&password=p")
	do(s, http.MethodPost, "/upload?username=bob&project=p1&filename=f.txt&email=b%40x.com&fileSize=4", "data")

	ms.failDeleteFile = fmt.Errorf("store down")
	rec := do(s, http.MethodDelete, "/deleteFile?username=bob&projectName=p1&fileName=f.txt&email=b%40x.com", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("deleteFile with failing store = %d, want 500", rec.Code)
	}
	// The bytes are gone even though the row remains: the documented
	// inconsistent state the client must re-check.
	if _, err := os.Stat(filepath.Join(s.layout.Root, "bob", "p1", "f.txt")); !os.IsNotExist(err) {
		t.Errorf("disk file still present after 500 delete: %v", err)
	}
}

func TestDeleteProjectStoreFailureKeepsDirectory(t *testing.T) {
	s, ms := newTestServer(t)
	do(s, http.MethodPost, "/register", "username=bob&email=b%40x.com&password=p")
	do(s, http.MethodPost, "/createProject", "username=bob&projectName=p1&email=b%40x.com")
	do(s, http.MethodPost, "/upload?username=bob&project=p1&filename=f.txt&email=b%40x.com&fileSize=4", "data")

	// Wrap the store so the project-row purge fails.
	s.meta = &failingProjectStore{Metadata: ms}

	rec := do(s, http.MethodDelete, "/deleteProject?username=bob&projectName=p1&email=b%40x.com", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("deleteProject with failing store = %d, want 500", rec.Code)
	}
	if _, err := os.Stat(filepath.Join(s.layout.Root, "bob", "p1")); err != nil {
		t.Errorf("project directory removed despite store failure: %v", err)
	}
}

type failingProjectStore struct {
	Metadata
}

func (f *failingProjectStore) DeleteProjectFiles(context.Context, int64, string) (int64, error) {
	return 0, fmt.Errorf("store down")
}

func TestMethodMismatchReturns405(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/register"},
		{http.MethodGet, "/login"},
		{http.MethodPost, "/getUserName"},
		{http.MethodDelete, "/listProjects"},
		{http.MethodGet, "/upload"},
		{http.MethodPost, "/deleteFile"},
		{http.MethodGet, "/createProject"},
		{http.MethodPost, "/deleteProject"},
		{http.MethodPut, "/"},
	}

	for _, tt := range tests {
		rec := do(s, tt.method, tt.target, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", tt.method, tt.target, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("%s %s carried a body: %q", tt.method, tt.target, rec.Body.String())
		}
	}
}

func TestListFilesMissingUserAndEmptyProject(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodGet, "/listFilesInProject?username=ghost&projectName=p1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user = %d, want 404", rec.Code)
	}

	do(s, http.MethodPost, "/register", "username=bob&email=b%40x.com&password=p")
	rec = do(s, http.MethodGet, "/listFilesInProject?username=bob&projectName=p1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("project with no rows = %d, want 404", rec.Code)
	}
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	s, _ := newTestServer(t)
	var lines []string
	s.sink = func(line string) { lines = append(lines, line) }

	rec := do(s, http.MethodGet, "/logout?username=alice", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "Logout successful" {
		t.Fatalf("logout = %d %q", rec.Code, rec.Body.String())
	}

	var sawAudit bool
	for _, l := range lines {
		if strings.Contains(l, "performed action: logout") {
			sawAudit = true
		}
	}
	if !sawAudit {
		t.Error("logout audit line missing from sink")
	}
}
