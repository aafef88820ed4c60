// Package fsys owns the on-disk content tree root/<user>/<project>/<file>.
// All path construction goes through Layout; request-supplied components are
// validated before they ever reach a filesystem call.
package fsys

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrBadComponent is returned when a user, project, or file name would
// escape the content tree or collide with directory syntax.
var ErrBadComponent = errors.New("invalid path component")

const writeChunkSize = 32 * 1024

// Layout resolves paths under a single content root.
type Layout struct {
	Root string
}

func New(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// CheckComponent rejects any component that is empty, ".", "..", or contains
// a path separator or NUL byte. Everything else is taken verbatim.
func CheckComponent(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrBadComponent, name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrBadComponent, name)
	}
	return nil
}

func (l Layout) join(components ...string) (string, error) {
	for _, c := range components {
		if err := CheckComponent(c); err != nil {
			return "", err
		}
	}
	return filepath.Join(append([]string{l.Root}, components...)...), nil
}

// UserDir returns the directory holding all of a user's projects.
func (l Layout) UserDir(user string) (string, error) {
	return l.join(user)
}

// ProjectDir returns the directory holding a project's files.
func (l Layout) ProjectDir(user, project string) (string, error) {
	return l.join(user, project)
}

// FilePath returns the on-disk path for a stored file.
func (l Layout) FilePath(user, project, file string) (string, error) {
	return l.join(user, project, file)
}

// EnsureDir creates path and any missing parents. Calling it again for an
// existing directory is a no-op.
func (l Layout) EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// DirExists reports whether path exists and is a directory.
func (l Layout) DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// FileExists reports whether path exists and is a regular file.
func (l Layout) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ListSubdirs returns the names of the immediate subdirectories of path,
// sorted. Files inside path are skipped.
func (l Layout) ListSubdirs(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// RemoveTree deletes path and everything under it, children before parents.
// It reports whether the root directory itself was removed.
func (l Layout) RemoveTree(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	for _, e := range entries {
		child := filepath.Join(path, e.Name())
		if e.IsDir() {
			if _, err := l.RemoveTree(child); err != nil {
				return false, err
			}
			continue
		}
		if err := os.Remove(child); err != nil {
			return false, fmt.Errorf("remove %s: %w", child, err)
		}
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	return true, nil
}

// RemoveFile deletes a single regular file.
func (l Layout) RemoveFile(path string) error {
	return os.Remove(path)
}

// ContentPath resolves a request URL path to a file under the content root.
// The path is cleaned before joining, and anything that would land outside
// the root is rejected.
func (l Layout) ContentPath(urlPath string) (string, error) {
	if strings.Contains(urlPath, "\x00") {
		return "", fmt.Errorf("%w: %q", ErrBadComponent, urlPath)
	}
	rel := path.Clean("/" + urlPath)
	abs := filepath.Clean(filepath.Join(l.Root, filepath.FromSlash(rel)))
	root := filepath.Clean(l.Root)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrBadComponent, urlPath)
	}
	return abs, nil
}

// ReadFile returns the full contents of path.
func (l Layout) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteStream copies src to path in fixed-size chunks, creating the file or
// truncating an existing one. It returns the number of bytes written.
func (l Layout) WriteStream(path string, src io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	buf := make([]byte, writeChunkSize)
	n, copyErr := io.CopyBuffer(f, src, buf)
	closeErr := f.Close()
	if copyErr != nil {
		return n, fmt.Errorf("write %s: %w", path, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close %s: %w", path, closeErr)
	}
	return n, nil
}
