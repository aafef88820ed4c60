// Package store is the metadata adapter over the users and files tables.
// Handlers never issue SQL themselves; every query lives here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// User is a row in the users table. PasswordHash is a bcrypt hash, never
// the cleartext password.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// FileInfo describes one stored file's metadata.
type FileInfo struct {
	Name       string
	SizeBytes  int64
	UploadedAt time.Time
}

// Store runs metadata queries against a shared connection pool.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindUserByEmail looks a user up by the canonical identity key.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return s.findUser(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

// FindUserByName looks a user up by display name. The name is unique in the
// schema because it doubles as the user's directory on disk.
func (s *Store) FindUserByName(ctx context.Context, name string) (User, error) {
	return s.findUser(ctx,
		`SELECT id, name, email, password_hash, created_at FROM users WHERE name = $1`, name)
}

func (s *Store) findUser(ctx context.Context, query, key string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, query, key).
		Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// InsertUser creates a user row and returns its assigned id.
func (s *Store) InsertUser(ctx context.Context, name, email, passwordHash string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (name, email, password_hash) VALUES ($1, $2, $3) RETURNING id`,
		name, email, passwordHash,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

// UpsertFile records an upload: a row keyed by (owner, project, name) is
// updated in place with the new size and timestamp, otherwise inserted.
func (s *Store) UpsertFile(ctx context.Context, userID int64, project, name string, sizeBytes int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (name, size_bytes, uploaded_at, project_name, user_id)
		VALUES ($1, $2, now(), $3, $4)
		ON CONFLICT (user_id, project_name, name)
		DO UPDATE SET size_bytes = EXCLUDED.size_bytes, uploaded_at = now()`,
		name, sizeBytes, project, userID,
	)
	if err != nil {
		return fmt.Errorf("upsert file: %w", err)
	}
	return nil
}

// DeleteFile removes one file row and reports whether a row was removed.
func (s *Store) DeleteFile(ctx context.Context, userID int64, project, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE user_id = $1 AND project_name = $2 AND name = $3`,
		userID, project, name,
	)
	if err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	return n > 0, nil
}

// DeleteProjectFiles removes every file row for a project and returns the
// number of rows removed.
func (s *Store) DeleteProjectFiles(ctx context.Context, userID int64, project string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE user_id = $1 AND project_name = $2`,
		userID, project,
	)
	if err != nil {
		return 0, fmt.Errorf("delete project files: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete project files: %w", err)
	}
	return n, nil
}

// CountProjectFiles returns how many file rows a project holds.
func (s *Store) CountProjectFiles(ctx context.Context, userID int64, project string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE user_id = $1 AND project_name = $2`,
		userID, project,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count project files: %w", err)
	}
	return n, nil
}

// FileExists reports whether a metadata row exists for the triple.
func (s *Store) FileExists(ctx context.Context, userID int64, project, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM files WHERE user_id = $1 AND project_name = $2 AND name = $3)`,
		userID, project, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("file exists: %w", err)
	}
	return exists, nil
}

// ListProjectFiles returns a project's file metadata ordered by name.
func (s *Store) ListProjectFiles(ctx context.Context, userID int64, project string) ([]FileInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, size_bytes, uploaded_at FROM files
		 WHERE user_id = $1 AND project_name = $2 ORDER BY name`,
		userID, project,
	)
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	defer rows.Close()

	var files []FileInfo
	for rows.Next() {
		var f FileInfo
		if err := rows.Scan(&f.Name, &f.SizeBytes, &f.UploadedAt); err != nil {
			return nil, fmt.Errorf("list project files: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	return files, nil
}
