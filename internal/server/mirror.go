// mirror.go - Optional object-storage mirror of the on-disk content tree.
//
// When configured, uploaded files are copied to an S3-compatible bucket
// under <user>/<project>/<file> and removed again when the file or project
// is deleted. The disk stays the source of truth; mirror failures are
// logged, never surfaced to clients.
package server

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror wraps a MinIO client bound to one bucket.
type Mirror struct {
	client *minio.Client
	bucket string
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		secure = (u.Scheme == "https")
		return u.Host, secure, nil
	}

	// No scheme provided, treat as host:port (insecure by default for local MinIO).
	return raw, false, nil
}

// NewMirrorFromEnv builds a Mirror from PH_S3_* environment variables.
// With no endpoint configured it returns (nil, nil) and mirroring is off;
// a partially filled configuration is an error.
func NewMirrorFromEnv() (*Mirror, error) {
	rawEndpoint := os.Getenv("PH_S3_ENDPOINT")
	if rawEndpoint == "" {
		return nil, nil
	}
	accessKey := os.Getenv("PH_S3_ACCESS_KEY")
	secretKey := os.Getenv("PH_S3_SECRET_KEY")
	bucket := os.Getenv("PH_S3_BUCKET")
	if accessKey == "" || secretKey == "" || bucket == "" {
		return nil, fmt.Errorf("mirror configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(rawEndpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	return &Mirror{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (m *Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("bucket check: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// PutFile streams a local file to the bucket under key.
func (m *Mirror) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	_, err = m.client.PutObject(ctx, m.bucket, key, f, info.Size(),
		minio.PutObjectOptions{ContentType: fallbackMIME})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Remove deletes one mirrored object.
func (m *Mirror) Remove(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// RemovePrefix deletes every mirrored object under prefix.
func (m *Mirror) RemovePrefix(ctx context.Context, prefix string) error {
	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", obj.Key, err)
		}
	}
	return nil
}

// mirrorKey maps a resource triple to its object key. An empty file yields
// the project prefix.
func mirrorKey(user, project, file string) string {
	if file == "" {
		return user + "/" + project + "/"
	}
	return user + "/" + project + "/" + file
}
