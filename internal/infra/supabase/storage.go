package supabase

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Storage: avatars bucket via the Storage REST API
// ============================================================

// Storage implements port.ObjectStorage on one Supabase Storage bucket.
type Storage struct {
	client *Client
	bucket string
}

// NewStorage binds a bucket (e.g. "avatars") to the client.
func NewStorage(client *Client, bucket string) *Storage {
	return &Storage{client: client, bucket: bucket}
}

func (s *Storage) PutObject(ctx context.Context, path, contentType string, data []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Storage.PutObject")
	defer span.End()
	span.SetAttributes(attribute.String("storage.path", path), attribute.Int("storage.bytes", len(data)))

	_, err := s.client.execute(ctx, "supabase/storage", request{
		method: http.MethodPost,
		api:    "storage/v1",
		path:   "object/" + s.bucket + "/" + path,
		body:   data,
		headers: map[string]string{
			"Content-Type":  contentType,
			"Cache-Control": "max-age=3600",
			"x-upsert":      "true",
		},
	})
	if err != nil {
		return "", err
	}
	return s.publicURL(path), nil
}

func (s *Storage) RemoveObject(ctx context.Context, path string) error {
	ctx, span := tracer.Start(ctx, "Supabase.Storage.RemoveObject")
	defer span.End()
	span.SetAttributes(attribute.String("storage.path", path))

	_, err := s.client.execute(ctx, "supabase/storage", request{
		method: http.MethodDelete,
		api:    "storage/v1",
		path:   "object/" + s.bucket + "/" + path,
	})
	return err
}

// ObjectPath strips everything up to "/<bucket>/" from a public URL.
func (s *Storage) ObjectPath(publicURL string) (string, bool) {
	return objectPathFromURL(publicURL, s.bucket)
}

func (s *Storage) publicURL(path string) string {
	return s.client.baseURL + "/storage/v1/object/public/" + s.bucket + "/" + path
}

// objectPathFromURL extracts the bucket-relative path of an object URL,
// dropping any query string.
func objectPathFromURL(publicURL, bucket string) (string, bool) {
	marker := "/" + bucket + "/"
	i := strings.Index(publicURL, marker)
	if i < 0 {
		return "", false
	}
	path := publicURL[i+len(marker):]
	if q := strings.IndexByte(path, '?'); q >= 0 {
		path = path[:q]
	}
	if path == "" {
		return "", false
	}
	return path, true
}
