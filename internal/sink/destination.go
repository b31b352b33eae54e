package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

const gcsScheme = "gs://"

// IsGCSPath reports whether path names a Cloud Storage object.
func IsGCSPath(path string) bool {
	return strings.HasPrefix(path, gcsScheme)
}

// OpenDestination opens path for writing. Local paths are created along with
// their parent directories; gs://bucket/object paths stream to Cloud Storage
// through client and become visible when the writer is closed.
func OpenDestination(ctx context.Context, path string, client *storage.Client) (io.WriteCloser, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if IsGCSPath(path) {
		return openObject(ctx, path, client)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return f, nil
}

// SplitGCSPath returns the bucket and object of a gs:// path.
func SplitGCSPath(path string) (string, string, error) {
	rest, ok := strings.CutPrefix(path, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("%q is not a gs:// path", path)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || strings.Trim(object, "/") == "" {
		return "", "", fmt.Errorf("%q must name a bucket and an object", path)
	}
	return bucket, object, nil
}

func openObject(ctx context.Context, path string, client *storage.Client) (io.WriteCloser, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required for %s", path)
	}
	bucket, object, err := SplitGCSPath(path)
	if err != nil {
		return nil, err
	}
	// The upload outlives run cancellation; rows already written must reach the bucket.
	w := client.Bucket(bucket).Object(object).NewWriter(context.WithoutCancel(ctx))
	w.ContentType = "text/csv; charset=utf-8"
	return w, nil
}
