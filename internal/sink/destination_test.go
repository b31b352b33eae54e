package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestSplitGCSPath(t *testing.T) {
	t.Parallel()

	bucket, object, err := SplitGCSPath("gs://exports/runs/2026/results.csv")
	require.NoError(t, err)
	require.Equal(t, "exports", bucket)
	require.Equal(t, "runs/2026/results.csv", object)

	for _, bad := range []string{"gs://bucket", "gs://bucket/", "gs:///object", "s3://b/o", "results.csv"} {
		_, _, err := SplitGCSPath(bad)
		require.Error(t, err, bad)
	}
	require.True(t, IsGCSPath("gs://b/o"))
	require.False(t, IsGCSPath("/tmp/gs:/x"))
}

func TestOpenDestinationRequiresClientForGCS(t *testing.T) {
	t.Parallel()

	_, err := OpenDestination(context.Background(), "gs://bucket/results.csv", nil)
	require.Error(t, err)
	_, err = OpenDestination(context.Background(), " ", nil)
	require.Error(t, err)
}

func TestCSVToCloudStorage(t *testing.T) {
	uploaded := make(chan string, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/exports/o")
		assert.Equal(t, "runs/results.csv", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		uploaded <- string(body)
		fmt.Fprintln(w, `{"name": "runs/results.csv", "bucket": "exports"}`)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	dst, err := OpenDestination(context.Background(), "gs://exports/runs/results.csv", client)
	require.NoError(t, err)
	s, err := NewCSV(dst)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), record("People", map[string]string{"full_name": "Ada Lovelace"})))
	require.NoError(t, s.Close())

	body := <-uploaded
	require.Contains(t, body, "source,title,full_name,username,link,snippet")
	require.Contains(t, body, "People,,Ada Lovelace,,,")
}

func TestCloudStorageUploadSurvivesCanceledContext(t *testing.T) {
	t.Parallel()

	uploaded := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		uploaded <- string(body)
		fmt.Fprintln(w, `{"name": "results.csv", "bucket": "exports"}`)
	}))
	defer server.Close()

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	dst, err := OpenDestination(ctx, "gs://exports/results.csv", client)
	require.NoError(t, err)
	s, err := NewCSV(dst)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, record("People", map[string]string{"full_name": "Ada Lovelace"})))

	cancel()
	require.NoError(t, s.Close())
	require.Contains(t, <-uploaded, "People,,Ada Lovelace,,,")
}
