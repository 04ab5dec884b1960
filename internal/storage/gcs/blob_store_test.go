package gcs

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": {"application/json"}},
		Request:    r,
	}
}

func clientOption(fn roundTripperFunc) []option.ClientOption {
	return []option.ClientOption{
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{Transport: fn}),
	}
}

func TestOpenChecksBucket(t *testing.T) {
	t.Parallel()

	opts := clientOption(func(r *http.Request) (*http.Response, error) {
		require.Contains(t, r.URL.Path, "/b/pages-bucket")
		return jsonResponse(r, http.StatusOK, `{"name":"pages-bucket"}`), nil
	})
	store, err := Open(context.Background(), Config{Bucket: "pages-bucket"}, nil, opts...)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestOpenMissingBucket(t *testing.T) {
	t.Parallel()

	opts := clientOption(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusNotFound, `{"error":{"code":404,"message":"Not Found"}}`), nil
	})
	_, err := Open(context.Background(), Config{Bucket: "absent"}, nil, opts...)
	require.ErrorContains(t, err, "absent")

	_, err = Open(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		body string
		path string
	)
	client, err := storage.NewClient(context.Background(), clientOption(func(r *http.Request) (*http.Response, error) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		body += string(data)
		path = r.URL.Path
		mu.Unlock()
		return jsonResponse(r, http.StatusOK, `{"name":"pages/notes/abc.html","bucket":"pages-bucket"}`), nil
	})...)
	require.NoError(t, err)
	defer client.Close()

	store, err := New(client, Config{Bucket: "pages-bucket"})
	require.NoError(t, err)
	require.NoError(t, store.Close(), "a borrowed client is left open")

	uri, err := store.PutObject(context.Background(), "pages/notes/abc.html", "text/html", strings.NewReader("<html>note</html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://pages-bucket/pages/notes/abc.html", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, path, "/b/pages-bucket/o")
	require.Contains(t, body, "<html>note</html>")
	require.Contains(t, body, "text/html")
}

func TestPutObjectValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "text/html", strings.NewReader(""))
	require.Error(t, err)
}
