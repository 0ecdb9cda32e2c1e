package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "snapshots", Metadata: map[string]string{"source": "competition-discovery"}})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsWithPrecondition(t *testing.T) {
	t.Parallel()

	type upload struct {
		path, name, ifGen, body string
	}
	seen := make(chan upload, 1)
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- upload{
			path:  r.URL.Path,
			name:  r.URL.Query().Get("name"),
			ifGen: r.URL.Query().Get("ifGenerationMatch"),
			body:  string(body),
		}
		fmt.Fprintln(w, `{"name":"2018/A/1701/default.html","bucket":"snapshots"}`)
	}))

	uri, err := store.PutObject(context.Background(), "/2018/A/1701/default.html", "text/html", strings.NewReader("<table/>"))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots/2018/A/1701/default.html", uri)

	got := <-seen
	require.Contains(t, got.path, "/upload/storage/v1/b/snapshots/o")
	require.Equal(t, "2018/A/1701/default.html", got.name)
	require.Equal(t, "0", got.ifGen)
	require.Contains(t, got.body, "<table/>")
	require.Contains(t, got.body, `"source":"competition-discovery"`)
}

func TestPutObjectExistingSnapshotIsKept(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintln(w, `{"error":{"code":412,"message":"conditionNotMet"}}`)
	}))

	uri, err := store.PutObject(context.Background(), "a.html", "", strings.NewReader("x"))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots/a.html", uri)
}

func TestPutObjectError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := store.PutObject(context.Background(), "a.html", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
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
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
}
