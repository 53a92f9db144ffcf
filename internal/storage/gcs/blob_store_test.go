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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	store, err := New(client, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	var gotName string
	var gotBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/results/o")
		gotName = r.URL.Query().Get("name")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = string(body)
		fmt.Fprintln(w, `{"name":"`+gotName+`","bucket":"results"}`)
	})
	store := newTestStore(t, handler, Config{Bucket: "results", Prefix: "/archive/"})

	uri, err := store.PutObject(context.Background(), "site1/example.com_.csv", "text/csv", strings.NewReader("url;content;depth"))
	require.NoError(t, err)
	assert.Equal(t, "gs://results/archive/site1/example.com_.csv", uri)
	assert.Equal(t, "archive/site1/example.com_.csv", gotName)
	assert.Contains(t, gotBody, "url;content;depth")
}

func TestPutObjectSurfacesServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	})
	store := newTestStore(t, handler, Config{Bucket: "results"})

	_, err := store.PutObject(context.Background(), "a.csv", "text/csv", strings.NewReader("x"))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	s := &BlobStore{prefix: "archive"}
	assert.Equal(t, "archive/a/b.csv", s.ObjectName("/a/b.csv"))
	s.prefix = ""
	assert.Equal(t, "a/b.csv", s.ObjectName("a/b.csv"))
}

func TestPutObjectRequiresPath(t *testing.T) {
	s := &BlobStore{bucket: "b"}
	_, err := s.PutObject(context.Background(), "", "", strings.NewReader(""))
	require.Error(t, err)
}
