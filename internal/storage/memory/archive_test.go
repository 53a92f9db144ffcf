package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchivePutObject(t *testing.T) {
	t.Parallel()

	a := New()
	uri, err := a.PutObject(context.Background(), "crawl/2024-01-02/news/b.csv", "text/csv", strings.NewReader("b"))
	require.NoError(t, err)
	assert.Equal(t, "memory://crawl/2024-01-02/news/b.csv", uri)
	_, err = a.PutObject(context.Background(), "crawl/2024-01-02/news/a.csv", "text/csv", strings.NewReader("a"))
	require.NoError(t, err)

	assert.Equal(t, []string{"crawl/2024-01-02/news/a.csv", "crawl/2024-01-02/news/b.csv"}, a.Paths())
	obj, ok := a.Get("crawl/2024-01-02/news/b.csv")
	require.True(t, ok)
	assert.Equal(t, "text/csv", obj.ContentType)
	assert.Equal(t, []byte("b"), obj.Data)
}

func TestArchiveCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().PutObject(ctx, "x", "text/csv", strings.NewReader("x"))
	require.ErrorIs(t, err, context.Canceled)
	_, ok := New().Get("x")
	assert.False(t, ok)
}
