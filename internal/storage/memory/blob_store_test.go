package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "notes/abc.html", "text/html", bytes.NewReader([]byte("content")))
	require.NoError(t, err)
	require.Equal(t, "memory://notes/abc.html", uri)

	got, ok := store.Object("notes/abc.html")
	require.True(t, ok)
	require.Equal(t, "content", string(got))
	require.Equal(t, []string{"notes/abc.html"}, store.Paths())
}
