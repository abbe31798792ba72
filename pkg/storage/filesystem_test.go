package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalStoragePutGetOverwrite(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir(), "http://files.local/api/v1/files", NewSignedURLSigner("secret", time.Minute))
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "documents/d1/final.pdf", []byte("v1"), "application/pdf"))
	require.NoError(t, store.Put(ctx, "documents/d1/final.pdf", []byte("v2"), "application/pdf"))

	data, err := store.Get(ctx, "documents/d1/final.pdf")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), data)

	require.NoError(t, store.Delete(ctx, "documents/d1/final.pdf"))
	_, err = store.Get(ctx, "documents/d1/final.pdf")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorageKeysStayInsideBaseDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir, "", nil)
	require.NoError(t, err)

	path, err := store.resolve("../../etc/passwd")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(path, dir))

	_, err = store.resolve("/")
	require.Error(t, err)
}

func TestLocalStorageURLResolves(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir(), "http://files.local/api/v1/files/", NewSignedURLSigner("secret", time.Minute))
	require.NoError(t, err)

	link, err := store.URL(context.Background(), "signers/s1/signature.png", 0)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, "http://files.local/api/v1/files/"))

	token, err := url.PathUnescape(strings.TrimPrefix(link, "http://files.local/api/v1/files/"))
	require.NoError(t, err)
	key, err := store.Resolve(token)
	require.NoError(t, err)
	require.Equal(t, "signers/s1/signature.png", key)
}
