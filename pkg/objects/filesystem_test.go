package objects

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FilesystemStore {
	t.Helper()
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestFilesystemStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Put(ctx, "avatars/u1.png", strings.NewReader("png bytes"), "image/png")
	require.NoError(t, err)

	rc, contentType, err := store.Get(ctx, "avatars/u1.png")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))
	assert.Equal(t, "image/png", contentType)
}

func TestFilesystemStore_PutReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a.txt", strings.NewReader("one"), "text/plain"))
	require.NoError(t, store.Put(ctx, "a.txt", strings.NewReader("two"), "text/plain"))

	rc, _, err := store.Get(ctx, "a.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "two", string(data))
}

func TestFilesystemStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.Get(context.Background(), "nope.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a.txt", strings.NewReader("x"), "text/plain"))
	require.NoError(t, store.Delete(ctx, "a.txt"))

	_, _, err := store.Get(ctx, "a.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "a.txt"), ErrNotFound)
}

func TestFilesystemStore_RejectsEscapingKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd", "."} {
		err := store.Put(ctx, key, strings.NewReader("x"), "text/plain")
		assert.Error(t, err, "key %q", key)
	}
}

func TestFilesystemStore_HealthCheck(t *testing.T) {
	root := t.TempDir()
	store, err := NewFilesystemStore(root)
	require.NoError(t, err)
	assert.NoError(t, store.HealthCheck(context.Background()))

	require.NoError(t, os.RemoveAll(root))
	assert.Error(t, store.HealthCheck(context.Background()))
}

func TestNewFilesystemStore_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "uploads")
	_, err := NewFilesystemStore(root)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "/uploads/avatars/u1.png", PublicURL("avatars/u1.png"))
}
