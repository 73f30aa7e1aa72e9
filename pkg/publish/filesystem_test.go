package publish

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemPublisher_Publish(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFileSystemPublisher(dir)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "abc123.css", []byte("body{margin:0}"), "text/css")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "abc123.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{margin:0}", string(data))
}

func TestFileSystemPublisher_OverwriteIsAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFileSystemPublisher(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, "k.js", []byte("old"), "application/javascript"))
	require.NoError(t, p.Publish(ctx, "k.js", []byte("new"), "application/javascript"))

	data, err := os.ReadFile(filepath.Join(dir, "k.js"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	// No temp file debris left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileSystemPublisher_NestedObjectName(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFileSystemPublisher(dir)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "css/abc.css", []byte("x"), "text/css")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "css", "abc.css"))
	assert.NoError(t, err)
}
