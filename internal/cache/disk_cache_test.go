package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskEntryPath(t *testing.T) {
	store := &diskStore{dir: "v1"}

	tests := []struct {
		name string
		key  string
		want string
	}{
		{
			name: "simple URL",
			key:  "GET https://example.com/api/users",
			want: "v1/example.com/api/users/GET.bin",
		},
		{
			name: "URL with query params",
			key:  "GET https://api.github.com/users?page=1",
			want: "v1/api.github.com/users/GET_qc5c34f0f.bin",
		},
		{
			name: "root path",
			key:  "POST https://example.com/",
			want: "v1/example.com/POST.bin",
		},
		{
			name: "dot segments stay inside the generation",
			key:  "GET https://example.com/../../phantom/x",
			want: "v1/example.com/phantom/x/GET.bin",
		},
		{
			name: "default port is dropped",
			key:  "GET https://example.com:443/css/style.css",
			want: "v1/example.com/css/style.css/GET.bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, store.entryPath(tt.key))
		})
	}
}

func TestDiskEntryPathFallback(t *testing.T) {
	store := &diskStore{dir: "v1"}

	path := store.entryPath("not a request key")
	assert.Equal(t, filepath.Join("v1", "_"), filepath.Dir(path))
	assert.Equal(t, ".bin", filepath.Ext(path))
}

func TestDiskSetCreatesFile(t *testing.T) {
	tempDir := t.TempDir()
	storage := NewDisk(tempDir)
	ctx := context.Background()

	store, err := storage.Open(ctx, "portfolio-v1")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "GET https://example.com/index.html", []byte("<html>")))

	expectedPath := filepath.Join(tempDir, "portfolio-v1", "example.com", "index.html", "GET.bin")
	data, err := os.ReadFile(expectedPath)
	require.NoError(t, err, "cache file should exist at %s", expectedPath)
	assert.Equal(t, "GET https://example.com/index.html\n<html>", string(data))
}

func TestDiskInit(t *testing.T) {
	tempDir := t.TempDir()
	cacheDir := filepath.Join(tempDir, "new", "cache", "dir")

	storage := NewDisk(cacheDir)
	require.NoError(t, storage.Init())

	info, err := os.Stat(cacheDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDiskKeysOnMissingFolder(t *testing.T) {
	storage := NewDisk(filepath.Join(t.TempDir(), "absent"))

	keys, err := storage.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDiskEscapesGenerationNames(t *testing.T) {
	storage := NewFilesystem(memfs.New())
	ctx := context.Background()

	_, err := storage.Open(ctx, "site/v2")
	require.NoError(t, err)

	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"site/v2"}, keys)
}

func TestDiskEntryPathRejectsDotHost(t *testing.T) {
	store := &diskStore{dir: "v1"}

	path := store.entryPath("GET http://../x")
	assert.Equal(t, filepath.Join("v1", "_"), filepath.Dir(path))
}

func TestDiskDotSegmentsCannotCreateGenerations(t *testing.T) {
	storage := NewFilesystem(memfs.New())
	ctx := context.Background()

	store, err := storage.Open(ctx, "v1")
	require.NoError(t, err)

	key := "GET https://example.com/../../phantom/x"
	require.NoError(t, store.Set(ctx, key, []byte("x")))

	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, names)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestDiskDotGenerationName(t *testing.T) {
	storage := NewFilesystem(memfs.New())
	ctx := context.Background()

	_, err := storage.Open(ctx, "..")
	require.NoError(t, err)

	names, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{".."}, names)
}
