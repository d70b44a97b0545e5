package checkpoint_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmerrifield20/docchain/internal/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

const hashA = "015abd7f5cc57a2dd94b7590f04ad8084273905ee33ec5cebeae62276a97f862"
const hashB = "0ab1a6d394cd30195f0642b67ae1180c375ffadf5dd7f39c390668b5fdb6da93"

func newKey(t *testing.T) checkpoint.Key {
	t.Helper()
	k, err := checkpoint.NewKey()
	require.NoError(t, err)
	return k
}

func TestFileCache_roundTripAndOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_hash_cache.bin")
	c := checkpoint.NewFileCache(path, newKey(t))

	_, err := c.Read(ctx)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	require.NoError(t, c.Write(ctx, hashA))
	got, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, hashA, got)

	require.NoError(t, c.Write(ctx, hashB))
	got, err = c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, hashB, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), hashB, "checkpoint must not be stored in clear text")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileCache_wrongKeyIsTampered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	require.NoError(t, checkpoint.NewFileCache(path, newKey(t)).Write(ctx, hashA))

	_, err := checkpoint.NewFileCache(path, newKey(t)).Read(ctx)
	assert.ErrorIs(t, err, checkpoint.ErrTampered)
}

func TestFileCache_garbageIsTampered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	c := checkpoint.NewFileCache(path, newKey(t))

	for name, blob := range map[string][]byte{
		"short":   []byte("abc"),
		"garbage": []byte(strings.Repeat("x", 80)),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(path, blob, 0o600))
			_, err := c.Read(ctx)
			assert.ErrorIs(t, err, checkpoint.ErrTampered)
		})
	}
}

func TestFileCache_clear(t *testing.T) {
	c := checkpoint.NewFileCache(filepath.Join(t.TempDir(), "cache.bin"), newKey(t))
	require.NoError(t, c.Clear(ctx), "clearing an empty cache")
	require.NoError(t, c.Write(ctx, hashA))
	require.NoError(t, c.Clear(ctx))
	_, err := c.Read(ctx)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestWrite_rejectsNonHash(t *testing.T) {
	c := checkpoint.NewMemoryCache(newKey(t))
	assert.Error(t, c.Write(ctx, "not-a-hash"))
	assert.Error(t, c.Write(ctx, strings.ToUpper(hashA)))
}

func TestMemoryCache_overwriteWithForeignCiphertext(t *testing.T) {
	c := checkpoint.NewMemoryCache(newKey(t))
	require.NoError(t, c.Write(ctx, hashA))

	other := checkpoint.NewFileCache(filepath.Join(t.TempDir(), "other.bin"), newKey(t))
	require.NoError(t, other.Write(ctx, hashB))
	foreign, err := os.ReadFile(other.Path())
	require.NoError(t, err)

	c.Overwrite(foreign)
	_, err = c.Read(ctx)
	assert.True(t, errors.Is(err, checkpoint.ErrTampered))
}

func TestKeys_createLoadParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "cache.key")

	created, err := checkpoint.LoadOrCreateKey(path)
	require.NoError(t, err)

	loaded, err := checkpoint.LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, created, loaded)

	_, err = checkpoint.CreateKey(path)
	assert.Error(t, err, "CreateKey must not overwrite an existing key")

	parsed, err := checkpoint.ParseKey(created.String())
	require.NoError(t, err)
	assert.Equal(t, created, parsed)

	_, err = checkpoint.ParseKey("abcd")
	assert.Error(t, err)
}
