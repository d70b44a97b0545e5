package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileCache keeps the sealed checkpoint in a single file. Writes go to a
// temporary file in the same directory and are renamed into place.
type FileCache struct {
	path string
	key  Key
}

// NewFileCache returns a FileCache sealing with key at path.
func NewFileCache(path string, key Key) *FileCache {
	return &FileCache{path: path, key: key}
}

// Path returns the checkpoint file location.
func (c *FileCache) Path() string { return c.path }

// Read implements Cache.
func (c *FileCache) Read(_ context.Context) (string, error) {
	blob, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read checkpoint: %w", err)
	}
	return open(&c.key, blob)
}

// Write implements Cache.
func (c *FileCache) Write(_ context.Context, hash string) error {
	blob, err := seal(&c.key, hash)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Clear implements Cache.
func (c *FileCache) Clear(_ context.Context) error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// LoadKey reads a hex-encoded key from path.
func LoadKey(path string) (Key, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Key{}, fmt.Errorf("read checkpoint key: %w", err)
	}
	return ParseKey(strings.TrimSpace(string(b)))
}

// LoadOrCreateKey loads the key at path, generating and persisting one
// (hex, 0600) if the file does not exist.
func LoadOrCreateKey(path string) (Key, error) {
	k, err := LoadKey(path)
	if err == nil {
		return k, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return Key{}, err
	}
	return CreateKey(path)
}

// CreateKey generates a key and writes it to path. It refuses to overwrite
// an existing file because doing so would orphan the current checkpoint.
func CreateKey(path string) (Key, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Key{}, fmt.Errorf("create key dir: %w", err)
	}
	k, err := NewKey()
	if err != nil {
		return Key{}, err
	}
	err = writeNew(path, func(w io.Writer) error {
		_, err := io.WriteString(w, k.String()+"\n")
		return err
	})
	if err != nil {
		return Key{}, fmt.Errorf("write checkpoint key: %w", err)
	}
	return k, nil
}

// writeNew creates path exclusively and fills it with write. A file left
// half written is removed.
func writeNew(path string, write func(io.Writer) error) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	if err := write(f); err != nil {
		return err
	}
	return f.Sync()
}
