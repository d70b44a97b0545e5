package signer

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteNew_removesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.key")
	boom := errors.New("disk full")

	err := writeNew(path, func(w io.Writer) error {
		if _, err := w.Write([]byte{1, 2, 3}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("writeNew error = %v, want %v", err, boom)
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("partial key file left behind: stat err = %v", err)
	}

	// A later Provision must succeed rather than report ErrKeyExists.
	if _, err := Provision(path); err != nil {
		t.Fatalf("Provision after failed write: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestWriteNew_keepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.key")
	if err := os.WriteFile(path, []byte("existing"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := writeNew(path, func(io.Writer) error { return nil })
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("writeNew error = %v, want fs.ErrExist", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "existing" {
		t.Fatalf("existing file changed: %q", b)
	}
}
