package signer_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmerrifield20/docchain/internal/signer"
)

const hash = "015abd7f5cc57a2dd94b7590f04ad8084273905ee33ec5cebeae62276a97f862"

func TestSign_deterministicAndVerifiable(t *testing.T) {
	s, err := signer.New(bytes.Repeat([]byte{7}, signer.SeedSize))
	if err != nil {
		t.Fatal(err)
	}

	a := s.Sign(hash)
	b := s.Sign(hash)
	if !bytes.Equal(a, b) {
		t.Error("signatures over the same hash differ")
	}
	if !signer.Verify(s.PublicKeyHex(), hash, a) {
		t.Error("Verify() rejected a valid signature")
	}
	if signer.Verify(s.PublicKeyHex(), hash[:63]+"0", a) {
		t.Error("Verify() accepted a signature over a different hash")
	}
}

func TestVerify_malformedKey(t *testing.T) {
	s, _ := signer.Generate()
	sig := s.Sign(hash)
	if signer.Verify("not-hex", hash, sig) {
		t.Error("expected false for non-hex key")
	}
	if signer.Verify("abcd", hash, sig) {
		t.Error("expected false for short key")
	}
}

func TestNew_wrongSeedSize(t *testing.T) {
	if _, err := signer.New([]byte("short")); err == nil {
		t.Fatal("expected error for short seed")
	}
}

func TestLoad_missingIsFailClosed(t *testing.T) {
	_, err := signer.Load(filepath.Join(t.TempDir(), "signing_key.bin"))
	if !errors.Is(err, signer.ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
}

func TestProvision_thenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signing_key.bin")

	provisioned, err := signer.Provision(path)
	if err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != signer.SeedSize {
		t.Errorf("seed file size: got %d, want %d", info.Size(), signer.SeedSize)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("seed file mode: got %v, want 0600", info.Mode().Perm())
	}

	loaded, err := signer.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.PublicKeyHex() != provisioned.PublicKeyHex() {
		t.Error("loaded key differs from provisioned key")
	}

	if _, err := signer.Provision(path); !errors.Is(err, signer.ErrKeyExists) {
		t.Errorf("second Provision: expected ErrKeyExists, got %v", err)
	}
}

func TestLoadOrProvision_reusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing_key.bin")
	first, err := signer.LoadOrProvision(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := signer.LoadOrProvision(path)
	if err != nil {
		t.Fatal(err)
	}
	if first.PublicKeyHex() != second.PublicKeyHex() {
		t.Error("LoadOrProvision generated a second identity")
	}
}
