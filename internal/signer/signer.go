// Package signer owns the ledger's Ed25519 writer key.
//
// Each record's hash is signed as its lowercase hex text, and the public key
// is embedded in the record so authorship can be checked offline by anyone.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// SeedSize is the length of the persisted key material.
const SeedSize = ed25519.SeedSize

// ErrKeyMissing is returned by Load when no key material has been provisioned.
var ErrKeyMissing = errors.New("signing key not provisioned")

// ErrKeyExists is returned by Provision when key material is already present.
var ErrKeyExists = errors.New("signing key already exists")

// Signer signs record hashes with a single Ed25519 keypair.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// New builds a Signer from a raw 32-byte seed.
func New(seed []byte) (*Signer, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Generate creates a Signer with a fresh random keypair. Nothing is persisted.
func Generate() (*Signer, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate signing seed: %w", err)
	}
	return New(seed)
}

// Load reads the seed stored at path. A missing file yields ErrKeyMissing so
// callers can refuse to start rather than silently minting a new identity.
func Load(path string) (*Signer, error) {
	seed, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	s, err := New(seed)
	if err != nil {
		return nil, fmt.Errorf("load signing key %s: %w", path, err)
	}
	return s, nil
}

// Provision generates a keypair and writes its seed to path with 0600
// permissions. It never overwrites existing key material.
func Provision(path string) (*Signer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	s, err := Generate()
	if err != nil {
		return nil, err
	}
	err = writeNew(path, func(w io.Writer) error {
		_, err := w.Write(s.priv.Seed())
		return err
	})
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyExists, path)
	}
	if err != nil {
		return nil, fmt.Errorf("write signing key: %w", err)
	}
	return s, nil
}

// LoadOrProvision loads the key at path, provisioning one first if absent.
func LoadOrProvision(path string) (*Signer, error) {
	s, err := Load(path)
	if errors.Is(err, ErrKeyMissing) {
		return Provision(path)
	}
	return s, err
}

// Sign returns the detached signature over the hash's hex text.
func (s *Signer) Sign(hashHex string) []byte {
	return ed25519.Sign(s.priv, []byte(hashHex))
}

// PublicKey returns the raw public key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// PublicKeyHex returns the public key as lowercase hex, the form embedded in records.
func (s *Signer) PublicKeyHex() string { return hex.EncodeToString(s.pub) }

// Verify reports whether sig is a valid signature by publicKeyHex over hashHex.
// Malformed keys yield false rather than an error.
func Verify(publicKeyHex, hashHex string, sig []byte) bool {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(hashHex), sig)
}

// writeNew creates path exclusively and fills it with write. The file is
// removed again if writing, syncing or closing it fails.
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
