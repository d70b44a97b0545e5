// Package checkpoint stores the hash of the most recently committed ledger
// record outside the primary store, sealed with a symmetric key the store
// never sees.
//
// A writer able to rewrite the record store still cannot forge this value,
// so wholesale rollback (delete everything, replay a stale chain) shows up as
// a mismatch on the next verification.
package checkpoint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the symmetric key length in bytes.
const KeySize = 32

const nonceSize = 24

var (
	// ErrNotFound is returned by Read when no checkpoint has been written.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrTampered is returned by Read when the stored value cannot be
	// authenticated or does not decode to a record hash.
	ErrTampered = errors.New("checkpoint cannot be authenticated")
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Cache is a single-value store for the last committed record hash.
type Cache interface {
	// Read returns the stored hash, ErrNotFound, or ErrTampered.
	Read(ctx context.Context) (string, error)

	// Write atomically replaces the stored hash.
	Write(ctx context.Context, hash string) error

	// Clear removes the stored hash. Clearing an empty cache is not an error.
	Clear(ctx context.Context) error
}

// Key is the symmetric key sealing the checkpoint.
type Key [KeySize]byte

// NewKey returns a random key.
func NewKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("generate checkpoint key: %w", err)
	}
	return k, nil
}

// ParseKey decodes a hex-encoded key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("decode checkpoint key: %w", err)
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("checkpoint key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// String returns the key as hex.
func (k Key) String() string { return hex.EncodeToString(k[:]) }

// seal encrypts the hash text. The output is nonce || secretbox(hash).
func seal(key *Key, hash string) ([]byte, error) {
	if !hashPattern.MatchString(hash) {
		return nil, fmt.Errorf("checkpoint value %q is not a record hash", hash)
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	k := [KeySize]byte(*key)
	return secretbox.Seal(nonce[:], []byte(hash), &nonce, &k), nil
}

// open authenticates and decrypts a sealed checkpoint.
func open(key *Key, blob []byte) (string, error) {
	if len(blob) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: ciphertext too short", ErrTampered)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])
	k := [KeySize]byte(*key)
	plain, ok := secretbox.Open(nil, blob[nonceSize:], &nonce, &k)
	if !ok {
		return "", fmt.Errorf("%w: authentication failed", ErrTampered)
	}
	if !hashPattern.Match(plain) {
		return "", fmt.Errorf("%w: decrypted value is not a record hash", ErrTampered)
	}
	return string(plain), nil
}
