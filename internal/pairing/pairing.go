// Package pairing implements the pre-shared-key exchange that backs V3
// encrypted sessions (§4.5): a 6-digit pairing code and an order-independent
// PBKDF2 derivation so both ends of a pairing agree on the same 256-bit key
// without a further exchange. Long-term storage of derived keys belongs to
// an external collaborator (§9); this package only derives and exposes a
// KeyStore interface for it to satisfy.
package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// iterations is fixed by spec.md §4.5.
	iterations = 100_000

	// keyLen is 256 bits (AES-256).
	keyLen = 32

	codeDigits = 6
)

// GenerateCode returns a uniformly random 6-digit decimal pairing code,
// zero-padded (e.g. "004213").
func GenerateCode() (string, error) {
	max := int64(1)
	for i := 0; i < codeDigits; i++ {
		max *= 10
	}

	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return "", fmt.Errorf("pairing: generate code: %w", err)
	}

	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// DeriveKey computes the shared 256-bit key for a pairing code and the two
// participating device ids. The salt is built from the lexicographically
// smaller id followed by the larger one, so both sides compute the same
// salt regardless of which one is "self" — DeriveKey(code, a, b) ==
// DeriveKey(code, b, a) for any ordering of a, b.
func DeriveKey(code, idA, idB string) [32]byte {
	lo, hi := idA, idB
	if hi < lo {
		lo, hi = hi, lo
	}
	salt := []byte(lo + hi)

	derived := pbkdf2.Key([]byte(code), salt, iterations, keyLen, sha256.New)

	var key [32]byte
	copy(key[:], derived)
	return key
}

// KeyStore retrieves a previously-paired key by the remote peer's network
// address. Persistence is an external collaborator's responsibility (§9);
// the core only needs to look keys up and must refuse to proceed without
// one when policy requires encryption (§4.5 Policy).
type KeyStore interface {
	// Lookup returns the paired key for addr, or ok=false if no pairing
	// exists.
	Lookup(addr string) (key [32]byte, ok bool)

	// Store persists key for addr, overwriting any existing pairing.
	Store(addr string, key [32]byte) error
}

// MemoryKeyStore is an in-process KeyStore backed by a map. It is useful
// for tests and as a default when no persistent store is wired in.
type MemoryKeyStore struct {
	keys map[string][32]byte
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string][32]byte)}
}

func (s *MemoryKeyStore) Lookup(addr string) ([32]byte, bool) {
	key, ok := s.keys[addr]
	return key, ok
}

func (s *MemoryKeyStore) Store(addr string, key [32]byte) error {
	s.keys[addr] = key
	return nil
}
