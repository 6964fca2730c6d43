// Package hash provides the salted one-way hashing used for API key secrets
// and admin passwords.
package hash

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes plaintext secrets and verifies candidates against stored
// hashes. Implementations must use a salted, deliberately expensive
// algorithm and compare in constant time.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hashed string) bool
}

// Bcrypt implements Hasher with golang.org/x/crypto/bcrypt. Each hash
// carries its own random salt.
type Bcrypt struct {
	cost      int
	dummyHash string
}

// NewBcrypt creates a Bcrypt hasher with the given cost. A cost of 0 uses
// bcrypt.DefaultCost. The constructor precomputes a dummy hash so rejection
// paths that have no stored hash can still burn a comparison.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("keygate-dummy-comparison-subject"), cost)
	if err != nil {
		return nil, fmt.Errorf("precompute dummy hash: %w", err)
	}

	return &Bcrypt{cost: cost, dummyHash: string(dummy)}, nil
}

// Hash returns the bcrypt hash of plaintext with a per-call random salt.
func (b *Bcrypt) Hash(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(h), nil
}

// Verify reports whether plaintext matches the stored hash. bcrypt's
// comparison is constant-time over the digest.
func (b *Bcrypt) Verify(plaintext, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext)) == nil
}

// DummyVerify performs a comparison against a throwaway hash and always
// returns false. Used on lookup-miss paths so that "unknown key" and "wrong
// secret" take comparable time.
func (b *Bcrypt) DummyVerify(plaintext string) bool {
	_ = bcrypt.CompareHashAndPassword([]byte(b.dummyHash), []byte(plaintext))
	return false
}
