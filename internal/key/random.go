package key

import (
	"crypto/rand"
	"fmt"
)

// Alphabet used for generated key parts. Alphanumeric with the ambiguous
// characters 0/O/1/l/I removed, and no delimiter, so generated parts always
// encode cleanly.
const alphabet = "23456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

// RandomString returns a cryptographically random string of length n drawn
// from the key alphabet.
func RandomString(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("random string length must be positive, got %d", n)
	}

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	// Rejection sampling keeps the distribution uniform over the alphabet.
	out := make([]byte, 0, n)
	for len(out) < n {
		for _, b := range buf {
			if int(b) < 256-(256%len(alphabet)) {
				out = append(out, alphabet[int(b)%len(alphabet)])
				if len(out) == n {
					break
				}
			}
		}
		if len(out) < n {
			if _, err := rand.Read(buf); err != nil {
				return "", fmt.Errorf("read random bytes: %w", err)
			}
		}
	}
	return string(out), nil
}
