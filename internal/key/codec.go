// Package key implements the three-part API key format and the random
// generation of its components.
//
// A presented key is the delimited concatenation
//
//	<prefix>_<publicID>_<secret>
//
// where the prefix identifies the issuing system, the public ID is the
// non-secret lookup token, and the secret is verified against a stored hash.
// The delimiter is a literal underscore with no escaping, so no part may
// contain an underscore itself.
package key

import (
	"errors"
	"strings"
)

// Delimiter separates the three parts of an encoded key.
const Delimiter = "_"

// ErrMalformedKey is returned when a presented key string does not split
// into exactly three parts.
var ErrMalformedKey = errors.New("malformed api key")

// ErrInvalidPart is returned by Encode when a part is empty or contains the
// delimiter.
var ErrInvalidPart = errors.New("key part is empty or contains the delimiter")

// Container holds the parts of a freshly issued key. This is the only place
// the plaintext secret ever exists: it is surfaced to the caller once and
// then becomes unrecoverable.
type Container struct {
	Prefix          string
	PublicID        string
	PlaintextSecret string
	HashedSecret    string
}

// FinalKey returns the complete key string handed to the caller at issuance.
func (c Container) FinalKey() string {
	return c.Prefix + Delimiter + c.PublicID + Delimiter + c.PlaintextSecret
}

// Encode joins the three key parts with the delimiter. Parts must be
// non-empty and must not contain the delimiter; there is no escaping.
func Encode(prefix, publicID, secret string) (string, error) {
	for _, part := range []string{prefix, publicID, secret} {
		if part == "" || strings.Contains(part, Delimiter) {
			return "", ErrInvalidPart
		}
	}
	return prefix + Delimiter + publicID + Delimiter + secret, nil
}

// Decode splits a presented key string into its three parts. The exact
// three-way split is the compatibility contract for any presented key:
// anything else fails with ErrMalformedKey.
func Decode(s string) (prefix, publicID, secret string, err error) {
	parts := strings.Split(s, Delimiter)
	if len(parts) != 3 {
		return "", "", "", ErrMalformedKey
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", ErrMalformedKey
	}
	return parts[0], parts[1], parts[2], nil
}
