// Package solana provides account identities and program-derived addresses
// in the Solana encoding used by the reputation program.
package solana

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeyLength is the byte length of an account identity.
const PublicKeyLength = 32

// ErrInvalidPublicKey is returned when a string does not decode to 32 bytes.
var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey is a 32-byte account identity rendered as base58.
type PublicKey [PublicKeyLength]byte

// ZeroKey is the all-zero key. It never identifies a caller.
var ZeroKey PublicKey

// ParsePublicKey decodes a base58 string into a PublicKey.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	if s == "" {
		return pk, fmt.Errorf("%w: empty", ErrInvalidPublicKey)
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(decoded) != PublicKeyLength {
		return pk, fmt.Errorf("%w: decoded length %d", ErrInvalidPublicKey, len(decoded))
	}
	copy(pk[:], decoded)
	return pk, nil
}

// MustParsePublicKey is like ParsePublicKey but panics on error.
// Intended for package-level constants.
func MustParsePublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeyLength {
		return pk, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the base58 encoding.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// Bytes returns a copy of the key bytes.
func (pk PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeyLength)
	copy(b, pk[:])
	return b
}

// IsZero reports whether pk is the zero key.
func (pk PublicKey) IsZero() bool {
	return pk == ZeroKey
}

// Less orders keys bytewise. Used for deterministic tie-breaking.
func (pk PublicKey) Less(other PublicKey) bool {
	return bytes.Compare(pk[:], other[:]) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}
