package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"

	"cipherlink/internal/domain"
)

// GenerateX25519 returns a fresh Curve25519 identity key pair.
func GenerateX25519() (priv domain.X25519Private, pub domain.X25519Public, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return priv, pub, fmt.Errorf("generate x25519: %w", err)
	}
	pub, err = X25519PublicKey(priv)
	return priv, pub, err
}

// X25519PublicKey derives the public key of priv. Clamping happens inside
// curve25519.X25519.
func X25519PublicKey(priv domain.X25519Private) (domain.X25519Public, error) {
	var pub domain.X25519Public
	raw, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("derive x25519 public key: %w", err)
	}
	copy(pub[:], raw)
	return pub, nil
}

// EncodeCurve25519 returns the wire form of pub.
func EncodeCurve25519(pub domain.X25519Public) domain.Curve25519 {
	return domain.Curve25519(B64(pub[:]))
}
