package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"cipherlink/internal/domain"
)

// ErrBadSignature is returned when a signature does not verify.
var ErrBadSignature = errors.New("signature verification failed")

// GenerateEd25519 returns a new Ed25519 signing key pair.
func GenerateEd25519() (priv domain.Ed25519Private, pub domain.Ed25519Public, err error) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return priv, pub, err
	}
	copy(priv[:], sk)
	copy(pub[:], pk)
	return priv, pub, nil
}

// SignEd25519 signs msg with priv and returns the signature.
func SignEd25519(priv domain.Ed25519Private, msg []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv[:]), msg)
}

// VerifyEd25519 verifies sig over msg with pub.
func VerifyEd25519(pub domain.Ed25519Public, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}

// ParseEd25519 decodes an unpadded base64 Ed25519 public key.
func ParseEd25519(key domain.Ed25519) (domain.Ed25519Public, error) {
	var pub domain.Ed25519Public
	raw, err := DecodeB64(key.String())
	if err != nil {
		return pub, fmt.Errorf("decode ed25519 key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return pub, fmt.Errorf("ed25519 key: want %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	copy(pub[:], raw)
	return pub, nil
}

// EncodeEd25519 returns the wire form of pub.
func EncodeEd25519(pub domain.Ed25519Public) domain.Ed25519 {
	return domain.Ed25519(B64(pub[:]))
}

// SignJSON signs the canonical form of obj (without "signatures" and
// "unsigned") and returns the base64 signature.
func SignJSON(priv domain.Ed25519Private, obj any) (string, error) {
	msg, err := CanonicalJSON(obj)
	if err != nil {
		return "", err
	}
	return B64(SignEd25519(priv, msg)), nil
}

// VerifyJSON checks a base64 signature made by key over obj.
func VerifyJSON(key domain.Ed25519, sig string, obj any) error {
	pub, err := ParseEd25519(key)
	if err != nil {
		return err
	}
	rawSig, err := DecodeB64(sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	msg, err := CanonicalJSON(obj)
	if err != nil {
		return err
	}
	if !VerifyEd25519(pub, msg, rawSig) {
		return ErrBadSignature
	}
	return nil
}
