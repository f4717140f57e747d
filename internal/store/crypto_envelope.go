package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	// The current supported version of the sealed blob format.
	sealFormatVersion = 1
)

var (
	// ErrWrongPassphrase is returned when the passphrase is incorrect or the
	// sealed data has been modified or corrupted.
	ErrWrongPassphrase = errors.New("store: wrong passphrase or corrupted data")
	// ErrReadOnly is returned by writes inside a View transaction.
	ErrReadOnly = errors.New("store: write in read-only transaction")
)

// blob is the on-disk JSON structure holding the ciphertext and KDF parameters.
type blob struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// sealer holds a passphrase-derived key so repeated writes skip the KDF.
type sealer struct {
	salt    []byte
	n, r, p int
	key     []byte
}

func newSealer(passphrase string, n, r, p int) (*sealer, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return deriveSealer(passphrase, salt, n, r, p)
}

func deriveSealer(passphrase string, salt []byte, n, r, p int) (*sealer, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, n, r, p, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return &sealer{salt: salt, n: n, r: r, p: p, key: key}, nil
}

// seal encrypts raw into a JSON blob under a fresh random nonce.
func (s *sealer) seal(raw []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return json.Marshal(blob{
		V:      sealFormatVersion,
		Salt:   s.salt,
		N:      s.n,
		R:      s.r,
		P:      s.p,
		Nonce:  nonce,
		Cipher: aead.Seal(nil, nonce, raw, s.salt),
	})
}

// openBlob decrypts b with a key derived from passphrase and returns the
// plaintext together with a sealer that reuses the same key.
func openBlob(passphrase string, b []byte) ([]byte, *sealer, error) {
	var bl blob
	if err := json.Unmarshal(b, &bl); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	if bl.V > sealFormatVersion {
		return nil, nil, fmt.Errorf("unsupported sealed format version %d", bl.V)
	}
	s, err := deriveSealer(passphrase, bl.Salt, bl.N, bl.R, bl.P)
	if err != nil {
		return nil, nil, err
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, nil, err
	}
	if len(bl.Nonce) != aead.NonceSize() {
		return nil, nil, ErrWrongPassphrase
	}
	pt, err := aead.Open(nil, bl.Nonce, bl.Cipher, bl.Salt)
	if err != nil {
		return nil, nil, ErrWrongPassphrase
	}
	return pt, s, nil
}

// Tunables for scrypt key derivation.
func scryptParamsDefault() (N, r, p int) { return 1 << 15, 8, 1 }
