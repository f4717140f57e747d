package ecdh

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cloudflare/circl/dh/x25519"
	"golang.org/x/crypto/hkdf"

	"cipherlink/internal/crypto"
	"cipherlink/internal/util/memzero"
)

// Algorithm is the identifier carried in rendezvous codes.
const Algorithm = "org.matrix.msc3903.rendezvous.v2.curve25519-aes-sha256"

const (
	keyLength      = 32
	checksumLength = 5
)

var (
	ErrLowOrderKey = errors.New("ecdh: peer key has low order")
	ErrBadKey      = errors.New("ecdh: bad public key")
	ErrOpen        = errors.New("ecdh: message authentication failed")
	// ErrOutOfOrder is returned for an authentic frame that is not the next
	// one expected from the peer: a replay, a reordering or a gap.
	ErrOutOfOrder = errors.New("ecdh: frame out of sequence")
)

// Role says which key came from the scanned code.
type Role int

const (
	// Creator generated and displayed the code.
	Creator Role = iota
	// Scanner read the code.
	Scanner
)

// KeyPair is an ephemeral X25519 key pair.
type KeyPair struct {
	private x25519.Key
	Public  x25519.Key
}

// GenerateKeyPair returns a fresh ephemeral key pair.
func GenerateKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := io.ReadFull(rand.Reader, kp.private[:]); err != nil {
		return nil, err
	}
	x25519.KeyGen(&kp.Public, &kp.private)
	return kp, nil
}

// PublicB64 returns the public key in wire form.
func (kp *KeyPair) PublicB64() string { return crypto.B64(kp.Public[:]) }

// Wipe clears the private key.
func (kp *KeyPair) Wipe() { memzero.Zero(kp.private[:]) }

// ParsePublic decodes a base64 X25519 public key.
func ParsePublic(s string) (x25519.Key, error) {
	var k x25519.Key
	raw, err := crypto.DecodeB64(s)
	if err != nil || len(raw) != x25519.Size {
		return k, ErrBadKey
	}
	copy(k[:], raw)
	return k, nil
}

// Session encrypts and decrypts channel frames after key agreement. Each
// direction has its own key and a frame counter used as the nonce, so the
// peer accepts every frame exactly once and in order.
type Session struct {
	send     cipher.AEAD
	recv     cipher.AEAD
	checksum string

	mu      sync.Mutex
	sendSeq uint64
	recvSeq uint64
}

// Derive runs the key agreement against the peer public key.
func Derive(role Role, ours *KeyPair, theirs x25519.Key) (*Session, error) {
	var shared x25519.Key
	if !x25519.Shared(&shared, &ours.private, &theirs) {
		return nil, ErrLowOrderKey
	}
	defer memzero.Zero(shared[:])

	creatorKey, scannerKey := ours.Public, theirs
	if role == Scanner {
		creatorKey, scannerKey = theirs, ours.Public
	}
	info := Algorithm + "|" + crypto.B64(creatorKey[:]) + "|" + crypto.B64(scannerKey[:])
	kdf := hkdf.New(sha256.New, shared[:], nil, []byte(info))
	material := make([]byte, 2*keyLength+checksumLength)
	if _, err := io.ReadFull(kdf, material); err != nil {
		return nil, err
	}
	defer memzero.Zero(material)

	toScanner, err := newGCM(material[:keyLength])
	if err != nil {
		return nil, err
	}
	toCreator, err := newGCM(material[keyLength : 2*keyLength])
	if err != nil {
		return nil, err
	}
	s := &Session{checksum: formatChecksum(material[2*keyLength:])}
	if role == Creator {
		s.send, s.recv = toScanner, toCreator
	} else {
		s.send, s.recv = toCreator, toScanner
	}
	return s, nil
}

// Checksum is the value both users compare.
func (s *Session) Checksum() string { return s.checksum }

// Envelope is the JSON wire form of one encrypted frame.
type Envelope struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

// Seal encrypts plaintext under the next send counter.
func (s *Session) Seal(plaintext []byte) (Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce := counterNonce(s.send.NonceSize(), s.sendSeq)
	ct := s.send.Seal(nil, nonce, plaintext, nil)
	s.sendSeq++
	return Envelope{IV: crypto.B64(nonce), Ciphertext: crypto.B64(ct)}, nil
}

// Open authenticates and decrypts the next envelope from the peer. An
// envelope carrying any other counter fails with ErrOutOfOrder and leaves
// the expected counter unchanged.
func (s *Session) Open(env Envelope) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce, err := crypto.DecodeB64(env.IV)
	if err != nil || len(nonce) != s.recv.NonceSize() {
		return nil, fmt.Errorf("%w: bad iv", ErrOpen)
	}
	ct, err := crypto.DecodeB64(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrOpen)
	}
	pt, err := s.recv.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrOpen
	}
	want := counterNonce(s.recv.NonceSize(), s.recvSeq)
	if subtle.ConstantTimeCompare(nonce, want) != 1 {
		return nil, fmt.Errorf("%w: want frame %d", ErrOutOfOrder, s.recvSeq)
	}
	s.recvSeq++
	return pt, nil
}

// counterNonce is seq big-endian in the last eight bytes of a zero nonce.
func counterNonce(size int, seq uint64) []byte {
	nonce := make([]byte, size)
	binary.BigEndian.PutUint64(nonce[size-8:], seq)
	return nonce
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// formatChecksum renders 40 bits as three groups of four decimal digits,
// each in 1000..9191.
func formatChecksum(b []byte) string {
	var buf [8]byte
	copy(buf[3:], b)
	v := binary.BigEndian.Uint64(buf[:])
	a := (v>>27)&0x1fff + 1000
	c := (v>>14)&0x1fff + 1000
	d := (v>>1)&0x1fff + 1000
	return fmt.Sprintf("%04d-%04d-%04d", a, c, d)
}
