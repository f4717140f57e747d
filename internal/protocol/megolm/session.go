package megolm

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"cipherlink/internal/crypto"
	"cipherlink/internal/domain"
)

const (
	sessionKeyVersion = 0x02
	exportVersion     = 0x01
	pickleVersion     = 0x01

	exportLength     = 1 + 4 + ratchetLength + ed25519.PublicKeySize
	sessionKeyLength = exportLength + signatureSize
	pickleLength     = 1 + 4 + ratchetLength + ed25519.PrivateKeySize
)

var (
	ErrBadSessionKey = errors.New("megolm: bad session key")
	ErrBadPickle     = errors.New("megolm: bad outbound pickle")
)

// Outbound is the sending half of a group session.
type Outbound struct {
	r    ratchet
	priv domain.Ed25519Private
	pub  domain.Ed25519Public
}

// NewOutbound creates a session with a random ratchet and signing key.
func NewOutbound() (*Outbound, error) {
	o := &Outbound{}
	if _, err := rand.Read(o.r.data[:]); err != nil {
		return nil, err
	}
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	o.priv, o.pub = priv, pub
	return o, nil
}

// ID returns the session id.
func (o *Outbound) ID() domain.SessionID {
	return domain.SessionID(crypto.B64(o.pub[:]))
}

// MessageIndex is the index the next message will use.
func (o *Outbound) MessageIndex() uint32 { return o.r.counter }

// SessionKey returns the signed sharing form of the current ratchet.
func (o *Outbound) SessionKey() string {
	out := encodeRatchet(sessionKeyVersion, &o.r, o.pub)
	out = append(out, crypto.SignEd25519(o.priv, out)...)
	return crypto.B64(out)
}

// Encrypt encrypts plaintext at the current index and advances the ratchet.
func (o *Outbound) Encrypt(plaintext []byte) (string, error) {
	body, err := seal(&o.r, plaintext)
	if err != nil {
		return "", err
	}
	body = append(body, crypto.SignEd25519(o.priv, body)...)
	o.r.advance()
	return crypto.B64(body), nil
}

// Pickle serialises the full outbound state, including the private key.
func (o *Outbound) Pickle() string {
	out := make([]byte, 0, pickleLength)
	out = append(out, pickleVersion)
	out = binary.BigEndian.AppendUint32(out, o.r.counter)
	out = append(out, o.r.data[:]...)
	out = append(out, o.priv[:]...)
	return crypto.B64(out)
}

// UnpickleOutbound restores a session written by Pickle.
func UnpickleOutbound(pickle string) (*Outbound, error) {
	raw, err := crypto.DecodeB64(pickle)
	if err != nil || len(raw) != pickleLength || raw[0] != pickleVersion {
		return nil, ErrBadPickle
	}
	o := &Outbound{}
	o.r.counter = binary.BigEndian.Uint32(raw[1:5])
	copy(o.r.data[:], raw[5:5+ratchetLength])
	copy(o.priv[:], raw[5+ratchetLength:])
	copy(o.pub[:], ed25519.PrivateKey(o.priv[:]).Public().(ed25519.PublicKey))
	return o, nil
}

// Inbound is the receiving half of a group session. It keeps the ratchet at
// the first index it knows and derives later keys on demand.
type Inbound struct {
	initial ratchet
	pub     domain.Ed25519Public
	// signed is true when the key came with a valid session signature.
	signed bool
}

// NewInbound parses the signed sharing form produced by Outbound.SessionKey.
func NewInbound(sessionKey string) (*Inbound, error) {
	raw, err := crypto.DecodeB64(sessionKey)
	if err != nil || len(raw) != sessionKeyLength || raw[0] != sessionKeyVersion {
		return nil, ErrBadSessionKey
	}
	in, err := decodeRatchet(raw[:exportLength])
	if err != nil {
		return nil, err
	}
	if !crypto.VerifyEd25519(in.pub, raw[:exportLength], raw[exportLength:]) {
		return nil, fmt.Errorf("%w: signature", ErrBadSessionKey)
	}
	in.signed = true
	return in, nil
}

// ImportInbound parses the unsigned export form produced by Inbound.Export.
func ImportInbound(exported string) (*Inbound, error) {
	raw, err := crypto.DecodeB64(exported)
	if err != nil || len(raw) != exportLength || raw[0] != exportVersion {
		return nil, ErrBadSessionKey
	}
	return decodeRatchet(raw)
}

// ID returns the session id.
func (in *Inbound) ID() domain.SessionID {
	return domain.SessionID(crypto.B64(in.pub[:]))
}

// FirstKnownIndex is the earliest index this session can decrypt.
func (in *Inbound) FirstKnownIndex() uint32 { return in.initial.counter }

// Signed reports whether the session key carried a valid signature.
func (in *Inbound) Signed() bool { return in.signed }

// Export returns the unsigned export form of the ratchet at index.
func (in *Inbound) Export(index uint32) (string, error) {
	if index < in.initial.counter {
		return "", ErrUnknownIndex
	}
	r := in.initial
	r.advanceTo(index)
	return crypto.B64(encodeRatchet(exportVersion, &r, in.pub)), nil
}

// Decrypt verifies and decrypts a message, returning its plaintext and index.
func (in *Inbound) Decrypt(ciphertext string) ([]byte, uint32, error) {
	raw, err := crypto.DecodeB64(ciphertext)
	if err != nil {
		return nil, 0, ErrBadMessageFormat
	}
	msg, payload, mac, sig, err := decodeMessage(raw)
	if err != nil {
		return nil, 0, err
	}
	signed := raw[:len(raw)-signatureSize]
	if !crypto.VerifyEd25519(in.pub, signed, sig) {
		return nil, 0, ErrBadSignature
	}
	if msg.index < in.initial.counter {
		return nil, msg.index, ErrUnknownIndex
	}
	r := in.initial
	r.advanceTo(msg.index)
	pt, err := open(&r, msg, payload, mac)
	if err != nil {
		return nil, msg.index, err
	}
	return pt, msg.index, nil
}

func encodeRatchet(version byte, r *ratchet, pub domain.Ed25519Public) []byte {
	out := make([]byte, 0, sessionKeyLength)
	out = append(out, version)
	out = binary.BigEndian.AppendUint32(out, r.counter)
	out = append(out, r.data[:]...)
	return append(out, pub[:]...)
}

func decodeRatchet(raw []byte) (*Inbound, error) {
	if len(raw) != exportLength {
		return nil, ErrBadSessionKey
	}
	in := &Inbound{}
	in.initial.counter = binary.BigEndian.Uint32(raw[1:5])
	copy(in.initial.data[:], raw[5:5+ratchetLength])
	copy(in.pub[:], raw[5+ratchetLength:])
	return in, nil
}
