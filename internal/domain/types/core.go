package types

import "strings"

// UserID is a fully qualified user identifier, e.g. @alice:example.org.
type UserID string

// String returns the string form of the user id.
func (u UserID) String() string { return string(u) }

// DeviceID identifies one device of a user.
type DeviceID string

// String returns the string form of the device id.
func (d DeviceID) String() string { return string(d) }

// RoomID identifies a room, e.g. !abc:example.org.
type RoomID string

// String returns the string form of the room id.
func (r RoomID) String() string { return string(r) }

// SessionID identifies a Megolm session. It is the unpadded base64 of the
// session's Ed25519 public key.
type SessionID string

// String returns the string form of the session id.
func (s SessionID) String() string { return string(s) }

// Curve25519 is an unpadded base64 Curve25519 public key.
type Curve25519 string

// String returns the base64 form of the key.
func (k Curve25519) String() string { return string(k) }

// Ed25519 is an unpadded base64 Ed25519 public key.
type Ed25519 string

// String returns the base64 form of the key.
func (k Ed25519) String() string { return string(k) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// Algorithm names an encryption algorithm.
type Algorithm string

const (
	AlgorithmOlmV1    Algorithm = "m.olm.v1.curve25519-aes-sha2"
	AlgorithmMegolmV1 Algorithm = "m.megolm.v1.aes-sha2"
)

// KeyAlgorithm is the algorithm prefix of a key id.
type KeyAlgorithm string

const (
	KeyAlgorithmEd25519    KeyAlgorithm = "ed25519"
	KeyAlgorithmCurve25519 KeyAlgorithm = "curve25519"
)

// KeyID is "<algorithm>:<name>", e.g. ed25519:DEVICEID.
type KeyID string

// NewKeyID joins an algorithm and a key name.
func NewKeyID(algo KeyAlgorithm, name string) KeyID {
	return KeyID(string(algo) + ":" + name)
}

// Parse splits the key id into its algorithm and name.
func (k KeyID) Parse() (KeyAlgorithm, string) {
	algo, name, ok := strings.Cut(string(k), ":")
	if !ok {
		return "", string(k)
	}
	return KeyAlgorithm(algo), name
}

// String returns the string form of the key id.
func (k KeyID) String() string { return string(k) }

// Signatures is user id -> key id -> unpadded base64 signature.
type Signatures map[UserID]map[KeyID]string

// Get returns the signature made by (user, keyID).
func (s Signatures) Get(user UserID, keyID KeyID) (string, bool) {
	byKey, ok := s[user]
	if !ok {
		return "", false
	}
	sig, ok := byKey[keyID]
	return sig, ok
}

// Add records a signature made by (user, keyID).
func (s Signatures) Add(user UserID, keyID KeyID, sig string) {
	if s[user] == nil {
		s[user] = make(map[KeyID]string)
	}
	s[user][keyID] = sig
}

// Clone returns a deep copy.
func (s Signatures) Clone() Signatures {
	if s == nil {
		return nil
	}
	out := make(Signatures, len(s))
	for u, byKey := range s {
		m := make(map[KeyID]string, len(byKey))
		for k, v := range byKey {
			m[k] = v
		}
		out[u] = m
	}
	return out
}
