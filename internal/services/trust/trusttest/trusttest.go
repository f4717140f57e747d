// Package trusttest builds signed users, devices and cross-signing keys for
// tests.
package trusttest

import (
	"testing"

	"cipherlink/internal/crypto"
	"cipherlink/internal/domain"
)

// KeyPair is an Ed25519 signing key.
type KeyPair struct {
	Priv domain.Ed25519Private
	Pub  domain.Ed25519Public
}

// Public returns the wire form of the public key.
func (k KeyPair) Public() domain.Ed25519 { return crypto.EncodeEd25519(k.Pub) }

// KeyID returns the cross-signing key id, ed25519:<public key>.
func (k KeyPair) KeyID() domain.KeyID {
	return domain.NewKeyID(domain.KeyAlgorithmEd25519, k.Public().String())
}

func newKeyPair(t testing.TB) KeyPair {
	t.Helper()
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate ed25519: %v", err)
	}
	return KeyPair{Priv: priv, Pub: pub}
}

func sign(t testing.TB, k KeyPair, obj any) string {
	t.Helper()
	sig, err := crypto.SignJSON(k.Priv, obj)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

// User holds a user's three cross-signing keys.
type User struct {
	ID          domain.UserID
	Master      KeyPair
	SelfSigning KeyPair
	UserSigning KeyPair
	t           testing.TB
}

// NewUser generates fresh cross-signing keys for id.
func NewUser(t testing.TB, id domain.UserID) *User {
	t.Helper()
	return &User{
		ID:          id,
		Master:      newKeyPair(t),
		SelfSigning: newKeyPair(t),
		UserSigning: newKeyPair(t),
		t:           t,
	}
}

func (u *User) key(usage domain.KeyUsage, k KeyPair) domain.CrossSigningKey {
	return domain.CrossSigningKey{
		UserID: u.ID,
		Usage:  []domain.KeyUsage{usage},
		Keys:   map[domain.KeyID]string{k.KeyID(): k.Public().String()},
	}
}

// MasterKey returns the unsigned master key.
func (u *User) MasterKey() domain.CrossSigningKey { return u.key(domain.UsageMaster, u.Master) }

// SelfSigningKey returns the self-signing key signed by the master key.
func (u *User) SelfSigningKey() domain.CrossSigningKey {
	return u.signedByMaster(u.key(domain.UsageSelfSigning, u.SelfSigning))
}

// UserSigningKey returns the user-signing key signed by the master key.
func (u *User) UserSigningKey() domain.CrossSigningKey {
	return u.signedByMaster(u.key(domain.UsageUserSigning, u.UserSigning))
}

func (u *User) signedByMaster(k domain.CrossSigningKey) domain.CrossSigningKey {
	k.Signatures = domain.Signatures{}
	k.Signatures.Add(u.ID, u.Master.KeyID(), sign(u.t, u.Master, &k))
	return k
}

// SignMasterOf returns u's user-signing signature over other's master key.
func (u *User) SignMasterOf(other *User) string {
	mk := other.MasterKey()
	return sign(u.t, u.UserSigning, &mk)
}

// Device is one device of a User.
type Device struct {
	User     *User
	ID       domain.DeviceID
	Signing  KeyPair
	Identity domain.Curve25519
}

// NewDevice generates keys for a device of u.
func (u *User) NewDevice(id domain.DeviceID) *Device {
	_, xpub, err := crypto.GenerateX25519()
	if err != nil {
		u.t.Fatalf("generate x25519: %v", err)
	}
	return &Device{User: u, ID: id, Signing: newKeyPair(u.t), Identity: crypto.EncodeCurve25519(xpub)}
}

// SigningKey returns the device fingerprint key.
func (d *Device) SigningKey() domain.Ed25519 { return d.Signing.Public() }

// Keys returns the self-signed device key upload, additionally signed by
// the user's self-signing key when crossSigned is set.
func (d *Device) Keys(crossSigned bool) domain.DeviceKeysJSON {
	k := domain.DeviceKeysJSON{
		UserID:     d.User.ID,
		DeviceID:   d.ID,
		Algorithms: []domain.Algorithm{domain.AlgorithmOlmV1, domain.AlgorithmMegolmV1},
		Keys: map[domain.KeyID]string{
			domain.NewKeyID(domain.KeyAlgorithmEd25519, d.ID.String()):    d.Signing.Public().String(),
			domain.NewKeyID(domain.KeyAlgorithmCurve25519, d.ID.String()): d.Identity.String(),
		},
	}
	k.Signatures = domain.Signatures{}
	self := sign(d.User.t, d.Signing, k)
	var cross string
	if crossSigned {
		cross = sign(d.User.t, d.User.SelfSigning, k)
	}
	k.Signatures.Add(d.User.ID, domain.NewKeyID(domain.KeyAlgorithmEd25519, d.ID.String()), self)
	if crossSigned {
		k.Signatures.Add(d.User.ID, d.User.SelfSigning.KeyID(), cross)
	}
	return k
}

// KeysQuery builds a keys/query response carrying u's cross-signing keys
// and the given devices.
func (u *User) KeysQuery(crossSigned bool, devices ...*Device) *domain.KeysQueryResponse {
	resp := &domain.KeysQueryResponse{
		DeviceKeys:      map[domain.UserID]map[domain.DeviceID]domain.DeviceKeysJSON{u.ID: {}},
		MasterKeys:      map[domain.UserID]domain.CrossSigningKey{u.ID: u.MasterKey()},
		SelfSigningKeys: map[domain.UserID]domain.CrossSigningKey{u.ID: u.SelfSigningKey()},
		UserSigningKeys: map[domain.UserID]domain.CrossSigningKey{u.ID: u.UserSigningKey()},
	}
	for _, d := range devices {
		resp.DeviceKeys[u.ID][d.ID] = d.Keys(crossSigned)
	}
	return resp
}
