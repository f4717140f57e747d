package types

// KeyUsage is the role of a cross-signing key.
type KeyUsage string

const (
	UsageMaster      KeyUsage = "master"
	UsageSelfSigning KeyUsage = "self_signing"
	UsageUserSigning KeyUsage = "user_signing"
)

// CrossSigningKey is one of a user's master, self-signing or user-signing
// keys. Exactly one key per usage per user is authoritative at a time.
type CrossSigningKey struct {
	UserID     UserID           `json:"user_id"`
	Usage      []KeyUsage       `json:"usage"`
	Keys       map[KeyID]string `json:"keys"`
	Signatures Signatures       `json:"signatures,omitempty"`
	Trust      TrustLevel       `json:"-"`
}

// PrimaryUsage returns the first declared usage.
func (k *CrossSigningKey) PrimaryUsage() KeyUsage {
	if len(k.Usage) == 0 {
		return ""
	}
	return k.Usage[0]
}

// HasUsage reports whether usage is declared.
func (k *CrossSigningKey) HasUsage(usage KeyUsage) bool {
	for _, u := range k.Usage {
		if u == usage {
			return true
		}
	}
	return false
}

// PublicKey returns the single Ed25519 key and its key id.
func (k *CrossSigningKey) PublicKey() (KeyID, Ed25519) {
	for id, v := range k.Keys {
		if algo, _ := id.Parse(); algo == KeyAlgorithmEd25519 {
			return id, Ed25519(v)
		}
	}
	return "", ""
}

// CrossSigningRecord is the stored form of a cross-signing key, including
// the manual verification flag.
type CrossSigningRecord struct {
	Key             CrossSigningKey `json:"key"`
	LocallyVerified bool            `json:"locally_verified"`
}

// CrossSigningKeys groups a user's authoritative keys.
type CrossSigningKeys struct {
	Master      *CrossSigningKey
	SelfSigning *CrossSigningKey
	UserSigning *CrossSigningKey
}
