package trust

import (
	"fmt"

	"cipherlink/internal/crypto"
	"cipherlink/internal/domain"
)

// verifySignedBy checks that sigs holds a valid signature by signer's key
// over obj.
func verifySignedBy(obj any, sigs domain.Signatures, signer domain.UserID, key *domain.CrossSigningKey) error {
	keyID, pub := key.PublicKey()
	if keyID == "" {
		return ErrInvalidCrossSigningKey
	}
	sig, ok := sigs.Get(signer, keyID)
	if !ok {
		return fmt.Errorf("%w: by %s", ErrMissingSignature, keyID)
	}
	if err := crypto.VerifyJSON(pub, sig, obj); err != nil {
		return fmt.Errorf("%w: by %s", ErrSignatureMismatch, keyID)
	}
	return nil
}

func validateDevice(d *domain.Device) error {
	if d.UserID == "" || d.DeviceID == "" {
		return fmt.Errorf("%w: missing user or device id", ErrInvalidDeviceKeys)
	}
	var ed, curve int
	for id := range d.Keys {
		algo, name := id.Parse()
		switch algo {
		case domain.KeyAlgorithmEd25519:
			ed++
		case domain.KeyAlgorithmCurve25519:
			curve++
		default:
			continue
		}
		if name != d.DeviceID.String() {
			return fmt.Errorf("%w: key %s does not belong to %s", ErrInvalidDeviceKeys, id, d.DeviceID)
		}
	}
	if ed != 1 || curve > 1 {
		return fmt.Errorf("%w: want one ed25519 and at most one curve25519 key", ErrInvalidDeviceKeys)
	}
	if _, err := crypto.ParseEd25519(d.SigningKey()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDeviceKeys, err)
	}

	keyID := domain.NewKeyID(domain.KeyAlgorithmEd25519, d.DeviceID.String())
	sig, ok := d.Signatures.Get(d.UserID, keyID)
	if !ok {
		return fmt.Errorf("%w: device %s is not self-signed", ErrMissingSignature, d.DeviceID)
	}
	if err := crypto.VerifyJSON(d.SigningKey(), sig, d.Signable()); err != nil {
		return fmt.Errorf("%w: device %s self-signature", ErrSignatureMismatch, d.DeviceID)
	}
	return nil
}

func validateCrossSigningKey(k *domain.CrossSigningKey) error {
	if k.UserID == "" || len(k.Usage) == 0 {
		return fmt.Errorf("%w: missing user or usage", ErrInvalidCrossSigningKey)
	}
	switch k.PrimaryUsage() {
	case domain.UsageMaster, domain.UsageSelfSigning, domain.UsageUserSigning:
	default:
		return fmt.Errorf("%w: unknown usage %q", ErrInvalidCrossSigningKey, k.PrimaryUsage())
	}
	if len(k.Keys) != 1 {
		return fmt.Errorf("%w: want exactly one key", ErrInvalidCrossSigningKey)
	}
	_, pub := k.PublicKey()
	if _, err := crypto.ParseEd25519(pub); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCrossSigningKey, err)
	}
	return nil
}

func mergeSignatures(a, b domain.Signatures) domain.Signatures {
	out := a.Clone()
	if out == nil {
		out = domain.Signatures{}
	}
	for user, byKey := range b {
		for id, sig := range byKey {
			out.Add(user, id, sig)
		}
	}
	return out
}
