package types

// Device is one device identity of a user as published by its key upload.
// Identity is (UserID, DeviceID).
type Device struct {
	UserID      UserID           `json:"user_id"`
	DeviceID    DeviceID         `json:"device_id"`
	Algorithms  []Algorithm      `json:"algorithms"`
	Keys        map[KeyID]string `json:"keys"`
	Signatures  Signatures       `json:"signatures,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	Trust       TrustLevel       `json:"trust"`
	Blocked     bool             `json:"blocked,omitempty"`
}

// SigningKey returns the device's Ed25519 fingerprint key.
func (d *Device) SigningKey() Ed25519 {
	return Ed25519(d.Keys[NewKeyID(KeyAlgorithmEd25519, d.DeviceID.String())])
}

// IdentityKey returns the device's Curve25519 identity key.
func (d *Device) IdentityKey() Curve25519 {
	return Curve25519(d.Keys[NewKeyID(KeyAlgorithmCurve25519, d.DeviceID.String())])
}

// SameKeys reports whether both records carry identical key material.
func (d *Device) SameKeys(other *Device) bool {
	if len(d.Keys) != len(other.Keys) {
		return false
	}
	for id, k := range d.Keys {
		if other.Keys[id] != k {
			return false
		}
	}
	return true
}

// DeviceKeysJSON is the signable body of a device key upload.
type DeviceKeysJSON struct {
	UserID     UserID           `json:"user_id"`
	DeviceID   DeviceID         `json:"device_id"`
	Algorithms []Algorithm      `json:"algorithms"`
	Keys       map[KeyID]string `json:"keys"`
	Signatures Signatures       `json:"signatures,omitempty"`
	Unsigned   map[string]any   `json:"unsigned,omitempty"`
}

// Device converts the wire body to a Device with unset trust.
func (k DeviceKeysJSON) Device() *Device {
	d := &Device{
		UserID:     k.UserID,
		DeviceID:   k.DeviceID,
		Algorithms: append([]Algorithm(nil), k.Algorithms...),
		Keys:       make(map[KeyID]string, len(k.Keys)),
		Signatures: k.Signatures.Clone(),
	}
	for id, v := range k.Keys {
		d.Keys[id] = v
	}
	if name, ok := k.Unsigned["device_display_name"].(string); ok {
		d.DisplayName = name
	}
	return d
}

// Signable returns the wire body used for signature checks.
func (d *Device) Signable() DeviceKeysJSON {
	return DeviceKeysJSON{
		UserID:     d.UserID,
		DeviceID:   d.DeviceID,
		Algorithms: d.Algorithms,
		Keys:       d.Keys,
		Signatures: d.Signatures,
	}
}
