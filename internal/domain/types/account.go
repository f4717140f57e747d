package types

// Account holds this device's long-term identity keys.
type Account struct {
	UserID   UserID         `json:"user_id"`
	DeviceID DeviceID       `json:"device_id"`
	XPub     X25519Public   `json:"xpub"`
	XPriv    X25519Private  `json:"xpriv"`
	EdPub    Ed25519Public  `json:"edpub"`
	EdPriv   Ed25519Private `json:"edpriv"`
}
