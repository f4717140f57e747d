// Package account manages creation, sealing and loading of this device's
// identity.
//
// It enforces passphrase policy, generates the Curve25519 identity key and
// the Ed25519 fingerprint key, and persists them via the domain.AccountStore.
package account
