// Package crypto exposes the primitives shared by the trust and session code.
//
// Contents
//
//   - Ed25519 key generation, signing and verification over raw bytes and
//     over canonical JSON (GenerateEd25519, SignEd25519, SignJSON, VerifyJSON)
//   - Curve25519 identity key generation (GenerateX25519)
//   - Canonical JSON encoding used for every signed object (CanonicalJSON)
//   - Unpadded base64 helpers matching the wire format (B64, DecodeB64)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Fixed-size keys use the array types defined in internal/domain to avoid
// accidental reallocations. Keys on the wire are unpadded standard base64.
package crypto
