// Package trust is the trust store: device identities, cross-signing keys and
// the rules that derive whether a device is verified.
//
// Cross-signing trust is recomputed from signatures on every read. Only the
// manual flags (a device's LocallyVerified, a master key's LocallyVerified)
// and the blocked flag are persisted as ground truth.
package trust
