// Package store provides persistence for cipherlink's crypto state.
//
// The base layer is a transactional key/value store (KV) with two
// implementations: MemoryKV, and FileKV which keeps the same data sealed
// under a passphrase in a single file that is replaced atomically on every
// committed write. Typed repositories on top of a KV implement the domain
// storage interfaces:
//   - Account keys (AccountStore)
//   - Device identities (DeviceStore)
//   - Cross-signing keys (CrossSigningStore)
//   - Inbound and outbound Megolm sessions (InboundSessionStore, OutboundSessionStore)
//   - The key request table (RequestStore)
//   - Gossiped secrets (SecretStore)
//
// export.go implements the password-protected Megolm key export file format.
package store
