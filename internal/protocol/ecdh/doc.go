// Package ecdh implements the key agreement and framing of the rendezvous
// secure channel.
//
// Both sides hold an ephemeral X25519 key. The code creator publishes its
// public key inside the scanned code; the scanner answers with its own.
// HKDF-SHA256 over the shared secret, bound to both public keys, yields one
// AES-256-GCM key per direction plus a short checksum that both users compare
// out of band to detect a relay substituting keys.
package ecdh
