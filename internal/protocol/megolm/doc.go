// Package megolm implements the group ratchet used for room messages.
//
// A session is a 128-byte ratchet split into four 32-byte parts plus an
// Ed25519 signing key. Advancing the ratchet rehashes the parts with
// HMAC-SHA256 so that part i changes every 2^(8*(3-i)) messages; this lets a
// receiver jump forward to any index cheaply while never being able to go
// back. Each message key is HKDF-SHA256(ratchet, "MEGOLM_KEYS") split into an
// AES-256-CBC key, an HMAC-SHA256 key and an IV. Messages are MACed
// (truncated to 8 bytes) and then signed with the session's Ed25519 key.
//
// Concurrency: Outbound and Inbound are NOT safe for concurrent use. Callers
// must serialise access per session.
package megolm
